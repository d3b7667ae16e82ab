// H1 Euler Step Convergence Sweep
//
// Hypothesis: the kernel integrates with forward Euler, so for dv = -v the
// error of v(T) against exp(-T) should halve each time the base step halves.
//
// Method:
//  1. Build a one-compartment model with v(0)=1 and dv = -v.
//  2. Run it to --duration at each step in --steps.
//  3. Write step, bucket passes, v(T), absolute error and the error ratio to
//     the previous step as CSV.
//
// Usage: go run step_sweep.go --output-dir <dir> --steps 0.1,0.05,0.025
package main

import (
	"flag"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/popsim/popsim/sim"
	"github.com/popsim/popsim/sim/model"
)

type row struct {
	Step   float64 `csv:"step"`
	Passes int64   `csv:"passes"`
	Final  float64 `csv:"final"`
	Error  float64 `csv:"abs_error"`
	Ratio  float64 `csv:"error_ratio"`
}

func decayModel(step, duration float64) (*model.Model, *model.Variable) {
	cell := &model.EquationSet{Name: "cell", Singleton: true}
	v := &model.Variable{Name: "v", Stored: true, InitEval: model.Const(1), Default: 1}
	dv := &model.Variable{Name: "dv", Stored: true, Eval: model.Linear(v, -1, 0)}
	v.Derivative = dv
	cell.Local = []*model.Variable{v, dv}
	return &model.Model{Name: "decay", Step: step, Duration: duration, Parts: []*model.EquationSet{cell}}, v
}

func parseSteps(s string) ([]float64, error) {
	var out []float64
	for _, f := range strings.Split(s, ",") {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, nil
}

func main() {
	outputDir := flag.String("output-dir", ".", "Output directory for the CSV file")
	stepList := flag.String("steps", "0.1,0.05,0.025,0.0125,0.00625", "Comma-separated base steps")
	duration := flag.Float64("duration", 1, "Simulated seconds")
	flag.Parse()

	steps, err := parseSteps(*stepList)
	if err != nil {
		log.Fatalf("bad --steps: %v", err)
	}

	exact := math.Exp(-*duration)
	var rows []*row
	for i, step := range steps {
		m, v := decayModel(step, *duration)
		s, err := sim.NewSimulator(m, sim.Config{})
		if err != nil {
			log.Fatalf("step %g: %v", step, err)
		}
		if err := s.Run(); err != nil {
			log.Fatalf("step %g: %v", step, err)
		}
		final := s.Populations()[0].At(0).Get(v)
		r := &row{Step: step, Passes: s.BucketPasses, Final: final, Error: math.Abs(final - exact)}
		if i > 0 && r.Error > 0 {
			r.Ratio = rows[i-1].Error / r.Error
		}
		rows = append(rows, r)
		log.Printf("step=%g passes=%d v(T)=%.8f err=%.3e", step, r.Passes, final, r.Error)
	}

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(filepath.Join(*outputDir, "step_convergence.csv"))
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		log.Fatal(err)
	}
}
