package trace

import "math"

// VariableSummary aggregates the values recorded for one variable name.
type VariableSummary struct {
	Count int
	Min   float64
	Max   float64
	Mean  float64
}

// Summary aggregates statistics over a trace stream.
type Summary struct {
	Rows      int
	FirstTime float64
	LastTime  float64
	Variables map[string]*VariableSummary // variable name → stats across entities
	entities  map[string]bool
}

func newSummary() *Summary {
	return &Summary{
		Variables: make(map[string]*VariableSummary),
		entities:  make(map[string]bool),
	}
}

// Summarize computes a Summary from records.
// Safe for nil or empty input (returns zero-value fields).
func Summarize(records []Record) *Summary {
	s := newSummary()
	for _, r := range records {
		s.add(r)
	}
	return s
}

// UniqueEntities returns the number of distinct entity labels seen.
func (s *Summary) UniqueEntities() int { return len(s.entities) }

func (s *Summary) add(r Record) {
	if s.Rows == 0 {
		s.FirstTime = r.Time
	}
	s.Rows++
	s.LastTime = r.Time
	s.entities[r.Entity] = true

	v := s.Variables[r.Variable]
	if v == nil {
		v = &VariableSummary{Min: math.Inf(1), Max: math.Inf(-1)}
		s.Variables[r.Variable] = v
	}
	v.Count++
	v.Min = min(v.Min, r.Value)
	v.Max = max(v.Max, r.Value)
	v.Mean += (r.Value - v.Mean) / float64(v.Count)
}
