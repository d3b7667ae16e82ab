package sim

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/popsim/popsim/sim/internal/testutil"
	"github.com/popsim/popsim/sim/model"
)

// bipartite returns A(3), B(3) and a connection C over them with probability p.
func bipartite(p float64) (*model.Model, *model.EquationSet) {
	a := testutil.Compartment("A", 3)
	b := testutil.Compartment("B", 3)
	c := testutil.Connection("C", a, b, p)
	return testutil.NewModel("bipartite", 0.1, 0.3, a, b, c), c
}

func TestConnect_Probability(t *testing.T) {
	tests := []struct {
		name string
		p    float64
		want int
	}{
		{"always", 1, 9},
		{"never", 0, 0},
		{"above one saturates", 2, 9},
		{"negative never", -1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN two populations of three and a connection type with fixed probability
			m, _ := bipartite(tt.p)

			// WHEN the network is constructed
			s, err := ConstructNetwork(m, Config{})
			require.NoError(t, err)

			// THEN the connection count follows the probability
			counts, err := s.Counts()
			require.NoError(t, err)
			assert.Equal(t, tt.want, counts["C"])
		})
	}
}

func TestConnect_RejectedCandidateIsKept(t *testing.T) {
	// GIVEN a connection type that never accepts
	m, _ := bipartite(0)

	// WHEN the network is constructed
	s := mustInit(t, m)

	// THEN one rejected instance is held for reuse and nothing was inserted
	c := population(t, s, "C")
	require.NotNil(t, c.candidate)
	assert.Equal(t, -1, c.candidate.Index())
	assert.Equal(t, 0, c.Count())
}

func TestConnect_EveryTupleOnce(t *testing.T) {
	// GIVEN the bipartite model
	s := mustInit(t, testutil.LoadModel(t, "bipartite.yaml"))
	c := population(t, s, "C")

	// WHEN inspecting the formed connections
	seen := make(map[string]bool)
	for _, m := range c.Members() {
		key := tupleKey(m.Endpoints())
		assert.False(t, seen[key], "duplicate tuple %s", key)
		seen[key] = true
	}

	// THEN all nine pairs exist once
	assert.Len(t, seen, 9)
}

func TestConnect_MaxCapsEndpoint(t *testing.T) {
	// GIVEN a connection where each B accepts at most one connection
	m, c := bipartite(1)
	c.Bindings[1].Max = 1

	// WHEN the network is constructed
	s := mustInit(t, m)

	// THEN every B holds exactly one connection
	assert.Equal(t, 3, population(t, s, "C").Count())
	slot := c.Bindings[1].CountSlot()
	for _, b := range population(t, s, "B").Members() {
		assert.Equal(t, 1.0, b.Storage().Floats[slot])
	}
}

func TestConnect_MinForcesCreation(t *testing.T) {
	// GIVEN a connection that never accepts by probability but needs two per A
	m, c := bipartite(0)
	c.Bindings[0].Min = 2

	// WHEN the network is constructed
	s := mustInit(t, m)

	// THEN each A was forced up to its minimum
	assert.Equal(t, 6, population(t, s, "C").Count())
	slot := c.Bindings[0].CountSlot()
	for _, a := range population(t, s, "A").Members() {
		assert.Equal(t, 2.0, a.Storage().Floats[slot])
	}
}

func TestConnect_Growth_OnlyNewbornTuples(t *testing.T) {
	// GIVEN a fully connected bipartite network
	s := mustInit(t, testutil.LoadModel(t, "bipartite.yaml"))
	a := population(t, s, "A")
	c := population(t, s, "C")
	require.Equal(t, 9, c.Count())

	// WHEN A gains a member and deferred work is drained
	a.Resize(4)
	s.updatePopulations()

	// THEN only the three tuples involving the newcomer were formed
	assert.Equal(t, 12, c.Count())
	withNew := 0
	for _, m := range c.Members() {
		if m.Endpoints()[0].Index() == 3 {
			withNew++
		}
	}
	assert.Equal(t, 3, withNew)
}

func TestConnect_NewOnly_DoesNotRestoreLostConnection(t *testing.T) {
	// GIVEN a new-only connection type where one connection dies
	m, _ := bipartite(1)
	s := mustInit(t, m)
	c := population(t, s, "C")
	c.At(0).die()

	// WHEN stepping
	require.NoError(t, s.Run())

	// THEN the missing tuple stays missing
	assert.Equal(t, 8, c.Count())
}

func TestConnect_PollEveryPass_RestoresWithoutDuplicates(t *testing.T) {
	// GIVEN a connection type that re-polls every pass, with one connection lost
	m, conn := bipartite(1)
	conn.Poll = 0
	s := mustInit(t, m)
	c := population(t, s, "C")
	c.At(0).die()
	require.Equal(t, 8, c.Count())

	// WHEN stepping
	require.NoError(t, s.Run())

	// THEN the lost tuple is restored and nothing is duplicated
	assert.Equal(t, 9, c.Count())
	seen := make(map[string]bool)
	for _, m := range c.Members() {
		seen[tupleKey(m.Endpoints())] = true
	}
	assert.Len(t, seen, 9)
}

func TestConnect_PollAll_RecycledIndexIsConnected(t *testing.T) {
	// GIVEN A(3) x B(1) re-polled every pass
	a := testutil.Compartment("A", 3)
	b := testutil.Compartment("B", 1)
	conn := testutil.Connection("C", a, b, 1)
	conn.Poll = 0
	s := mustInit(t, testutil.NewModel("recycle", 0.1, 0.3, a, b, conn))
	pa := population(t, s, "A")
	c := population(t, s, "C")
	require.Equal(t, 3, c.Count())
	old := pa.At(2)

	// WHEN A[2] dies and a fresh member reuses its index before the old
	// connection's finish has run
	old.die()
	pa.Resize(3)
	fresh := pa.At(2)
	require.NotSame(t, old, fresh)
	c.pollAll = true
	c.connect()

	// THEN the fresh member gets its own connection
	connected := 0
	for _, m := range c.Members() {
		if m.Endpoints()[0] == fresh {
			connected++
		}
	}
	assert.Equal(t, 1, connected)
}

func TestConnect_Spatial_NearestNeighbor(t *testing.T) {
	// GIVEN two layers offset by a quarter spacing and k=1 on the post side
	s := mustInit(t, testutil.LoadModel(t, "network.yaml"))

	// WHEN the network is constructed
	counts, err := s.Counts()
	require.NoError(t, err)

	// THEN each pre connects to the post directly beside it
	assert.Equal(t, 1, counts["layer"])
	assert.Equal(t, 4, counts["layer.pre"])
	assert.Equal(t, 4, counts["layer.post"])
	require.Equal(t, 4, counts["layer.syn"])

	layer := population(t, s, "layer").At(0)
	var syn *Population
	for _, p := range layer.Children() {
		if p.Name() == "layer.syn" {
			syn = p
		}
	}
	require.NotNil(t, syn)
	for _, m := range syn.Members() {
		ep := m.Endpoints()
		assert.Equal(t, ep[0].Index(), ep[1].Index())
	}
}

func TestConnect_Spatial_Radius(t *testing.T) {
	// GIVEN the layered network with a radius of one instead of k=1
	data, err := readModel(t, "network.yaml")
	require.NoError(t, err)
	data = strings.Replace(data, "k: 1", "radius: 1.0", 1)
	m, err := model.ParseModel([]byte(data))
	require.NoError(t, err)

	// WHEN the network is constructed
	s := mustInit(t, m)

	// THEN each pre reaches the post ahead (0.25) and, past the first, the one behind (0.75)
	counts, err := s.Counts()
	require.NoError(t, err)
	assert.Equal(t, 7, counts["layer.syn"])
}

func TestConnect_SpatialWithoutPosition_Fails(t *testing.T) {
	// GIVEN a nearest-neighbor binding on a part that has no position
	m, c := bipartite(1)
	c.Bindings[1].K = 1

	// WHEN the network is constructed
	_, err := ConstructNetwork(m, Config{})

	// THEN Init reports the structure error
	var se *StructureError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Contains(t, se.Reason, "has no position")
}

func TestConnect_Matrix(t *testing.T) {
	// GIVEN a connection declared by an adjacency matrix with a value variable
	m, c := bipartite(0)
	w := &model.Variable{Name: "w", Stored: true}
	c.Local = append(c.Local, w)
	c.Matrix = &model.ConnectionMatrix{
		Matrix: model.NewSparseMatrix(mat.NewDense(3, 3, []float64{
			1, 0, 0,
			0, 0, 2,
			0, 0, 0,
		})),
		Value: w,
	}

	// WHEN the network is constructed
	s := mustInit(t, m)
	conns := population(t, s, "C").Members()

	// THEN exactly the non-zero entries are connected, ignoring $p, with the entry as w
	require.Len(t, conns, 2)
	assert.Equal(t, []int{0, 0}, []int{conns[0].Endpoints()[0].Index(), conns[0].Endpoints()[1].Index()})
	assert.Equal(t, 1.0, conns[0].Get(w))
	assert.Equal(t, []int{1, 2}, []int{conns[1].Endpoints()[0].Index(), conns[1].Endpoints()[1].Index()})
	assert.Equal(t, 2.0, conns[1].Get(w))
}

func TestConnect_SameSeed_SameTopology(t *testing.T) {
	build := func() []string {
		m, _ := bipartite(0.5)
		s := mustInit(t, m)
		var keys []string
		for _, c := range population(t, s, "C").Members() {
			keys = append(keys, tupleKey(c.Endpoints()))
		}
		return keys
	}

	// GIVEN two identical models with a random creation probability
	// WHEN each is constructed with the same seed
	first, second := build(), build()

	// THEN they produce identical tuples
	assert.Equal(t, first, second)
}
