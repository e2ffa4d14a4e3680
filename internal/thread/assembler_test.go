package thread

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentic-research/rethread/internal/cache"
	"github.com/agentic-research/rethread/internal/graph"
	"github.com/agentic-research/rethread/internal/kvstore"
	"github.com/agentic-research/rethread/internal/walk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	capA      graph.Name = 1
	capA2     graph.Name = 2
	capB      graph.Name = 3
	capC      graph.Name = 4
	segS1     graph.Name = 10
	leafGroup graph.Name = 100
	deepGroup graph.Name = 101
	leafEnd   graph.Name = 200
	deepEnd   graph.Name = 201
)

// chain builds
//
//	A(0) -> A'(1) =S1= B(5) -> C(9)
//
// B sits in a leaf group when leaf is set and in a nested group otherwise.
func chain(t *testing.T, leaf bool) *graph.MemoryGraph {
	t.Helper()
	g := graph.NewMemoryGraph()
	g.AddGroup(leafGroup, true)
	g.AddGroup(deepGroup, false)
	g.AddEnd(leafEnd, leafGroup)
	g.AddEnd(deepEnd, deepGroup)

	endOfB := deepEnd
	if leaf {
		endOfB = leafEnd
	}
	g.AddCap(capA, 0, leafEnd)
	g.AddCap(capA2, 1, leafEnd)
	g.AddCap(capB, 5, endOfB)
	g.AddCap(capC, 9, leafEnd)
	require.NoError(t, g.Link(capA, capA2))
	require.NoError(t, g.Link(capB, capC))
	require.NoError(t, g.AddSegment(segS1, capA2, capB))
	g.AddRoot(capA)
	require.NoError(t, g.Validate())
	return g
}

func formatter() FormatFuncs {
	return FormatFuncs{
		Segment: func(graph.Name) ([]byte, error) { return []byte("ACGT"), nil },
		TerminalGap: func(graph.Name) ([]byte, error) {
			return []byte("NNN"), nil
		},
	}
}

func seeded(t *testing.T, records ...kvstore.Record) *kvstore.MemoryStore {
	t.Helper()
	s := kvstore.NewMemoryStore()
	require.NoError(t, s.BulkSet(context.Background(), records))
	return s
}

func listNames(t *testing.T, s kvstore.Lister) []graph.Name {
	t.Helper()
	names, err := s.List(context.Background())
	require.NoError(t, err)
	return names
}

func getData(t *testing.T, s kvstore.Store, name graph.Name) string {
	t.Helper()
	got, err := s.BulkGet(context.Background(), []graph.Name{name})
	require.NoError(t, err)
	return string(got[0].Data)
}

// countingStore counts bulk calls and can drop records from get results.
type countingStore struct {
	kvstore.Store
	gets, sets, removes int
	short               bool
}

func (s *countingStore) BulkGet(ctx context.Context, names []graph.Name) ([]kvstore.Record, error) {
	s.gets++
	records, err := s.Store.BulkGet(ctx, names)
	if s.short && len(records) > 0 {
		records = records[:len(records)-1]
	}
	return records, err
}

func (s *countingStore) BulkSet(ctx context.Context, records []kvstore.Record) error {
	s.sets++
	return s.Store.BulkSet(ctx, records)
}

func (s *countingStore) BulkRemove(ctx context.Context, names []graph.Name) error {
	s.removes++
	return s.Store.BulkRemove(ctx, names)
}

func TestMaterialize_LeafGapIsFormatted(t *testing.T) {
	g := chain(t, true)
	store := &countingStore{Store: kvstore.NewMemoryStore()}

	threads, err := MaterializeThreads(context.Background(), g, store, g.Roots(), formatter())
	require.NoError(t, err)
	assert.Equal(t, []string{"ACGTNNN"}, threads)
	assert.Zero(t, store.gets, "no nested records, no get")
}

func TestMaterialize_NestedGapReadsStore(t *testing.T) {
	g := chain(t, false)
	store := &countingStore{Store: seeded(t, kvstore.Record{Name: capB, Data: []byte("TTT")})}

	threads, err := MaterializeThreads(context.Background(), g, store, g.Roots(), formatter())
	require.NoError(t, err)
	assert.Equal(t, []string{"ACGTTTT"}, threads)
	assert.Equal(t, 1, store.gets)
	assert.Zero(t, store.sets+store.removes)
}

func TestMaterialize_IsRepeatable(t *testing.T) {
	g := chain(t, false)
	store := seeded(t, kvstore.Record{Name: capB, Data: []byte("TTT")})
	a := New(g, store)

	first, err := a.Materialize(context.Background(), g.Roots(), formatter())
	require.NoError(t, err)
	second, err := a.Materialize(context.Background(), g.Roots(), formatter())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []graph.Name{capB}, listNames(t, store))
}

func TestMaterialize_OneThreadPerRootInOrder(t *testing.T) {
	g := chain(t, false)
	store := &countingStore{Store: seeded(t, kvstore.Record{Name: capB, Data: []byte("TTT")})}

	// B starts a thread of its own: B(5) -> C(9) with a nested gap.
	threads, err := MaterializeThreads(context.Background(), g, store, []graph.Name{capB, capA, capB}, formatter())
	require.NoError(t, err)
	assert.Equal(t, []string{"TTT", "ACGTTTT", "TTT"}, threads)
	assert.Equal(t, 1, store.gets, "shared nested record is fetched once")
}

func TestMaterialize_NoRoots(t *testing.T) {
	g := chain(t, true)
	threads, err := MaterializeThreads(context.Background(), g, kvstore.NewMemoryStore(), nil, formatter())
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestMaterialize_GapOfOneContributesNothing(t *testing.T) {
	g := graph.NewMemoryGraph()
	g.AddGroup(leafGroup, true)
	g.AddEnd(leafEnd, leafGroup)
	g.AddCap(capA, 0, leafEnd)
	g.AddCap(capA2, 1, leafEnd)
	require.NoError(t, g.Link(capA, capA2))

	threads, err := MaterializeThreads(context.Background(), g, kvstore.NewMemoryStore(), []graph.Name{capA}, formatter())
	require.NoError(t, err)
	assert.Equal(t, []string{""}, threads)
}

func TestMaterialize_MissingNestedRecord(t *testing.T) {
	g := chain(t, false)

	_, err := MaterializeThreads(context.Background(), g, kvstore.NewMemoryStore(), g.Roots(), formatter())
	assert.ErrorIs(t, err, kvstore.ErrDatabase)
	assert.ErrorIs(t, err, kvstore.ErrRecordNotFound)
}

func TestMaterialize_ShortStoreResult(t *testing.T) {
	g := chain(t, false)
	store := &countingStore{
		Store: seeded(t, kvstore.Record{Name: capB, Data: []byte("TTT")}),
		short: true,
	}

	threads, err := MaterializeThreads(context.Background(), g, store, g.Roots(), formatter())
	assert.Nil(t, threads)
	var dbErr *kvstore.DatabaseError
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, "get", dbErr.Op)
}

func TestMaterialize_FormatterError(t *testing.T) {
	g := chain(t, true)
	bad := errors.New("no sequence")
	f := formatter()
	f.TerminalGap = func(graph.Name) ([]byte, error) { return nil, bad }

	_, err := MaterializeThreads(context.Background(), g, kvstore.NewMemoryStore(), g.Roots(), f)
	assert.ErrorIs(t, err, bad)
	assert.Contains(t, err.Error(), "format terminal gap of cap 3")
}

func TestMaterialize_MissingFormatter(t *testing.T) {
	g := chain(t, true)

	_, err := MaterializeThreads(context.Background(), g, kvstore.NewMemoryStore(), g.Roots(), FormatFuncs{})
	assert.ErrorIs(t, err, errNoFormatter)
	assert.Contains(t, err.Error(), "format segment 10")
}

func TestMaterialize_ContractViolation(t *testing.T) {
	g := chain(t, true)
	store := &countingStore{Store: kvstore.NewMemoryStore()}

	_, err := MaterializeThreads(context.Background(), g, store, []graph.Name{capC}, formatter())
	assert.ErrorIs(t, err, walk.ErrContract)
	assert.Zero(t, store.gets+store.sets+store.removes)
}

func TestAssemble_UncachedPieceIsMiss(t *testing.T) {
	g := chain(t, true)
	a := New(g, kvstore.NewMemoryStore())

	_, err := a.assemble(cache.New(), capA)
	assert.ErrorIs(t, err, cache.ErrMiss)
	assert.Contains(t, err.Error(), "assemble thread 1")
}

func TestPersist_LeafThreadIsStored(t *testing.T) {
	g := chain(t, true)
	store := kvstore.NewMemoryStore()

	require.NoError(t, PersistThreads(context.Background(), g, store, g.Roots(), formatter()))
	assert.Equal(t, []graph.Name{capA}, listNames(t, store))
	assert.Equal(t, "ACGTNNN", getData(t, store, capA))
}

func TestPersist_ReplacesNestedRecords(t *testing.T) {
	g := chain(t, false)
	store := seeded(t, kvstore.Record{Name: capB, Data: []byte("TTT")})

	require.NoError(t, PersistThreads(context.Background(), g, store, g.Roots(), formatter()))
	assert.Equal(t, []graph.Name{capA}, listNames(t, store))
	assert.Equal(t, "ACGTTTT", getData(t, store, capA))
}

func TestPersist_SecondRunFindsNestedRecordGone(t *testing.T) {
	g := chain(t, false)
	store := seeded(t, kvstore.Record{Name: capB, Data: []byte("TTT")})
	a := New(g, store)

	require.NoError(t, a.Persist(context.Background(), g.Roots(), formatter()))
	err := a.Persist(context.Background(), g.Roots(), formatter())
	assert.ErrorIs(t, err, kvstore.ErrRecordNotFound)
	assert.Equal(t, "ACGTTTT", getData(t, store, capA))
}

func TestPersist_RemovesBeforeSetting(t *testing.T) {
	g := chain(t, false)
	store := &countingStore{Store: seeded(t, kvstore.Record{Name: capB, Data: []byte("TTT")})}

	require.NoError(t, New(g, store).Persist(context.Background(), g.Roots(), formatter()))
	assert.Equal(t, 1, store.gets)
	assert.Equal(t, 1, store.removes)
	assert.Equal(t, 1, store.sets)
}

func TestPersist_AtomicUsesReplacer(t *testing.T) {
	g := chain(t, false)
	mem := seeded(t, kvstore.Record{Name: capB, Data: []byte("TTT")})
	reg := prometheus.NewRegistry()
	m := kvstore.NewMetrics(reg)

	a := New(g, mem, WithAtomicReplace(true), WithMetrics(m))
	require.NoError(t, a.Persist(context.Background(), g.Roots(), formatter()))

	assert.Equal(t, []graph.Name{capA}, listNames(t, mem))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("get", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("replace", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Operations.WithLabelValues("remove", "ok")))
}

func TestPersist_AtomicFallsBackWithWarning(t *testing.T) {
	g := chain(t, false)
	mem := seeded(t, kvstore.Record{Name: capB, Data: []byte("TTT")})
	store := &countingStore{Store: mem}
	logger, hook := test.NewNullLogger()

	a := New(g, store, WithAtomicReplace(true), WithLogger(logger))
	require.NoError(t, a.Persist(context.Background(), g.Roots(), formatter()))

	assert.Equal(t, 1, store.removes)
	assert.Equal(t, 1, store.sets)
	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
			assert.Equal(t, "thread_persist", e.Data["action"])
		}
	}
	assert.True(t, warned)
}

func TestPersist_FailedGetWritesNothing(t *testing.T) {
	g := chain(t, false)
	store := &countingStore{Store: kvstore.NewMemoryStore()}

	err := New(g, store).Persist(context.Background(), g.Roots(), formatter())
	assert.ErrorIs(t, err, kvstore.ErrDatabase)
	assert.Zero(t, store.sets+store.removes)
}

func TestPersist_SQLiteStore(t *testing.T) {
	ctx := context.Background()
	s, err := kvstore.OpenSQLiteStore(filepath.Join(t.TempDir(), "records.db"), time.Second)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.BulkSet(ctx, []kvstore.Record{{Name: capB, Data: []byte("TTT")}}))

	g := chain(t, false)
	require.NoError(t, New(g, s, WithAtomicReplace(true)).Persist(ctx, g.Roots(), formatter()))

	assert.Equal(t, []graph.Name{capA}, listNames(t, s))
	assert.Equal(t, "ACGTTTT", getData(t, s, capA))
}

func TestMaterialize_LogsRun(t *testing.T) {
	g := chain(t, true)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	_, err := New(g, kvstore.NewMemoryStore(), WithLogger(logger)).
		Materialize(context.Background(), g.Roots(), formatter())
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "threads materialized", entry.Message)
	assert.Equal(t, "thread_materialize", entry.Data["action"])
	assert.Equal(t, 1, entry.Data["roots"])
	assert.NotEmpty(t, entry.Data["run"])
}
