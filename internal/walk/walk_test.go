package walk

import (
	"errors"
	"math"
	"testing"

	"github.com/agentic-research/rethread/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	leafGroup   graph.Name = 100
	nestedGroup graph.Name = 101
	leafEnd     graph.Name = 200
	nestedEnd   graph.Name = 201
)

func newGraph() *graph.MemoryGraph {
	g := graph.NewMemoryGraph()
	g.AddGroup(leafGroup, true)
	g.AddGroup(nestedGroup, false)
	g.AddEnd(leafEnd, leafGroup)
	g.AddEnd(nestedEnd, nestedGroup)
	return g
}

// twoSegments builds
//
//	1(0) -> 2(1) =seg 50= 3(4) -> 4(8) =seg 51= 5(10) -> 6(11)
//
// with cap 3 on endOf3. The 3->4 gap has width 3; the other adjacencies have none.
func twoSegments(t *testing.T, endOf3 graph.Name) *graph.MemoryGraph {
	t.Helper()
	g := newGraph()
	g.AddCap(1, 0, leafEnd)
	g.AddCap(2, 1, leafEnd)
	g.AddCap(3, 4, endOf3)
	g.AddCap(4, 8, leafEnd)
	g.AddCap(5, 10, leafEnd)
	g.AddCap(6, 11, leafEnd)
	require.NoError(t, g.Link(1, 2))
	require.NoError(t, g.Link(3, 4))
	require.NoError(t, g.Link(5, 6))
	require.NoError(t, g.AddSegment(50, 2, 3))
	require.NoError(t, g.AddSegment(51, 4, 5))
	return g
}

func collect(t *testing.T, g graph.Graph, start graph.Name) []Piece {
	t.Helper()
	var pieces []Piece
	require.NoError(t, Thread(g, start, func(p Piece) error {
		pieces = append(pieces, p)
		return nil
	}))
	return pieces
}

func TestThread_OrderAndKinds(t *testing.T) {
	g := twoSegments(t, leafEnd)

	assert.Equal(t, []Piece{
		{Kind: SegmentPiece, Name: 50},
		{Kind: LeafGap, Name: 3},
		{Kind: SegmentPiece, Name: 51},
	}, collect(t, g, 1))
}

func TestThread_NonLeafGapIsNested(t *testing.T) {
	g := twoSegments(t, nestedEnd)

	pieces := collect(t, g, 1)
	require.Len(t, pieces, 3)
	assert.Equal(t, Piece{Kind: NestedGap, Name: 3}, pieces[1])
}

func TestThread_GapOfOneContributesNothing(t *testing.T) {
	g := newGraph()
	g.AddCap(1, 5, nestedEnd)
	g.AddCap(2, 6, nestedEnd)
	require.NoError(t, g.Link(1, 2))

	assert.Empty(t, collect(t, g, 1))
}

func TestThread_TerminatesWithoutSegment(t *testing.T) {
	g := newGraph()
	g.AddCap(1, 0, nestedEnd)
	g.AddCap(2, 9, nestedEnd)
	require.NoError(t, g.Link(1, 2))

	assert.Equal(t, []Piece{{Kind: NestedGap, Name: 1}}, collect(t, g, 1))
}

func TestThread_FarApartCoordinates(t *testing.T) {
	g := newGraph()
	g.AddCap(1, math.MinInt64+10, nestedEnd)
	g.AddCap(2, math.MaxInt64-10, nestedEnd)
	require.NoError(t, g.Link(1, 2))
	g.AddCap(3, math.MinInt64, nestedEnd)
	g.AddCap(4, math.MinInt64+1, nestedEnd)
	require.NoError(t, g.Link(3, 4))

	assert.Equal(t, []Piece{{Kind: NestedGap, Name: 1}}, collect(t, g, 1))
	assert.Empty(t, collect(t, g, 3))

	err := Thread(g, 2, func(Piece) error { return nil })
	assert.ErrorIs(t, err, ErrContract)
}

func TestThread_MissingAdjacency(t *testing.T) {
	g := newGraph()
	g.AddCap(1, 0, leafEnd)

	err := Thread(g, 1, func(Piece) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContract)
	var ce *ContractError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, graph.Name(1), ce.Cap)
}

func TestThread_CoordinatesMustAdvance(t *testing.T) {
	g := newGraph()
	g.AddCap(1, 5, leafEnd)
	g.AddCap(2, 5, leafEnd)
	require.NoError(t, g.Link(1, 2))

	err := Thread(g, 1, func(Piece) error { return nil })
	assert.ErrorIs(t, err, ErrContract)
	assert.Contains(t, err.Error(), "does not follow")
}

func TestThread_LoopIsReported(t *testing.T) {
	// 1(0) -> 2(3) =seg 50= 1'... the segment leads back to a lower coordinate.
	g := newGraph()
	g.AddCap(1, 0, leafEnd)
	g.AddCap(2, 3, leafEnd)
	g.AddCap(3, 1, leafEnd)
	g.AddCap(4, 2, leafEnd)
	require.NoError(t, g.Link(1, 2))
	require.NoError(t, g.Link(3, 4))
	require.NoError(t, g.AddSegment(50, 2, 3))

	err := Thread(g, 1, func(Piece) error { return nil })
	assert.ErrorIs(t, err, ErrContract)
	assert.Contains(t, err.Error(), "runs backwards")
}

func TestThread_MissingGroup(t *testing.T) {
	g := newGraph()
	g.AddCap(1, 0, 999)
	g.AddCap(2, 4, leafEnd)
	require.NoError(t, g.Link(1, 2))

	err := Thread(g, 1, func(Piece) error { return nil })
	assert.ErrorIs(t, err, ErrContract)
}

func TestThread_CallbackErrorStopsWalk(t *testing.T) {
	g := twoSegments(t, leafEnd)
	stop := errors.New("stop")

	calls := 0
	err := Thread(g, 1, func(Piece) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestNestedNames_DeduplicatesAcrossRoots(t *testing.T) {
	g := twoSegments(t, nestedEnd)
	g.AddCap(7, 20, nestedEnd)
	g.AddCap(8, 30, nestedEnd)
	require.NoError(t, g.Link(7, 8))

	names, err := NestedNames(g, []graph.Name{1, 7, 1})
	require.NoError(t, err)
	assert.Equal(t, []graph.Name{3, 7}, names)
}

func TestNestedNames_IgnoresLeafGaps(t *testing.T) {
	g := twoSegments(t, leafEnd)

	names, err := NestedNames(g, []graph.Name{1})
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestNestedNames_WrapsRoot(t *testing.T) {
	g := newGraph()
	g.AddCap(1, 0, leafEnd)

	_, err := NestedNames(g, []graph.Name{1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContract)
	assert.Contains(t, err.Error(), "root 1")
}
