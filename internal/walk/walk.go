// Package walk follows a thread through the cap graph and reports, in order,
// the pieces of content the thread is made of.
package walk

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/agentic-research/rethread/internal/graph"
)

// ErrContract matches every *ContractError.
var ErrContract = errors.New("graph contract violation")

// ContractError reports a malformed graph at a specific cap.
type ContractError struct {
	Cap    graph.Name
	Reason string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("graph contract violation at cap %s: %s", e.Cap, e.Reason)
}

func (e *ContractError) Is(target error) bool {
	return target == ErrContract
}

func violation(at graph.Name, format string, args ...any) error {
	return &ContractError{Cap: at, Reason: fmt.Sprintf(format, args...)}
}

// Kind classifies a piece of thread content.
type Kind int

const (
	// NestedGap content is a record already stored under the cap's name.
	NestedGap Kind = iota
	// LeafGap content is derived from the cap by the terminal gap formatter.
	LeafGap
	// SegmentPiece content is derived from the segment by the segment formatter.
	SegmentPiece
)

func (k Kind) String() string {
	switch k {
	case NestedGap:
		return "nested-gap"
	case LeafGap:
		return "leaf-gap"
	case SegmentPiece:
		return "segment"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Piece is one contiguous part of a thread. Name keys the piece in the cache
// and the store: the cap name for gaps, the segment name for segments.
type Piece struct {
	Kind Kind
	Name graph.Name
}

// Thread walks the thread starting at start and calls fn for each piece in
// order. Adjacent caps whose coordinates differ by exactly one contribute no
// piece. Walking stops at the first error from fn or from the graph.
func Thread(g graph.Graph, start graph.Name, fn func(Piece) error) error {
	at := start
	for {
		adj, ok := g.Adjacency(at)
		if !ok {
			return violation(at, "no adjacency")
		}
		from, ok := g.Coordinate(at)
		if !ok {
			return violation(at, "no coordinate")
		}
		to, ok := g.Coordinate(adj)
		if !ok {
			return violation(adj, "no coordinate")
		}
		if to <= from {
			return violation(at, "adjacent cap %s at coordinate %d does not follow %d", adj, to, from)
		}
		// to > from, so to-1 cannot wrap where to-from could.
		if to-1 > from {
			group, ok := g.Group(at)
			if !ok {
				return violation(at, "end has no group")
			}
			kind := NestedGap
			if g.IsLeaf(group) {
				kind = LeafGap
			}
			if err := fn(Piece{Kind: kind, Name: at}); err != nil {
				return err
			}
		}

		next, ok := g.OtherSegmentCap(adj)
		if !ok {
			return nil
		}
		segment, ok := g.Segment(adj)
		if !ok {
			return violation(adj, "segment cap without segment")
		}
		// Coordinates never decrease along a thread, so a chain that loops
		// back is caught here or at the adjacency check above.
		far, ok := g.Coordinate(next)
		if !ok {
			return violation(next, "no coordinate")
		}
		if far < to {
			return violation(next, "segment %s runs backwards from coordinate %d to %d", segment, to, far)
		}
		if err := fn(Piece{Kind: SegmentPiece, Name: segment}); err != nil {
			return err
		}
		at = next
	}
}

// NestedNames returns the names of the nested records the given threads
// need, in first-seen order and without duplicates.
func NestedNames(g graph.Graph, roots []graph.Name) ([]graph.Name, error) {
	seen := roaring64.New()
	var names []graph.Name
	for _, root := range roots {
		err := Thread(g, root, func(p Piece) error {
			if p.Kind == NestedGap && seen.CheckedAdd(uint64(p.Name)) {
				names = append(names, p.Name)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("collect nested names from root %s: %w", root, err)
		}
	}
	return names, nil
}
