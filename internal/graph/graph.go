package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/hashicorp/go-multierror"
)

var ErrNotFound = errors.New("name not found")

// Name identifies a cap, end, group or segment. Names are unique across the
// whole hierarchy, so the same value also keys records in the store.
type Name int64

func (n Name) String() string {
	return fmt.Sprintf("%d", int64(n))
}

// Graph is the read-only view of the cap graph that thread assembly walks.
// Implementations own the caps; callers only follow handles.
type Graph interface {
	// Adjacency returns the cap paired with cap by an adjacency.
	Adjacency(cap Name) (Name, bool)
	// Coordinate returns the position of cap within its sequence.
	Coordinate(cap Name) (int64, bool)
	// OtherSegmentCap returns the cap at the far side of cap's segment,
	// or false if cap does not bound a segment.
	OtherSegmentCap(cap Name) (Name, bool)
	// Segment returns the segment bounded by cap.
	Segment(cap Name) (Name, bool)
	// Group returns the group of cap's end.
	Group(cap Name) (Name, bool)
	IsLeaf(group Name) bool
}

type capRecord struct {
	coordinate int64
	end        Name
	adjacency  Name
	hasAdj     bool
	segment    Name
	hasSegment bool
	other      Name
}

type segmentRecord struct {
	first, second Name
}

// MemoryGraph is an in-memory Graph built up through its Add methods.
// It is safe for concurrent reads once construction is done.
type MemoryGraph struct {
	mu       sync.RWMutex
	caps     map[Name]*capRecord
	ends     map[Name]Name // end -> group
	groups   map[Name]bool // group -> leaf
	segments map[Name]segmentRecord
	roots    []Name
	rootSet  *roaring64.Bitmap
}

func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		caps:     make(map[Name]*capRecord),
		ends:     make(map[Name]Name),
		groups:   make(map[Name]bool),
		segments: make(map[Name]segmentRecord),
		rootSet:  roaring64.New(),
	}
}

// AddGroup registers a group and whether it is a leaf.
func (g *MemoryGraph) AddGroup(group Name, leaf bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.groups[group] = leaf
}

// AddEnd places an end inside a group.
func (g *MemoryGraph) AddEnd(end, group Name) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ends[end] = group
}

// AddCap adds a cap at the given coordinate on the given end.
func (g *MemoryGraph) AddCap(cap Name, coordinate int64, end Name) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.caps[cap]
	if !ok {
		c = &capRecord{}
		g.caps[cap] = c
	}
	c.coordinate = coordinate
	c.end = end
}

// Link pairs two caps by an adjacency. Both caps must already exist.
func (g *MemoryGraph) Link(a, b Name) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ca, ok := g.caps[a]
	if !ok {
		return fmt.Errorf("link %s: %w", a, ErrNotFound)
	}
	cb, ok := g.caps[b]
	if !ok {
		return fmt.Errorf("link %s: %w", b, ErrNotFound)
	}
	ca.adjacency, ca.hasAdj = b, true
	cb.adjacency, cb.hasAdj = a, true
	return nil
}

// AddSegment creates a segment bounded by caps first and second.
func (g *MemoryGraph) AddSegment(segment, first, second Name) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	cf, ok := g.caps[first]
	if !ok {
		return fmt.Errorf("segment %s cap %s: %w", segment, first, ErrNotFound)
	}
	cs, ok := g.caps[second]
	if !ok {
		return fmt.Errorf("segment %s cap %s: %w", segment, second, ErrNotFound)
	}
	g.segments[segment] = segmentRecord{first: first, second: second}
	cf.segment, cf.hasSegment, cf.other = segment, true, second
	cs.segment, cs.hasSegment, cs.other = segment, true, first
	return nil
}

// AddRoot marks a cap as a thread start. Roots keep insertion order and are
// deduplicated.
func (g *MemoryGraph) AddRoot(cap Name) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rootSet.CheckedAdd(uint64(cap)) {
		g.roots = append(g.roots, cap)
	}
}

// Roots returns the registered thread starts.
func (g *MemoryGraph) Roots() []Name {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Name, len(g.roots))
	copy(out, g.roots)
	return out
}

// HasCap reports whether cap exists.
func (g *MemoryGraph) HasCap(cap Name) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.caps[cap]
	return ok
}

// Adjacency implements Graph.
func (g *MemoryGraph) Adjacency(cap Name) (Name, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.caps[cap]
	if !ok || !c.hasAdj {
		return 0, false
	}
	return c.adjacency, true
}

// Coordinate implements Graph.
func (g *MemoryGraph) Coordinate(cap Name) (int64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.caps[cap]
	if !ok {
		return 0, false
	}
	return c.coordinate, true
}

// OtherSegmentCap implements Graph.
func (g *MemoryGraph) OtherSegmentCap(cap Name) (Name, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.caps[cap]
	if !ok || !c.hasSegment {
		return 0, false
	}
	return c.other, true
}

// Segment implements Graph.
func (g *MemoryGraph) Segment(cap Name) (Name, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.caps[cap]
	if !ok || !c.hasSegment {
		return 0, false
	}
	return c.segment, true
}

// Group implements Graph.
func (g *MemoryGraph) Group(cap Name) (Name, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.caps[cap]
	if !ok {
		return 0, false
	}
	group, ok := g.ends[c.end]
	return group, ok
}

// IsLeaf implements Graph. Unknown groups are reported as non-leaf.
func (g *MemoryGraph) IsLeaf(group Name) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.groups[group]
}

// Validate checks the structural invariants thread assembly relies on and
// reports every violation it finds.
func (g *MemoryGraph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result *multierror.Error
	seen := roaring64.New()
	claim := func(kind string, n Name) {
		if !seen.CheckedAdd(uint64(n)) {
			result = multierror.Append(result, fmt.Errorf("%s %s: name already used", kind, n))
		}
	}
	for n := range g.groups {
		claim("group", n)
	}
	for n, group := range g.ends {
		claim("end", n)
		if _, ok := g.groups[group]; !ok {
			result = multierror.Append(result, fmt.Errorf("end %s: unknown group %s", n, group))
		}
	}
	for n := range g.segments {
		claim("segment", n)
	}
	for n, c := range g.caps {
		claim("cap", n)
		if _, ok := g.ends[c.end]; !ok {
			result = multierror.Append(result, fmt.Errorf("cap %s: unknown end %s", n, c.end))
		}
		if !c.hasAdj {
			result = multierror.Append(result, fmt.Errorf("cap %s: no adjacency", n))
			continue
		}
		adj, ok := g.caps[c.adjacency]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("cap %s: adjacency %s does not exist", n, c.adjacency))
			continue
		}
		if !adj.hasAdj || adj.adjacency != n {
			result = multierror.Append(result, fmt.Errorf("cap %s: adjacency %s is not symmetric", n, c.adjacency))
		}
	}
	for _, r := range g.roots {
		if _, ok := g.caps[r]; !ok {
			result = multierror.Append(result, fmt.Errorf("root %s: %w", r, ErrNotFound))
		}
	}
	return result.ErrorOrNil()
}

var _ Graph = (*MemoryGraph)(nil)
