package graphfile

import (
	"fmt"
	"strings"

	"github.com/agentic-research/rethread/internal/graph"
	"github.com/agentic-research/rethread/internal/thread"
)

// MaxDefaultGap bounds the gaps filled with N. Wider gaps need an explicit
// gap text in the document.
const MaxDefaultGap = 1 << 24

// Formatter returns the formatter backed by the document: segments yield
// their sequence, terminal gaps the cap's gap text or one N per position
// between the cap and its adjacency.
func (f *File) Formatter() thread.Formatter {
	return docFormatter{f}
}

type docFormatter struct {
	f *File
}

func (d docFormatter) FormatSegment(segment graph.Name) ([]byte, error) {
	seq, ok := d.f.segments[segment]
	if !ok {
		return nil, fmt.Errorf("segment %s: %w", segment, graph.ErrNotFound)
	}
	return []byte(seq), nil
}

func (d docFormatter) FormatTerminalGap(cap graph.Name) ([]byte, error) {
	if gap, ok := d.f.gaps[cap]; ok {
		return []byte(gap), nil
	}
	g := d.f.Graph
	from, ok := g.Coordinate(cap)
	if !ok {
		return nil, fmt.Errorf("cap %s: %w", cap, graph.ErrNotFound)
	}
	adj, ok := g.Adjacency(cap)
	if !ok {
		return nil, fmt.Errorf("adjacency of cap %s: %w", cap, graph.ErrNotFound)
	}
	to, _ := g.Coordinate(adj)
	if to <= from {
		return nil, fmt.Errorf("cap %s: no gap before coordinate %d", cap, to)
	}
	// The difference of two int64 always fits in uint64.
	width := uint64(to) - uint64(from) - 1
	if width > MaxDefaultGap {
		return nil, fmt.Errorf("cap %s: gap of %d positions exceeds %d, set its gap text", cap, width, MaxDefaultGap)
	}
	return []byte(strings.Repeat("N", int(width))), nil
}

var _ thread.Formatter = docFormatter{}
