package thread

import (
	"errors"

	"github.com/agentic-research/rethread/internal/graph"
)

// Formatter derives the content of pieces that are not stored as nested
// records.
type Formatter interface {
	// FormatSegment returns the bytes of a segment.
	FormatSegment(segment graph.Name) ([]byte, error)
	// FormatTerminalGap returns the bytes between cap and its adjacency when
	// the cap sits in a leaf group.
	FormatTerminalGap(cap graph.Name) ([]byte, error)
}

// FormatFuncs adapts a pair of functions to Formatter.
type FormatFuncs struct {
	Segment     func(segment graph.Name) ([]byte, error)
	TerminalGap func(cap graph.Name) ([]byte, error)
}

var errNoFormatter = errors.New("no formatter configured")

func (f FormatFuncs) FormatSegment(segment graph.Name) ([]byte, error) {
	if f.Segment == nil {
		return nil, errNoFormatter
	}
	return f.Segment(segment)
}

func (f FormatFuncs) FormatTerminalGap(cap graph.Name) ([]byte, error) {
	if f.TerminalGap == nil {
		return nil, errNoFormatter
	}
	return f.TerminalGap(cap)
}
