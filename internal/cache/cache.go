// Package cache holds the records one assembly run reads, so that many small
// lookups are served from memory after a few bulk fetches.
package cache

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/agentic-research/rethread/internal/graph"
)

// Unbounded as a Get length reads to the end of the cached range.
const Unbounded int64 = -1

// ErrMiss matches every *MissError.
var ErrMiss = errors.New("record not cached")

// MissError reports a read of a range that was never cached.
type MissError struct {
	Name   graph.Name
	Offset int64
	Length int64
}

func (e *MissError) Error() string {
	if e.Length == Unbounded {
		return fmt.Sprintf("record %s not cached from offset %d", e.Name, e.Offset)
	}
	return fmt.Sprintf("record %s not cached for range [%d, %d)", e.Name, e.Offset, e.Offset+e.Length)
}

func (e *MissError) Is(target error) bool {
	return target == ErrMiss
}

// span is a contiguous run of bytes of one record starting at start.
type span struct {
	start int64
	data  []byte
}

func (s span) end() int64 {
	return s.start + int64(len(s.data))
}

// Cache maps record names to the byte ranges stored for them. Entries live
// until the cache is dropped; nothing is evicted. A Cache belongs to a single
// run and is not safe for concurrent use.
type Cache struct {
	records map[graph.Name][]span // spans sorted by start, never touching
	size    int64
}

func New() *Cache {
	return &Cache{records: make(map[graph.Name][]span)}
}

// Set stores data at offset within the named record. Ranges that overlap or
// touch an existing range of the same record are merged with it; where they
// overlap the new bytes win.
func (c *Cache) Set(name graph.Name, offset int64, data []byte) error {
	if offset < 0 {
		return fmt.Errorf("set record %s: negative offset %d", name, offset)
	}
	if int64(len(data)) > math.MaxInt64-offset {
		return fmt.Errorf("set record %s: %d bytes at offset %d overflow", name, len(data), offset)
	}
	incoming := span{start: offset, data: data}
	spans := c.records[name]

	// Spans are sorted and disjoint, so the ones to merge form a run [lo, hi).
	lo := sort.Search(len(spans), func(i int) bool { return spans[i].end() >= incoming.start })
	hi := lo
	for hi < len(spans) && spans[hi].start <= incoming.end() {
		hi++
	}

	start, end := incoming.start, incoming.end()
	if lo < hi {
		start = min(start, spans[lo].start)
		end = max(end, spans[hi-1].end())
	}
	merged := make([]byte, end-start)
	for _, s := range spans[lo:hi] {
		copy(merged[s.start-start:], s.data)
		c.size -= int64(len(s.data))
	}
	copy(merged[incoming.start-start:], incoming.data)
	c.size += int64(len(merged))

	out := make([]span, 0, len(spans)-(hi-lo)+1)
	out = append(out, spans[:lo]...)
	out = append(out, span{start: start, data: merged})
	out = append(out, spans[hi:]...)
	c.records[name] = out
	return nil
}

// Get returns length bytes of the named record starting at offset, or
// everything from offset to the end of its range when length is Unbounded.
// The range must lie within bytes previously passed to Set. The returned
// slice aliases cache memory and must not be modified.
func (c *Cache) Get(name graph.Name, offset, length int64) ([]byte, error) {
	miss := &MissError{Name: name, Offset: offset, Length: length}
	if offset < 0 || (length < 0 && length != Unbounded) {
		return nil, miss
	}
	spans := c.records[name]
	i := sort.Search(len(spans), func(i int) bool { return spans[i].end() >= offset })
	if i == len(spans) || spans[i].start > offset {
		return nil, miss
	}
	s := spans[i]
	from := offset - s.start
	if length == Unbounded {
		return s.data[from:], nil
	}
	if length > s.end()-offset {
		return nil, miss
	}
	return s.data[from : from+length], nil
}

// Contains reports whether any bytes of the named record are cached.
func (c *Cache) Contains(name graph.Name) bool {
	_, ok := c.records[name]
	return ok
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	return len(c.records)
}

// Size returns the number of cached bytes across all records.
func (c *Cache) Size() int64 {
	return c.size
}
