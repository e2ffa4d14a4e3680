// Package thread rebuilds flattened threads from a cap graph whose content is
// split between locally derivable pieces and nested records in a store.
//
// Every invocation runs in two phases. The first collects the names of the
// nested records the requested threads need, fetches them with one bulk get
// and caches them next to the pieces derived by the Formatter. The second
// walks each thread again and concatenates the cached pieces in order.
// Persist then swaps the nested records for the flattened threads; Materialize
// returns the threads and leaves the store untouched.
//
// An Assembler holds no state between calls, but concurrent Persist calls on
// overlapping roots race in the store and must be serialized by the caller.
package thread

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/agentic-research/rethread/internal/cache"
	"github.com/agentic-research/rethread/internal/graph"
	"github.com/agentic-research/rethread/internal/kvstore"
	"github.com/agentic-research/rethread/internal/walk"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Assembler struct {
	graph   graph.Graph
	gateway *kvstore.Gateway
	metrics *kvstore.Metrics
	logger  logrus.FieldLogger
	atomic  bool
}

type Option func(*Assembler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics records the bulk calls of this assembler.
func WithMetrics(m *kvstore.Metrics) Option {
	return func(a *Assembler) { a.metrics = m }
}

// WithAtomicReplace makes Persist remove nested records and insert threads
// in a single batch when the store supports it.
func WithAtomicReplace(on bool) Option {
	return func(a *Assembler) { a.atomic = on }
}

func New(g graph.Graph, store kvstore.Store, opts ...Option) *Assembler {
	l := logrus.New()
	l.SetOutput(io.Discard)
	a := &Assembler{graph: g, logger: l}
	for _, opt := range opts {
		opt(a)
	}
	a.gateway = kvstore.NewGateway(store,
		kvstore.WithMetrics(a.metrics),
		kvstore.WithLogger(a.logger))
	return a
}

// PersistThreads flattens the threads starting at roots and writes each one
// under its root's name, removing the nested records they absorbed.
func PersistThreads(ctx context.Context, g graph.Graph, store kvstore.Store, roots []graph.Name, f Formatter) error {
	return New(g, store).Persist(ctx, roots, f)
}

// MaterializeThreads returns the flattened threads starting at roots, one per
// root in input order, without modifying the store.
func MaterializeThreads(ctx context.Context, g graph.Graph, store kvstore.Store, roots []graph.Name, f Formatter) ([]string, error) {
	return New(g, store).Materialize(ctx, roots, f)
}

// Persist flattens the threads starting at roots, removes the nested records
// they were built from and stores each thread under its root's name.
func (a *Assembler) Persist(ctx context.Context, roots []graph.Name, f Formatter) error {
	start := time.Now()
	log := a.runLogger("thread_persist", roots)

	threads, err := a.build(ctx, roots, f, log)
	if err != nil {
		return err
	}
	records := make([]kvstore.Record, len(roots))
	for i, root := range roots {
		records[i] = kvstore.Record{Name: root, Data: []byte(threads[i])}
	}

	// The nested names were only known during population; walk again.
	obsolete, err := walk.NestedNames(a.graph, roots)
	if err != nil {
		return err
	}

	if a.atomic {
		if !a.gateway.Atomic() {
			log.Warn("store cannot replace records in one batch, removing before inserting")
		}
		err = a.gateway.Replace(ctx, obsolete, records)
	} else {
		err = a.gateway.Remove(ctx, obsolete)
		if err == nil {
			err = a.gateway.Set(ctx, records)
		}
	}
	if err != nil {
		return err
	}

	log.WithField("removed", len(obsolete)).
		WithField("took", time.Since(start)).
		Debug("threads persisted")
	return nil
}

// Materialize returns the flattened threads starting at roots, one per root
// in input order.
func (a *Assembler) Materialize(ctx context.Context, roots []graph.Name, f Formatter) ([]string, error) {
	start := time.Now()
	log := a.runLogger("thread_materialize", roots)

	threads, err := a.build(ctx, roots, f, log)
	if err != nil {
		return nil, err
	}
	log.WithField("took", time.Since(start)).Debug("threads materialized")
	return threads, nil
}

func (a *Assembler) runLogger(action string, roots []graph.Name) logrus.FieldLogger {
	return a.logger.WithField("action", action).
		WithField("run", uuid.NewString()).
		WithField("roots", len(roots))
}

func (a *Assembler) build(ctx context.Context, roots []graph.Name, f Formatter, log logrus.FieldLogger) ([]string, error) {
	c, err := a.populate(ctx, roots, f)
	if err != nil {
		return nil, err
	}
	log.WithField("records", c.Len()).
		WithField("bytes", c.Size()).
		Debug("cache populated")

	threads := make([]string, len(roots))
	for i, root := range roots {
		if threads[i], err = a.assemble(c, root); err != nil {
			return nil, err
		}
	}
	return threads, nil
}

// populate fills a fresh cache with every piece the threads need: nested
// records from the store and derived pieces from f.
func (a *Assembler) populate(ctx context.Context, roots []graph.Name, f Formatter) (*cache.Cache, error) {
	names, err := walk.NestedNames(a.graph, roots)
	if err != nil {
		return nil, err
	}
	records, err := a.gateway.Get(ctx, names)
	if err != nil {
		return nil, err
	}

	c := cache.New()
	for _, r := range records {
		if err := c.Set(r.Name, 0, r.Data); err != nil {
			return nil, err
		}
	}

	for _, root := range roots {
		err := walk.Thread(a.graph, root, func(p walk.Piece) error {
			if p.Kind == walk.NestedGap || c.Contains(p.Name) {
				return nil
			}
			data, err := derive(f, p)
			if err != nil {
				return err
			}
			return c.Set(p.Name, 0, data)
		})
		if err != nil {
			return nil, fmt.Errorf("derive pieces of root %s: %w", root, err)
		}
	}
	return c, nil
}

func derive(f Formatter, p walk.Piece) ([]byte, error) {
	switch p.Kind {
	case walk.LeafGap:
		data, err := f.FormatTerminalGap(p.Name)
		if err != nil {
			return nil, fmt.Errorf("format terminal gap of cap %s: %w", p.Name, err)
		}
		return data, nil
	case walk.SegmentPiece:
		data, err := f.FormatSegment(p.Name)
		if err != nil {
			return nil, fmt.Errorf("format segment %s: %w", p.Name, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("piece %s of kind %s is not derivable", p.Name, p.Kind)
	}
}

// assemble concatenates the cached pieces of one thread. Every piece must
// already be cached.
func (a *Assembler) assemble(c *cache.Cache, root graph.Name) (string, error) {
	var b strings.Builder
	err := walk.Thread(a.graph, root, func(p walk.Piece) error {
		data, err := c.Get(p.Name, 0, cache.Unbounded)
		if err != nil {
			return err
		}
		b.Write(data)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("assemble thread %s: %w", root, err)
	}
	return b.String(), nil
}
