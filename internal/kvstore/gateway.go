package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/agentic-research/rethread/internal/graph"
	"github.com/sirupsen/logrus"
)

// ErrDatabase matches every *DatabaseError.
var ErrDatabase = errors.New("database error")

// DatabaseError reports a failed bulk call. Nothing in the batch should be
// assumed applied.
type DatabaseError struct {
	Op    string
	Count int
	Cause error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("bulk %s of %d records failed: %v", e.Op, e.Count, e.Cause)
}

func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

func (e *DatabaseError) Is(target error) bool {
	return target == ErrDatabase
}

// Gateway issues bulk calls against a Store and turns every failure into a
// *DatabaseError. It never retries.
type Gateway struct {
	store   Store
	metrics *Metrics
	logger  logrus.FieldLogger
}

type GatewayOption func(*Gateway)

func WithMetrics(m *Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

func WithLogger(l logrus.FieldLogger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

func NewGateway(store Store, opts ...GatewayOption) *Gateway {
	g := &Gateway{store: store, logger: discardLogger()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Get fetches the named records. The result pairs each requested name with
// its bytes, in request order.
func (g *Gateway) Get(ctx context.Context, names []graph.Name) ([]Record, error) {
	if len(names) == 0 {
		return nil, nil
	}
	start := time.Now()
	records, err := g.store.BulkGet(ctx, names)
	if err == nil {
		err = checkResults(names, records)
	}
	if err := g.finish("get", len(names), start, err); err != nil {
		return nil, err
	}
	return records, nil
}

func checkResults(names []graph.Name, records []Record) error {
	if len(records) != len(names) {
		return fmt.Errorf("store returned %d records for %d names", len(records), len(names))
	}
	for i, r := range records {
		if r.Name != names[i] {
			return fmt.Errorf("store returned record %s at position %d, want %s", r.Name, i, names[i])
		}
	}
	return nil
}

// Set inserts or overwrites the records.
func (g *Gateway) Set(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	return g.finish("set", len(records), start, g.store.BulkSet(ctx, records))
}

// Remove deletes the named records.
func (g *Gateway) Remove(ctx context.Context, names []graph.Name) error {
	if len(names) == 0 {
		return nil
	}
	start := time.Now()
	return g.finish("remove", len(names), start, g.store.BulkRemove(ctx, names))
}

// Replace removes the named records and then inserts the given ones. When
// the store implements Replacer both happen in one batch; otherwise they are
// two batches and a failure of the second leaves the removal applied.
func (g *Gateway) Replace(ctx context.Context, remove []graph.Name, set []Record) error {
	r, ok := g.store.(Replacer)
	if !ok {
		if err := g.Remove(ctx, remove); err != nil {
			return err
		}
		return g.Set(ctx, set)
	}
	if len(remove) == 0 && len(set) == 0 {
		return nil
	}
	start := time.Now()
	return g.finish("replace", len(remove)+len(set), start, r.BulkReplace(ctx, remove, set))
}

// Atomic reports whether Replace runs as a single batch.
func (g *Gateway) Atomic() bool {
	_, ok := g.store.(Replacer)
	return ok
}

func (g *Gateway) finish(op string, count int, start time.Time, err error) error {
	g.metrics.observe(op, count, start, err)
	log := g.logger.WithField("action", "bulk_"+op).
		WithField("records", count).
		WithField("took", time.Since(start))
	if err != nil {
		log.WithError(err).Debug("bulk call failed")
		return &DatabaseError{Op: op, Count: count, Cause: err}
	}
	log.Debug("bulk call done")
	return nil
}
