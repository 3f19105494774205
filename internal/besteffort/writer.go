// Package besteffort runs secondary writes whose failure must never fail
// the primary operation. Failures are logged and counted, nothing more.
package besteffort

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/bootstrap-orchestrator/internal/metrics"
)

// DefaultTimeout bounds a dispatched write once it is detached from the
// caller's context.
const DefaultTimeout = 30 * time.Second

// Func is one secondary write.
type Func func(ctx context.Context) error

// Writer executes best-effort writes inline (Try) or in the background
// (Dispatch). The zero value is not usable; use New.
type Writer struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	wg      sync.WaitGroup

	mu       sync.Mutex
	queue    []job
	draining bool
}

type job struct {
	ctx context.Context
	op  string
	fn  Func
}

// New creates a Writer. m may be nil.
func New(logger zerolog.Logger, m *metrics.Metrics) *Writer {
	return &Writer{
		logger:  logger.With().Str("component", "best_effort").Logger(),
		metrics: m,
		timeout: DefaultTimeout,
	}
}

// Try runs fn inline and reports whether it succeeded. A failure or panic
// is logged under op and never returned.
func (w *Writer) Try(ctx context.Context, op string, fn Func) bool {
	err := w.run(ctx, fn)
	if err != nil {
		w.fail(op, err)
		return false
	}
	return true
}

// Dispatch runs fn in the background with a context that survives the
// caller's cancellation. The caller does not learn the outcome.
func (w *Writer) Dispatch(ctx context.Context, op string, fn Func) {
	j := job{ctx: context.WithoutCancel(ctx), op: op, fn: fn}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.exec(j)
	}()
}

// Enqueue is Dispatch with ordering: enqueued writes run one at a time,
// in the order they were enqueued.
func (w *Writer) Enqueue(ctx context.Context, op string, fn Func) {
	w.mu.Lock()
	w.queue = append(w.queue, job{ctx: context.WithoutCancel(ctx), op: op, fn: fn})
	if w.draining {
		w.mu.Unlock()
		return
	}
	w.draining = true
	w.wg.Add(1)
	w.mu.Unlock()
	go w.drain()
}

func (w *Writer) drain() {
	defer w.wg.Done()
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.draining = false
			w.mu.Unlock()
			return
		}
		j := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()
		w.exec(j)
	}
}

func (w *Writer) exec(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, w.timeout)
	defer cancel()
	if err := w.run(ctx, j.fn); err != nil {
		w.fail(j.op, err)
	}
}

// Wait blocks until every dispatched and enqueued write has finished.
func (w *Writer) Wait() {
	w.wg.Wait()
}

func (w *Writer) run(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (w *Writer) fail(op string, err error) {
	w.logger.Warn().Err(err).Str("op", op).Msg("best-effort write failed")
	w.metrics.RecordBestEffortFailure(op)
}
