// Package persist stores samples off the acquisition path. Storage failures
// never reach the scheduler; they are logged, counted and handled according
// to the configured Policy.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kristoforerickson/mkr1000/internal/logging"
	"github.com/kristoforerickson/mkr1000/internal/metrics"
	"github.com/kristoforerickson/mkr1000/internal/modules/measurements/types"
)

type Policy string

const (
	// PolicyDrop inserts each sample once, in its own goroutine, and drops it
	// on failure.
	PolicyDrop Policy = "drop"
	// PolicyRetry queues samples for a single worker that retries with
	// exponential backoff.
	PolicyRetry Policy = "retry"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyDrop, PolicyRetry:
		return p, nil
	case "":
		return PolicyDrop, nil
	default:
		return "", fmt.Errorf("unknown persist policy %q (allowed: drop, retry)", s)
	}
}

var ErrWriterClosed = errors.New("persist writer closed")

type Inserter interface {
	InsertSample(ctx context.Context, s types.Sample) error
}

type Options struct {
	QueueSize    int
	MaxRetries   uint64
	WriteTimeout time.Duration
	// Backoff builds the retry schedule; nil means exponential.
	Backoff func() backoff.BackOff
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Writer struct {
	repo    Inserter
	policy  Policy
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	queue chan types.Sample

	mu     sync.RWMutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWriter(repo Inserter, policy Policy, opts Options) *Writer {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Backoff == nil {
		opts.Backoff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		repo:    repo,
		policy:  policy,
		opts:    opts,
		logger:  logging.Component(opts.Logger, "persist", "policy", string(policy)),
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
	if policy == PolicyRetry {
		w.queue = make(chan types.Sample, opts.QueueSize)
		w.wg.Add(1)
		go w.worker()
	}
	return w
}

func (w *Writer) Name() string { return "persist" }

// Deliver hands the sample over; it reports only a closed writer, never a
// storage failure.
func (w *Writer) Deliver(_ context.Context, s types.Sample) error {
	return w.WriteSample(s)
}

// WriteSample schedules s for storage without blocking.
func (w *Writer) WriteSample(s types.Sample) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}

	switch w.policy {
	case PolicyRetry:
		select {
		case w.queue <- s:
		default:
			w.metrics.PersistDropped("queue_full")
			w.logger.Warn("persist queue full, sample dropped", "date", s.Timestamp, "queue_size", cap(w.queue))
		}
	default:
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.insertOnce(s); err != nil {
				w.metrics.PersistDropped("write_failed")
				w.logger.Error("store sample failed, dropped", "date", s.Timestamp, "error", err)
			}
		}()
	}
	return nil
}

func (w *Writer) insertOnce(s types.Sample) error {
	ctx, cancel := context.WithTimeout(w.ctx, w.opts.WriteTimeout)
	defer cancel()
	if err := w.repo.InsertSample(ctx, s); err != nil {
		return err
	}
	w.metrics.PersistWritten()
	return nil
}

func (w *Writer) worker() {
	defer w.wg.Done()
	for s := range w.queue {
		w.storeWithRetry(s)
	}
}

func (w *Writer) storeWithRetry(s types.Sample) {
	attempt := 0
	op := func() error {
		attempt++
		err := w.insertOnce(s)
		if err != nil && w.ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		w.logger.Warn("store sample failed, retrying", "date", s.Timestamp, "attempt", attempt, "retry_in", next, "error", err)
	}

	b := backoff.WithMaxRetries(backoff.WithContext(w.opts.Backoff(), w.ctx), w.opts.MaxRetries)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		w.metrics.PersistDropped("write_failed")
		w.logger.Error("store sample failed, dropped", "date", s.Timestamp, "attempts", attempt, "error", err)
	}
}

// Close stops accepting samples and waits for pending writes. Once ctx is
// done, in-flight retries are abandoned.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.queue != nil {
		close(w.queue)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		return ctx.Err()
	}
}
