// Package sampling drives the fixed-period acquisition loop: one synchronous
// read of every sensor per tick, then delivery to each sink through its own
// queue and worker.
package sampling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kristoforerickson/mkr1000/internal/logging"
	"github.com/kristoforerickson/mkr1000/internal/metrics"
	"github.com/kristoforerickson/mkr1000/internal/modules/measurements/types"
)

// Period is the acquisition period of the live pipeline.
const Period = 1000 * time.Millisecond

// DefaultQueueSize is the per-sink backlog before samples are dropped.
const DefaultQueueSize = 16

var errQueueFull = errors.New("sink queue full")

// Reader produces one sample from the current sensor values.
type Reader interface {
	Snapshot(ts int64) types.Sample
}

// Sink consumes samples. Each sink has one worker goroutine, so Deliver sees
// samples in tick order and may block without holding up the scheduler or
// other sinks.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, s types.Sample) error
}

type funcSink struct {
	name string
	fn   func(context.Context, types.Sample) error
}

func (f funcSink) Name() string { return f.name }

func (f funcSink) Deliver(ctx context.Context, s types.Sample) error { return f.fn(ctx, s) }

// SinkFunc adapts a function to a named Sink.
func SinkFunc(name string, fn func(context.Context, types.Sample) error) Sink {
	return funcSink{name: name, fn: fn}
}

type Options struct {
	// Interval overrides Period; tests only.
	Interval time.Duration
	// QueueSize is the per-sink backlog; DefaultQueueSize when zero.
	QueueSize int
	Now       func() time.Time
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

type Scheduler struct {
	reader    Reader
	sinks     []Sink
	interval  time.Duration
	queueSize int
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics

	lastTS int64
	queues []chan types.Sample
	wg     sync.WaitGroup
}

func NewScheduler(reader Reader, sinks []Sink, opts Options) *Scheduler {
	s := &Scheduler{
		reader:    reader,
		sinks:     sinks,
		interval:  opts.Interval,
		queueSize: opts.QueueSize,
		now:       opts.Now,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if s.interval <= 0 {
		s.interval = Period
	}
	if s.queueSize <= 0 {
		s.queueSize = DefaultQueueSize
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = logging.Component(s.logger, "sampling")
	return s
}

// Run waits for ready to be closed, then ticks until ctx is done. It returns
// after every queued sample has been handed to its sink.
func (s *Scheduler) Run(ctx context.Context, ready <-chan struct{}) error {
	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info("sampling started", "interval", s.interval, "sinks", len(s.sinks))
	s.startWorkers(context.WithoutCancel(ctx))
	defer s.stopWorkers()

	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sampling stopped")
			return ctx.Err()
		case <-timer.C:
			s.tick()
			timer.Reset(s.interval)
		}
	}
}

func (s *Scheduler) startWorkers(ctx context.Context) {
	s.queues = make([]chan types.Sample, len(s.sinks))
	for i, sink := range s.sinks {
		q := make(chan types.Sample, s.queueSize)
		s.queues[i] = q
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for sample := range q {
				s.deliver(ctx, sink, sample)
			}
		}()
	}
}

// stopWorkers closes the queues and waits for the workers to drain them.
func (s *Scheduler) stopWorkers() {
	for _, q := range s.queues {
		close(q)
	}
	s.wg.Wait()
	s.queues = nil
}

func (s *Scheduler) tick() {
	sample := s.reader.Snapshot(s.nextTimestamp())
	s.metrics.Tick()
	for i, q := range s.queues {
		select {
		case q <- sample:
		default:
			sink := s.sinks[i]
			s.metrics.SinkFailed(sink.Name())
			s.logger.Warn("sink delivery failed", "sink", sink.Name(), "date", sample.Timestamp, "error", errQueueFull)
		}
	}
}

// nextTimestamp returns wall-clock millis, forced strictly past the previous
// tick when the clock stalls or steps back.
func (s *Scheduler) nextTimestamp() int64 {
	ts := s.now().UnixMilli()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	return ts
}

func (s *Scheduler) deliver(ctx context.Context, sink Sink, sample types.Sample) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.SinkFailed(sink.Name())
			s.logger.Error("sink panicked", "sink", sink.Name(), "panic", fmt.Sprint(r))
		}
	}()
	if err := sink.Deliver(ctx, sample); err != nil {
		s.metrics.SinkFailed(sink.Name())
		s.logger.Warn("sink delivery failed", "sink", sink.Name(), "date", sample.Timestamp, "error", err)
	}
}
