package sampling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kristoforerickson/mkr1000/internal/modules/measurements/types"
)

type fixedReader struct {
	calls atomic.Int64
}

func (r *fixedReader) Snapshot(ts int64) types.Sample {
	r.calls.Add(1)
	return types.NewSample(ts, types.IntPtr(20), types.IntPtr(50), nil)
}

type recordSink struct {
	name string
	err  error

	mu      sync.Mutex
	samples []types.Sample
}

func (r *recordSink) Name() string { return r.name }

func (r *recordSink) Deliver(_ context.Context, s types.Sample) error {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
	return r.err
}

func (r *recordSink) got() []types.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Sample(nil), r.samples...)
}

func closedChan() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

// runTicks runs the scheduler until the reader has been called n times.
func runTicks(t *testing.T, s *Scheduler, reader *fixedReader, n int64) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, closedChan()) }()

	deadline := time.After(3 * time.Second)
	for reader.calls.Load() < n {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("only %d of %d ticks happened", reader.calls.Load(), n)
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func TestScheduler_PersistFailureDoesNotBlockBroadcast(t *testing.T) {
	reader := &fixedReader{}
	broadcast := &recordSink{name: "realtime"}
	persist := &recordSink{name: "persist", err: errors.New("storage down")}

	s := NewScheduler(reader, []Sink{persist, broadcast}, Options{Interval: 5 * time.Millisecond})
	runTicks(t, s, reader, 10)

	ticks := int(reader.calls.Load())
	if got := len(broadcast.got()); got != ticks {
		t.Errorf("broadcasts = %d, want %d (one per tick)", got, ticks)
	}
	if got := len(persist.got()); got != ticks {
		t.Errorf("persist attempts = %d, want %d", got, ticks)
	}
}

func TestScheduler_PanickingSinkIsIsolated(t *testing.T) {
	reader := &fixedReader{}
	good := &recordSink{name: "realtime"}
	bad := SinkFunc("broken", func(context.Context, types.Sample) error { panic("boom") })

	s := NewScheduler(reader, []Sink{bad, good}, Options{Interval: 5 * time.Millisecond})
	runTicks(t, s, reader, 5)

	if got, want := len(good.got()), int(reader.calls.Load()); got != want {
		t.Errorf("good sink deliveries = %d, want %d", got, want)
	}
}

func TestScheduler_TimestampsStrictlyIncrease(t *testing.T) {
	frozen := time.UnixMilli(1_700_000_000_000)
	var step atomic.Int64
	now := func() time.Time {
		// stall for a few ticks, then step the clock back
		if step.Add(1) > 3 {
			return frozen.Add(-time.Second)
		}
		return frozen
	}

	reader := &fixedReader{}
	sink := &recordSink{name: "realtime"}
	s := NewScheduler(reader, []Sink{sink}, Options{Interval: 2 * time.Millisecond, Now: now})
	runTicks(t, s, reader, 8)

	got := sink.got()
	if len(got) < 8 {
		t.Fatalf("samples = %d, want >= 8", len(got))
	}
	for i, smp := range got {
		if want := frozen.UnixMilli() + int64(i); smp.Timestamp != want {
			t.Fatalf("sample %d timestamp = %d, want %d", i, smp.Timestamp, want)
		}
	}
}

func TestScheduler_DeliversInTickOrder(t *testing.T) {
	reader := &fixedReader{}
	fast := &recordSink{name: "realtime"}
	slow := SinkFunc("persist", func(context.Context, types.Sample) error {
		time.Sleep(50 * time.Microsecond)
		return nil
	})

	s := NewScheduler(reader, []Sink{fast, slow}, Options{Interval: time.Microsecond})
	runTicks(t, s, reader, 2000)

	got := fast.got()
	if len(got) == 0 {
		t.Fatal("no samples delivered")
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp <= got[i-1].Timestamp {
			t.Fatalf("sample %d emitted out of order: %d after %d", i, got[i].Timestamp, got[i-1].Timestamp)
		}
	}
}

func TestScheduler_StalledSinkDoesNotBlockOthers(t *testing.T) {
	reader := &fixedReader{}
	good := &recordSink{name: "realtime"}
	release := make(chan struct{})
	stalled := SinkFunc("mqtt", func(context.Context, types.Sample) error {
		<-release
		return nil
	})

	s := NewScheduler(reader, []Sink{stalled, good}, Options{Interval: time.Millisecond, QueueSize: 2})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, closedChan()) }()

	deadline := time.After(3 * time.Second)
	for len(good.got()) < 20 {
		select {
		case <-deadline:
			cancel()
			close(release)
			t.Fatalf("good sink got %d samples while another sink was stalled", len(good.got()))
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	close(release)
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	if got, want := len(good.got()), int(reader.calls.Load()); got != want {
		t.Errorf("good sink deliveries = %d, want %d", got, want)
	}
}

func TestScheduler_DrainsQueuesOnCancel(t *testing.T) {
	reader := &fixedReader{}
	var delivered atomic.Int64
	var cancelled atomic.Bool
	sink := SinkFunc("persist", func(ctx context.Context, _ types.Sample) error {
		time.Sleep(2 * time.Millisecond)
		if ctx.Err() != nil {
			cancelled.Store(true)
		}
		delivered.Add(1)
		return nil
	})

	s := NewScheduler(reader, []Sink{sink}, Options{Interval: time.Millisecond, QueueSize: 64})
	runTicks(t, s, reader, 10)

	if got, want := delivered.Load(), reader.calls.Load(); got != want {
		t.Errorf("delivered = %d, want %d", got, want)
	}
	if cancelled.Load() {
		t.Error("sink saw a cancelled context while draining")
	}
}

func TestScheduler_NoTicksBeforeReady(t *testing.T) {
	reader := &fixedReader{}
	sink := &recordSink{name: "realtime"}
	s := NewScheduler(reader, []Sink{sink}, Options{Interval: time.Millisecond})

	ready := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, ready) }()

	time.Sleep(30 * time.Millisecond)
	if n := reader.calls.Load(); n != 0 {
		t.Fatalf("reader called %d times before ready", n)
	}

	close(ready)
	deadline := time.After(2 * time.Second)
	for reader.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no tick after ready")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestScheduler_CancelBeforeReady(t *testing.T) {
	reader := &fixedReader{}
	s := NewScheduler(reader, nil, Options{Interval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, make(chan struct{})); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if n := reader.calls.Load(); n != 0 {
		t.Errorf("reader called %d times", n)
	}
}

func TestNewScheduler_DefaultPeriod(t *testing.T) {
	s := NewScheduler(&fixedReader{}, nil, Options{})
	if s.interval != Period {
		t.Errorf("interval = %v, want %v", s.interval, Period)
	}
	if Period != time.Second {
		t.Errorf("Period = %v, want 1s", Period)
	}
}
