package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kristoforerickson/mkr1000/internal/modules/measurements/types"
)

type fakeKV struct {
	vals   map[string]string
	ttl    time.Duration
	setErr error
}

func (f *fakeKV) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	switch v := value.(type) {
	case []byte:
		f.vals[key] = string(v)
	case string:
		f.vals[key] = v
	}
	f.ttl = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.vals[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestLatestStore_PutAndLatest(t *testing.T) {
	kv := &fakeKV{vals: map[string]string{}}
	store := NewLatestStore(kv)
	ctx := context.Background()

	if _, err := store.Latest(ctx); !errors.Is(err, ErrNoSample) {
		t.Fatalf("Latest on empty cache = %v, want ErrNoSample", err)
	}

	in := types.NewSample(1700000000000, types.IntPtr(21), nil, types.IntPtr(64))
	if err := store.Deliver(ctx, in); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if kv.ttl != LatestTTL {
		t.Errorf("ttl = %v, want %v", kv.ttl, LatestTTL)
	}
	if got := kv.vals[LatestKey]; got != `{"date":1700000000000,"temp":21,"moisture":64}` {
		t.Errorf("stored value = %s", got)
	}

	out, err := store.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if out.Timestamp != in.Timestamp || *out.Temperature != 21 || out.Light != nil || *out.Moisture != 64 {
		t.Errorf("Latest = %+v", out)
	}
}

func TestLatestStore_SetError(t *testing.T) {
	store := NewLatestStore(&fakeKV{vals: map[string]string{}, setErr: errors.New("connection refused")})
	if err := store.Put(context.Background(), types.Sample{Timestamp: 1}); err == nil {
		t.Fatal("Put with failing redis: want error")
	}
}

func TestLatestStore_CorruptValue(t *testing.T) {
	store := NewLatestStore(&fakeKV{vals: map[string]string{LatestKey: "not json"}})
	if _, err := store.Latest(context.Background()); err == nil || errors.Is(err, ErrNoSample) {
		t.Fatalf("Latest with corrupt value = %v, want decode error", err)
	}
}
