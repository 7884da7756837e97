package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeKeyCounter struct {
	n   int
	err error
}

func (f *fakeKeyCounter) KeyCount(context.Context) (int, error) {
	return f.n, f.err
}

func TestCacheKeySampler_InitialSample(t *testing.T) {
	t.Parallel()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "cache_keys"})
	w := NewCacheKeySampler(&fakeKeyCounter{n: 42}, g)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// The first sample happens before the ticker starts.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	if got := testutil.ToFloat64(g); got != 42 {
		t.Errorf("gauge = %f, want 42", got)
	}
}

func TestCacheKeySampler_CountError(t *testing.T) {
	t.Parallel()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "cache_keys"})
	w := NewCacheKeySampler(&fakeKeyCounter{err: errors.New("store down")}, g)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	// A failed sample leaves the gauge untouched.
	if got := testutil.ToFloat64(g); got != 0 {
		t.Errorf("gauge = %f, want 0", got)
	}
}

func TestCacheKeySampler_Name(t *testing.T) {
	t.Parallel()
	w := NewCacheKeySampler(&fakeKeyCounter{}, prometheus.NewGauge(prometheus.GaugeOpts{Name: "x"}))
	if got := w.Name(); got != "cache_keys" {
		t.Errorf("Name() = %q, want %q", got, "cache_keys")
	}
}
