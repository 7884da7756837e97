package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type blockingWorker struct {
	started atomic.Int32
	err     error
}

func (b *blockingWorker) Run(ctx context.Context) error {
	b.started.Add(1)
	if b.err != nil {
		return b.err
	}
	<-ctx.Done()
	return nil
}

func TestRunner_StopOnCancel(t *testing.T) {
	t.Parallel()
	w := &blockingWorker{}
	r := NewRunner(w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestRunner_PropagateError(t *testing.T) {
	t.Parallel()
	testErr := errors.New("worker failed")
	r := NewRunner(&blockingWorker{err: testErr})

	if err := r.Run(t.Context()); !errors.Is(err, testErr) {
		t.Errorf("err = %v, want %v", err, testErr)
	}
}

func TestRunner_FirstErrorCancelsSiblings(t *testing.T) {
	t.Parallel()
	testErr := errors.New("boom")
	healthy := &blockingWorker{}
	failing := &blockingWorker{err: testErr}
	r := NewRunner(healthy, failing)

	done := make(chan error, 1)
	go func() { done <- r.Run(t.Context()) }()

	select {
	case err := <-done:
		if !errors.Is(err, testErr) {
			t.Errorf("err = %v, want %v", err, testErr)
		}
		if healthy.started.Load() != 1 {
			t.Errorf("healthy worker started %d times, want 1", healthy.started.Load())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after worker failure")
	}
}

func TestWorkerName(t *testing.T) {
	t.Parallel()
	sampler := NewCacheKeySampler(&fakeKeyCounter{}, prometheus.NewGauge(prometheus.GaugeOpts{Name: "y"}))
	if got := workerName(sampler); got != "cache_keys" {
		t.Errorf("workerName(sampler) = %q, want %q", got, "cache_keys")
	}
	if got := workerName(&blockingWorker{}); got != "unknown" {
		t.Errorf("workerName(blockingWorker) = %q, want %q", got, "unknown")
	}
}
