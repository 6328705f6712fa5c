package verified

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerRunsEveryAcceptedJobWhenClosedConcurrently(t *testing.T) {
	for round := 0; round < 50; round++ {
		w := newWorker(64, time.Second, nil)

		var ran, accepted, refused atomic.Int64
		const submitters, perSubmitter = 8, 32

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < submitters; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < perSubmitter; j++ {
					err := w.submit(context.Background(), "insert", func(context.Context) error {
						ran.Add(1)
						return nil
					})
					switch {
					case err == nil:
						accepted.Add(1)
					case errors.Is(err, ErrClosed), errors.Is(err, ErrQueueFull):
						refused.Add(1)
					default:
						t.Errorf("unexpected submit error: %v", err)
					}
				}
			}()
		}
		close(start)
		w.close()
		wg.Wait()

		if got := accepted.Load() + refused.Load(); got != submitters*perSubmitter {
			t.Fatalf("round %d: %d submits accounted for, want %d", round, got, submitters*perSubmitter)
		}
		if ran.Load() != accepted.Load() {
			t.Fatalf("round %d: %d accepted jobs but %d ran", round, accepted.Load(), ran.Load())
		}
	}
}

func TestWorkerRefusesAfterClose(t *testing.T) {
	w := newWorker(1, 0, nil)
	w.close()
	if err := w.submit(context.Background(), "insert", func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := w.wait(context.Background()); err != nil {
		t.Fatalf("wait after close: %v", err)
	}
}
