package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"grid_bot/internal/models"
)

func tick(p float64) models.Tick { return models.Tick{Symbol: "BTCUSDT", Price: p} }

func drain(q *Queue) []float64 {
	var out []float64
	for {
		select {
		case t := <-q.ch:
			out = append(out, t.Price)
		default:
			return out
		}
	}
}

func TestQueue_DropOldestKeepsNewest(t *testing.T) {
	q := NewQueue(2, models.QueueDropOldest)
	ctx := context.Background()
	q.Push(ctx, tick(1))
	q.Push(ctx, tick(2))
	if q.Push(ctx, tick(3)) {
		t.Fatal("push into full queue must report a drop")
	}

	got := drain(q)
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("queue = %v, want [2 3]", got)
	}
	if q.Dropped() != 1 {
		t.Fatalf("dropped = %d", q.Dropped())
	}
}

func TestQueue_DropNewest(t *testing.T) {
	q := NewQueue(2, models.QueueDropNewest)
	ctx := context.Background()
	q.Push(ctx, tick(1))
	q.Push(ctx, tick(2))
	q.Push(ctx, tick(3))

	got := drain(q)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("queue = %v, want [1 2]", got)
	}
}

func TestQueue_BlockWaitsForSpaceOrContext(t *testing.T) {
	q := NewQueue(1, models.QueueBlock)
	q.Push(context.Background(), tick(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if q.Push(ctx, tick(2)) {
		t.Fatal("push into full blocking queue must wait and fail on ctx timeout")
	}
	if q.Dropped() != 0 {
		t.Fatal("block policy never counts drops")
	}
}

func TestQueue_RunInOrderWithoutOverlap(t *testing.T) {
	q := NewQueue(100, models.QueueBlock)
	ctx, cancel := context.WithCancel(context.Background())
	for i := 1; i <= 50; i++ {
		q.Push(ctx, tick(float64(i)))
	}

	var (
		mu       sync.Mutex
		seen     []float64
		inFlight atomic.Int32
		overlap  atomic.Bool
	)
	done := make(chan error)
	go func() {
		done <- q.Run(ctx, func(_ context.Context, tk models.Tick) error {
			if inFlight.Add(1) > 1 {
				overlap.Store(true)
			}
			mu.Lock()
			seen = append(seen, tk.Price)
			n := len(seen)
			mu.Unlock()
			inFlight.Add(-1)
			if n == 50 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	if overlap.Load() {
		t.Fatal("ticks processed concurrently")
	}
	for i, p := range seen {
		if p != float64(i+1) {
			t.Fatalf("out of order at %d: %v", i, seen)
		}
	}
}

func TestQueue_SingleConsumer(t *testing.T) {
	q := NewQueue(1, models.QueueBlock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = q.Run(ctx, func(context.Context, models.Tick) error {
			close(started)
			<-release
			return nil
		})
	}()
	q.Push(ctx, tick(1))
	<-started

	if err := q.Run(ctx, func(context.Context, models.Tick) error { return nil }); !errors.Is(err, ErrConsumerRunning) {
		t.Fatalf("second consumer: %v", err)
	}
	close(release)
}

func TestQueue_ShutdownFinishesCurrentTick(t *testing.T) {
	q := NewQueue(4, models.QueueBlock)
	ctx, cancel := context.WithCancel(context.Background())
	q.Push(ctx, tick(1))
	q.Push(ctx, tick(2))

	var handled []float64
	var tickCtxErr error
	done := make(chan error)
	go func() {
		done <- q.Run(ctx, func(tctx context.Context, tk models.Tick) error {
			cancel() // сигнал остановки во время обработки
			time.Sleep(10 * time.Millisecond)
			tickCtxErr = tctx.Err()
			handled = append(handled, tk.Price)
			return nil
		})
	}()

	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(handled) != 1 || handled[0] != 1 {
		t.Fatalf("handled = %v, want only the tick in progress", handled)
	}
	if tickCtxErr != nil {
		t.Fatalf("tick context cancelled mid-tick: %v", tickCtxErr)
	}
}

func TestQueue_HandlerErrorStopsConsumer(t *testing.T) {
	q := NewQueue(2, models.QueueBlock)
	q.Push(context.Background(), tick(1))

	err := q.Run(context.Background(), func(context.Context, models.Tick) error {
		return models.ErrTradingHalted
	})
	if !errors.Is(err, models.ErrTradingHalted) {
		t.Fatalf("run: %v", err)
	}
}
