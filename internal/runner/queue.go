package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"grid_bot/internal/metrics"
	"grid_bot/internal/models"
)

var ErrConsumerRunning = errors.New("queue consumer already running")

// Queue: ограниченная очередь тиков между стримом и единственным потребителем.
type Queue struct {
	ch      chan models.Tick
	policy  models.QueuePolicy
	mu      sync.Mutex // Push при drop_oldest: вытеснение и запись одним шагом
	running atomic.Bool
	dropped atomic.Int64
}

func NewQueue(size int, policy models.QueuePolicy) *Queue {
	if size <= 0 {
		size = 1
	}
	if policy == "" {
		policy = models.QueueDropOldest
	}
	return &Queue{ch: make(chan models.Tick, size), policy: policy}
}

func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) Dropped() int64 { return q.dropped.Load() }

func (q *Queue) Policy() models.QueuePolicy { return q.policy }

// Push кладёт тик по политике очереди. false: тик (или вытесненный старый) отброшен,
// либо ctx отменён при политике block.
func (q *Queue) Push(ctx context.Context, t models.Tick) bool {
	defer func() { metrics.QueueDepth.Set(float64(len(q.ch))) }()

	switch q.policy {
	case models.QueueBlock:
		select {
		case q.ch <- t:
			return true
		case <-ctx.Done():
			return false
		}

	case models.QueueDropNewest:
		select {
		case q.ch <- t:
			return true
		default:
			q.drop()
			return false
		}

	default: // drop_oldest
		q.mu.Lock()
		defer q.mu.Unlock()
		select {
		case q.ch <- t:
			return true
		default:
		}
		select {
		case <-q.ch:
			q.drop()
		default:
		}
		select {
		case q.ch <- t:
		default:
			q.drop()
		}
		return false
	}
}

func (q *Queue) drop() {
	q.dropped.Add(1)
	metrics.TicksDropped.WithLabelValues(string(q.policy)).Inc()
}

// Run: цикл единственного потребителя. Каждый тик обрабатывается до конца
// до взятия следующего; отмена ctx не прерывает текущий тик.
// Ошибка handle останавливает цикл и возвращается.
func (q *Queue) Run(ctx context.Context, handle func(context.Context, models.Tick) error) error {
	if !q.running.CompareAndSwap(false, true) {
		return ErrConsumerRunning
	}
	defer q.running.Store(false)

	tickCtx := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case t := <-q.ch:
			metrics.QueueDepth.Set(float64(len(q.ch)))
			if err := handle(tickCtx, t); err != nil {
				return err
			}
		}
	}
}
