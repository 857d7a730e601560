package push

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/metrics"
)

type job struct {
	token, title, body string
}

// Queue: фоновая отправка пушей: Notify не блокирует вызывающего, ошибки и паники
// одной задачи не влияют на остальные.
type Queue struct {
	sender  Sender
	jobs    chan job
	workers int
	timeout time.Duration
	onGone  func(ctx context.Context, token string)

	wg       sync.WaitGroup
	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool
}

// NewQueue: size: ёмкость буфера, workers: число горутин отправки.
// onGone вызывается, когда подписка больше не действительна (может быть nil).
func NewQueue(sender Sender, size, workers int, onGone func(ctx context.Context, token string)) *Queue {
	if size <= 0 {
		size = 1024
	}
	if workers <= 0 {
		workers = 4
	}
	return &Queue{
		sender:  sender,
		jobs:    make(chan job, size),
		workers: workers,
		timeout: 10 * time.Second,
		onGone:  onGone,
	}
}

func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Stop перестаёт принимать задачи и дожидается отправки оставшихся.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		close(q.jobs)
		q.mu.Unlock()
	})
	q.wg.Wait()
}

// Notify ставит уведомление в очередь. Полная очередь: задача отбрасывается.
func (q *Queue) Notify(token, title, body string) {
	if token == "" {
		return
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return
	}
	select {
	case q.jobs <- job{token: token, title: title, body: body}:
		metrics.PushQueueDepth.Inc()
	default:
		metrics.PushJobs.WithLabelValues("dropped").Inc()
		logger.Errorf("push queue full, dropping notification %q", title)
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		metrics.PushQueueDepth.Dec()
		q.run(j)
	}
}

func (q *Queue) run(j job) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.PushJobs.WithLabelValues("panic").Inc()
			logger.Errorf("push job panic: %v", rec)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	err := q.sender.Send(ctx, j.token, j.title, j.body)
	switch {
	case err == nil:
		metrics.PushJobs.WithLabelValues("sent").Inc()
	case errors.Is(err, ErrGone):
		metrics.PushJobs.WithLabelValues("gone").Inc()
		if q.onGone != nil {
			q.onGone(ctx, j.token)
		}
	default:
		metrics.PushJobs.WithLabelValues("failed").Inc()
		logger.Errorf("push send %q: %v", j.title, err)
	}
}
