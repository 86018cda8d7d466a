package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"valinemail/internal/config"
	"valinemail/internal/metrics"
	"valinemail/internal/models"
)

const maxRetryBackoff = 30 * time.Minute

type queueItem struct {
	id      string
	attempt int
}

// NotifyQueue 评论保存后异步发送通知邮件的队列
type NotifyQueue struct {
	queue     chan queueItem
	pending   map[string]bool
	mu        sync.Mutex
	processor CommentProcessor

	workers    int
	maxRetries int
	backoff    time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	log      *zap.SugaredLogger
}

func NewNotifyQueue(processor CommentProcessor, cfg config.QueueConfig, log *zap.SugaredLogger) *NotifyQueue {
	if cfg.Size <= 0 {
		cfg.Size = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 10 * time.Second
	}
	return &NotifyQueue{
		queue:      make(chan queueItem, cfg.Size),
		pending:    make(map[string]bool),
		processor:  processor,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		done:       make(chan struct{}),
		log:        log.Named("queue"),
	}
}

// Start 启动后台 worker
func (q *NotifyQueue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.log.Infow("Notify queue started", "workers", q.workers, "capacity", cap(q.queue))
}

// Enqueue schedules a notification round for id. Ids already pending are ignored.
// It never blocks; a full queue drops the id and leaves it to the sweep.
func (q *NotifyQueue) Enqueue(id string) bool {
	q.mu.Lock()
	if q.pending[id] {
		q.mu.Unlock()
		return false
	}
	q.pending[id] = true
	q.mu.Unlock()

	if !q.push(queueItem{id: id}) {
		q.clear(id)
		metrics.QueueDropped.Inc()
		q.log.Warnw("Notify queue full or stopped, leaving comment to the sweep", "comment", id)
		return false
	}
	return true
}

func (q *NotifyQueue) push(it queueItem) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.queue <- it:
		metrics.QueueDepth.Set(float64(len(q.queue)))
		return true
	default:
		return false
	}
}

func (q *NotifyQueue) clear(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}

func (q *NotifyQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			// 处理完缓冲区里剩余的评论再退出
			for {
				select {
				case it := <-q.queue:
					q.handle(it)
				default:
					return
				}
			}
		case it := <-q.queue:
			metrics.QueueDepth.Set(float64(len(q.queue)))
			q.handle(it)
		}
	}
}

func (q *NotifyQueue) handle(it queueItem) {
	ctx := context.Background()
	it.attempt++

	// 处理器会在加锁后按 id 重新读取整条评论；评论已删除时直接返回 nil
	err := q.processor.ProcessNewComment(ctx, &models.Comment{ID: it.id})
	if err == nil {
		q.clear(it.id)
		return
	}
	if it.attempt > q.maxRetries {
		q.log.Errorw("Notification round failed after all retries, leaving comment to the sweep",
			"comment", it.id, "attempts", it.attempt, "error", err)
		q.clear(it.id)
		return
	}

	delay := q.retryDelay(it.attempt)
	metrics.QueueRetries.Inc()
	q.log.Warnw("Notification round failed, scheduling retry",
		"comment", it.id, "attempt", it.attempt, "retryIn", delay, "error", err)
	time.AfterFunc(delay, func() {
		if !q.push(it) {
			q.clear(it.id)
			metrics.QueueDropped.Inc()
		}
	})
}

// retryDelay doubles the initial backoff per attempt, capped at 30 minutes.
func (q *NotifyQueue) retryDelay(attempt int) time.Duration {
	d := q.backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	return d
}

// Len returns the number of buffered ids.
func (q *NotifyQueue) Len() int {
	return len(q.queue)
}

// Stop 停止接收新任务，等待 worker 处理完缓冲区
func (q *NotifyQueue) Stop(ctx context.Context) error {
	q.stopOnce.Do(func() { close(q.done) })

	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		q.log.Info("Notify queue stopped")
		return nil
	case <-ctx.Done():
		q.log.Warn("Notify queue stop timed out, remaining comments are left to the sweep")
		return ctx.Err()
	}
}
