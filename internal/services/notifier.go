package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"valinemail/internal/metrics"
	"valinemail/internal/models"
	"valinemail/internal/utils"
)

const saveTimeout = 10 * time.Second

// ErrDeliveryFailed is returned when at least one task of a round failed.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// TaskDispatcher runs one notification task.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, kind Kind, c *models.Comment) (Receipt, error)
}

// NotifyStateStore reads and persists the notification columns of a comment.
type NotifyStateStore interface {
	FindByID(ctx context.Context, id string) (*models.Comment, error)
	SaveNotifyState(ctx context.Context, c *models.Comment) error
}

// Notifier drives the per-comment notification state machine.
type Notifier struct {
	dispatcher TaskDispatcher
	store      NotifyStateStore
	locks      *keyedMutex
	log        *zap.SugaredLogger
}

func NewNotifier(dispatcher TaskDispatcher, store NotifyStateStore, log *zap.SugaredLogger) *Notifier {
	return &Notifier{
		dispatcher: dispatcher,
		store:      store,
		locks:      newKeyedMutex(),
		log:        log.Named("notifier"),
	}
}

// ProcessNewComment reloads c by id, attempts every task that has not completed yet,
// then persists the result once. Only c.ID needs to be set by the caller.
// Rounds for the same comment are serialized within the process.
func (n *Notifier) ProcessNewComment(ctx context.Context, c *models.Comment) error {
	unlock := n.locks.Lock(c.ID)
	defer unlock()

	// 拿到锁后重新读取整条评论，避免并发的另一轮刚发过的邮件被重复发送
	fresh, err := n.store.FindByID(ctx, c.ID)
	if errors.Is(err, models.ErrCommentNotFound) {
		n.log.Infow("Comment deleted, nothing to notify", "comment", c.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reload comment %s: %w", c.ID, err)
	}
	*c = *fresh
	c.NormalizeNotifyState()

	var tasks []Kind
	if !c.OwnerNotified {
		tasks = append(tasks, KindNotice)
	}
	if !c.ReplyNotified {
		tasks = append(tasks, KindSend)
	}

	// 两个任务并发执行，互不影响，等全部结束后再统一处理结果
	results := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, kind := range tasks {
		wg.Add(1)
		go func(i int, kind Kind) {
			defer wg.Done()
			_, results[i] = n.dispatcher.Dispatch(ctx, kind, c)
		}(i, kind)
	}
	wg.Wait()

	var failures []error
	for i, kind := range tasks {
		err := results[i]
		switch {
		case err == nil:
			n.log.Infow("Notification sent", "task", kind, "comment", c.ID, "nick", c.Nick)
		case IsSkip(err):
			n.log.Debugw("Notification skipped", "task", kind, "comment", c.ID, "reason", err.Error())
		default:
			n.log.Errorw("Notification failed", "task", kind, "comment", c.ID, "nick", c.Nick,
				"excerpt", utils.Excerpt(c.Comment, 40), "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		markDone(c, kind)
	}

	if len(failures) == 0 {
		c.IsNotified = true
		c.NotifyStatus = models.NotifyStatusFinish
		metrics.RoundsTotal.WithLabelValues("finished").Inc()
	} else {
		metrics.RoundsTotal.WithLabelValues("failed").Inc()
	}

	// 邮件可能已经交给 SMTP，调用方取消后也要把状态写回
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	var persistErr error
	if err := n.store.SaveNotifyState(saveCtx, c); err != nil {
		metrics.PersistFailures.Inc()
		n.log.Errorw("Failed to persist notify state", "comment", c.ID, "isNotified", c.IsNotified, "error", err)
		persistErr = fmt.Errorf("persist notify state: %w", err)
	}

	if len(failures) > 0 {
		return errors.Join(append([]error{ErrDeliveryFailed, persistErr}, failures...)...)
	}
	return persistErr
}

// markDone records a completed task. NotifyStatus mirrors the legacy single marker.
func markDone(c *models.Comment, kind Kind) {
	switch kind {
	case KindNotice:
		c.OwnerNotified = true
	case KindSend:
		c.ReplyNotified = true
	}

	switch {
	case c.OwnerNotified && c.ReplyNotified:
		c.NotifyStatus = models.NotifyStatusFinish
	case kind == KindNotice:
		c.NotifyStatus = models.NotifyStatusNoticed
	default:
		c.NotifyStatus = models.NotifyStatusSended
	}
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock blocks until key is free and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
