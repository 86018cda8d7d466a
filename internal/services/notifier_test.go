package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"valinemail/internal/models"
)

func newTestNotifier(t *testing.T, sender *fakeSender, store *memStore) *Notifier {
	return NewNotifier(newTestDispatcher(t, sender, store), store, nopLog())
}

func TestProcessTopLevelComment(t *testing.T) {
	c := comment("c1", "alice", "alice@example.com", "")
	store := newMemStore(c)
	sender := newFakeSender()
	n := newTestNotifier(t, sender, store)

	require.NoError(t, n.ProcessNewComment(context.Background(), &c))

	assert.Equal(t, 1, sender.sentTo(ownerMail))
	assert.Len(t, sender.messages(), 1)

	got := store.get("c1")
	assert.True(t, got.IsNotified)
	assert.True(t, got.OwnerNotified)
	assert.True(t, got.ReplyNotified)
	assert.Equal(t, models.NotifyStatusFinish, got.NotifyStatus)
}

func TestProcessOwnerComment(t *testing.T) {
	c := comment("c1", "站长", ownerMail, "")
	store := newMemStore(c)
	sender := newFakeSender()
	n := newTestNotifier(t, sender, store)

	require.NoError(t, n.ProcessNewComment(context.Background(), &c))

	assert.Empty(t, sender.messages())
	assert.True(t, store.get("c1").IsNotified)
	assert.Equal(t, models.NotifyStatusFinish, store.get("c1").NotifyStatus)
}

func TestProcessReplySendsBoth(t *testing.T) {
	parent := comment("p1", "bob", "bob@example.com", "")
	parent.IsNotified = true
	parent.NotifyStatus = models.NotifyStatusFinish
	c := comment("c2", "alice", "alice@example.com", "p1")
	store := newMemStore(parent, c)
	sender := newFakeSender()
	n := newTestNotifier(t, sender, store)

	require.NoError(t, n.ProcessNewComment(context.Background(), &c))

	assert.Equal(t, 1, sender.sentTo(ownerMail))
	assert.Equal(t, 1, sender.sentTo("bob@example.com"))
	assert.True(t, store.get("c2").IsNotified)
}

func TestProcessIsIdempotent(t *testing.T) {
	parent := comment("p1", "bob", "bob@example.com", "")
	c := comment("c2", "alice", "alice@example.com", "p1")
	store := newMemStore(parent, c)
	sender := newFakeSender()
	n := newTestNotifier(t, sender, store)

	require.NoError(t, n.ProcessNewComment(context.Background(), &c))
	require.Len(t, sender.messages(), 2)

	again := store.get("c2")
	require.NoError(t, n.ProcessNewComment(context.Background(), &again))
	assert.Len(t, sender.messages(), 2)
}

func TestProcessStaleCopyDoesNotResend(t *testing.T) {
	c := comment("c1", "alice", "alice@example.com", "")
	store := newMemStore(c)
	sender := newFakeSender()
	n := newTestNotifier(t, sender, store)

	stale := c
	require.NoError(t, n.ProcessNewComment(context.Background(), &c))
	require.NoError(t, n.ProcessNewComment(context.Background(), &stale))
	assert.Len(t, sender.messages(), 1)
}

func TestProcessPartialFailure(t *testing.T) {
	parent := comment("p1", "bob", "bob@example.com", "")
	c := comment("c2", "alice", "alice@example.com", "p1")
	store := newMemStore(parent, c)
	sender := newFakeSender()
	sender.setFail(ownerMail, errTransport)
	n := newTestNotifier(t, sender, store)

	err := n.ProcessNewComment(context.Background(), &c)
	require.ErrorIs(t, err, ErrDeliveryFailed)
	assert.ErrorIs(t, err, errTransport)

	got := store.get("c2")
	assert.False(t, got.IsNotified)
	assert.False(t, got.OwnerNotified)
	assert.True(t, got.ReplyNotified)
	assert.Equal(t, models.NotifyStatusSended, got.NotifyStatus)
	assert.Equal(t, 1, sender.sentTo("bob@example.com"))

	// 恢复后重跑只补发失败的那一封
	sender.setFail(ownerMail, nil)
	require.NoError(t, n.ProcessNewComment(context.Background(), &got))

	got = store.get("c2")
	assert.True(t, got.IsNotified)
	assert.Equal(t, models.NotifyStatusFinish, got.NotifyStatus)
	assert.Equal(t, 1, sender.sentTo(ownerMail))
	assert.Equal(t, 1, sender.sentTo("bob@example.com"))
}

func TestProcessNoticeDoneReplyFails(t *testing.T) {
	parent := comment("p1", "bob", "bob@example.com", "")
	c := comment("c2", "alice", "alice@example.com", "p1")
	store := newMemStore(parent, c)
	sender := newFakeSender()
	sender.setFail("bob@example.com", errTransport)
	n := newTestNotifier(t, sender, store)

	err := n.ProcessNewComment(context.Background(), &c)
	require.ErrorIs(t, err, ErrDeliveryFailed)

	got := store.get("c2")
	assert.True(t, got.OwnerNotified)
	assert.False(t, got.ReplyNotified)
	assert.False(t, got.IsNotified)
	assert.Equal(t, models.NotifyStatusNoticed, got.NotifyStatus)
}

func TestProcessLegacyMarker(t *testing.T) {
	c := comment("c1", "alice", "alice@example.com", "")
	c.NotifyStatus = models.NotifyStatusFinish
	store := newMemStore(c)
	sender := newFakeSender()
	n := newTestNotifier(t, sender, store)

	require.NoError(t, n.ProcessNewComment(context.Background(), &c))
	assert.Empty(t, sender.messages())
	assert.True(t, store.get("c1").IsNotified)
}

func TestProcessPersistFailure(t *testing.T) {
	c := comment("c1", "alice", "alice@example.com", "")
	store := newMemStore(c)
	store.saveErr = errors.New("database is read only")
	sender := newFakeSender()
	n := newTestNotifier(t, sender, store)

	err := n.ProcessNewComment(context.Background(), &c)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDeliveryFailed)
	assert.Len(t, sender.messages(), 1)
	assert.False(t, store.get("c1").IsNotified)
}

func TestProcessDeletedComment(t *testing.T) {
	c := comment("c1", "alice", "alice@example.com", "")
	sender := newFakeSender()
	n := newTestNotifier(t, sender, newMemStore())

	require.NoError(t, n.ProcessNewComment(context.Background(), &c))
	assert.Empty(t, sender.messages())
}

func TestProcessConcurrentRoundsSendOnce(t *testing.T) {
	c := comment("c1", "alice", "alice@example.com", "")
	store := newMemStore(c)
	sender := newFakeSender()
	sender.delay = 20 * time.Millisecond
	n := newTestNotifier(t, sender, store)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := c
			assert.NoError(t, n.ProcessNewComment(context.Background(), &cp))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, sender.sentTo(ownerMail))
	assert.Empty(t, n.locks.locks)
}

func TestMarkDone(t *testing.T) {
	c := &models.Comment{}
	markDone(c, KindSend)
	assert.Equal(t, models.NotifyStatusSended, c.NotifyStatus)
	markDone(c, KindNotice)
	assert.Equal(t, models.NotifyStatusFinish, c.NotifyStatus)

	c = &models.Comment{}
	markDone(c, KindNotice)
	assert.Equal(t, models.NotifyStatusNoticed, c.NotifyStatus)
}

func TestProcessSavesAfterCallerCancels(t *testing.T) {
	c := comment("c1", "alice", "alice@example.com", "")
	mem := newMemStore(c)
	store := ctxStore{mem}
	sender := newFakeSender()
	n := NewNotifier(newTestDispatcher(t, sender, store), store, nopLog())

	// 邮件已经发出后调用方断开
	ctx, cancel := context.WithCancel(context.Background())
	sender.onSend = func(Message) { cancel() }

	require.NoError(t, n.ProcessNewComment(ctx, &c))
	assert.True(t, mem.get("c1").IsNotified)
	assert.True(t, mem.get("c1").OwnerNotified)

	sender.onSend = nil
	again := models.Comment{ID: "c1"}
	require.NoError(t, n.ProcessNewComment(context.Background(), &again))
	assert.Equal(t, 1, sender.sentTo(ownerMail))
}

func TestProcessCanceledParentLookupIsNotSkipped(t *testing.T) {
	parent := comment("p1", "bob", "bob@example.com", "")
	c := comment("c2", "alice", "alice@example.com", "p1")
	mem := newMemStore(parent, c)
	store := ctxStore{mem}
	sender := newFakeSender()
	n := NewNotifier(newTestDispatcher(t, sender, store), store, nopLog())

	// 回复任务开始时调用方取消，父评论查询随之失败
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.dispatcher = cancelBeforeSend{next: n.dispatcher, cancel: cancel}

	err := n.ProcessNewComment(ctx, &c)
	require.ErrorIs(t, err, ErrDeliveryFailed)
	assert.ErrorIs(t, err, context.Canceled)

	got := mem.get("c2")
	assert.True(t, got.OwnerNotified)
	assert.False(t, got.ReplyNotified)
	assert.False(t, got.IsNotified)
	assert.Zero(t, sender.sentTo("bob@example.com"))
}

// cancelBeforeSend cancels the round's context before the reply task looks up its parent.
type cancelBeforeSend struct {
	next   TaskDispatcher
	cancel context.CancelFunc
}

func (d cancelBeforeSend) Dispatch(ctx context.Context, kind Kind, c *models.Comment) (Receipt, error) {
	if kind == KindSend {
		d.cancel()
	}
	return d.next.Dispatch(ctx, kind, c)
}

func TestProcessReloadFailure(t *testing.T) {
	c := comment("c1", "alice", "alice@example.com", "")
	store := newMemStore(c)
	store.findErr["c1"] = errors.New("connection reset by peer")
	sender := newFakeSender()
	n := newTestNotifier(t, sender, store)

	err := n.ProcessNewComment(context.Background(), &models.Comment{ID: "c1"})
	require.Error(t, err)
	assert.Empty(t, sender.messages())
	assert.Zero(t, store.saves)
}

func TestProcessRunsTasksConcurrently(t *testing.T) {
	parent := comment("p1", "bob", "bob@example.com", "")
	c := comment("c2", "alice", "alice@example.com", "p1")
	store := newMemStore(parent, c)
	sender := newFakeSender()
	sender.delays[ownerMail] = 200 * time.Millisecond
	sender.delays["bob@example.com"] = 200 * time.Millisecond
	n := newTestNotifier(t, sender, store)

	start := time.Now()
	require.NoError(t, n.ProcessNewComment(context.Background(), &c))
	elapsed := time.Since(start)

	assert.Len(t, sender.messages(), 2)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 350*time.Millisecond, "round should take the slower task, not the sum")
}
