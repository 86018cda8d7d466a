package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"valinemail/internal/config"
	"valinemail/internal/models"
)

var errTransport = errors.New("smtp: 421 service not available")

func nopLog() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// fakeSender records messages and fails for addresses listed in failFor.
type fakeSender struct {
	mu        sync.Mutex
	sent      []Message
	failFor   map[string]error
	verifyErr error
	delay     time.Duration
	delays    map[string]time.Duration
	onSend    func(Message)
}

func newFakeSender() *fakeSender {
	return &fakeSender{failFor: map[string]error{}, delays: map[string]time.Duration{}}
}

func (f *fakeSender) Send(ctx context.Context, msg Message) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if d := f.delays[msg.To]; d > 0 {
		time.Sleep(d)
	}
	f.mu.Lock()
	if err := f.failFor[msg.To]; err != nil {
		f.mu.Unlock()
		return err
	}
	f.sent = append(f.sent, msg)
	f.mu.Unlock()

	if f.onSend != nil {
		f.onSend(msg)
	}
	return nil
}

func (f *fakeSender) Verify(ctx context.Context) error {
	return f.verifyErr
}

func (f *fakeSender) setFail(addr string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failFor, addr)
		return
	}
	f.failFor[addr] = err
}

func (f *fakeSender) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.sent...)
}

func (f *fakeSender) sentTo(addr string) int {
	n := 0
	for _, m := range f.messages() {
		if m.To == addr {
			n++
		}
	}
	return n
}

// memStore is an in-memory comment store.
type memStore struct {
	mu       sync.Mutex
	comments map[string]models.Comment
	findErr  map[string]error
	saveErr  error
	saves    int
}

func newMemStore(cs ...models.Comment) *memStore {
	s := &memStore{comments: map[string]models.Comment{}, findErr: map[string]error{}}
	for _, c := range cs {
		s.comments[c.ID] = c
	}
	return s
}

func (s *memStore) put(c models.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[c.ID] = c
}

func (s *memStore) get(id string) models.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comments[id]
}

func (s *memStore) FindByID(ctx context.Context, id string) (*models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.findErr[id]; err != nil {
		return nil, err
	}
	c, ok := s.comments[id]
	if !ok {
		return nil, models.ErrCommentNotFound
	}
	return &c, nil
}

func (s *memStore) FindUnnotified(ctx context.Context, since time.Time, limit int) ([]models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Comment
	for _, c := range s.comments {
		if c.IsNotified || c.CreatedAt.Before(since) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) SaveNotifyState(ctx context.Context, c *models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	stored, ok := s.comments[c.ID]
	if !ok {
		return models.ErrCommentNotFound
	}
	stored.OwnerNotified = c.OwnerNotified
	stored.ReplyNotified = c.ReplyNotified
	stored.IsNotified = c.IsNotified
	stored.NotifyStatus = c.NotifyStatus
	s.comments[c.ID] = stored
	return nil
}

// ctxStore rejects reads and writes once ctx is done, like a gorm session bound to ctx.
type ctxStore struct {
	*memStore
}

func (s ctxStore) FindByID(ctx context.Context, id string) (*models.Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.memStore.FindByID(ctx, id)
}

func (s ctxStore) SaveNotifyState(ctx context.Context, c *models.Comment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.memStore.SaveNotifyState(ctx, c)
}

const (
	ownerMail = "owner@example.com"
	smtpUser  = "bot@example.com"
	siteURL   = "https://blog.example.com"
)

func testSMTP() config.SMTPConfig {
	return config.SMTPConfig{User: smtpUser, ToEmail: ownerMail, FromName: "Blog"}
}

func testSite() config.SiteConfig {
	return config.SiteConfig{Name: "小站", URL: siteURL}
}

func newTestDispatcher(t *testing.T, sender Sender, parents ParentFinder) *Dispatcher {
	tpl, err := LoadTemplates("", "", nopLog())
	require.NoError(t, err)
	return NewDispatcher(DispatcherDeps{
		Sender:    sender,
		Templates: tpl,
		Parents:   parents,
		SMTP:      testSMTP(),
		Site:      testSite(),
		Logger:    nopLog(),
	})
}

func strPtr(s string) *string { return &s }

func comment(id, nick, mail string, pid string) models.Comment {
	c := models.Comment{
		ID:        id,
		Nick:      nick,
		Mail:      mail,
		Comment:   "**你好** " + nick,
		URL:       "/posts/hello",
		CreatedAt: time.Now().Add(-time.Hour),
	}
	if pid != "" {
		c.Pid = strPtr(pid)
		c.Rid = strPtr(pid)
	}
	return c
}
