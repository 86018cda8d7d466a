package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"valinemail/internal/config"
	"valinemail/internal/metrics"
	"valinemail/internal/models"
)

// UnnotifiedFinder lists comments whose notification never completed.
type UnnotifiedFinder interface {
	FindUnnotified(ctx context.Context, since time.Time, limit int) ([]models.Comment, error)
}

// CommentProcessor runs one notification round for a comment.
type CommentProcessor interface {
	ProcessNewComment(ctx context.Context, c *models.Comment) error
}

// Sweeper re-drives notification for comments of the trailing window that never reached finish.
type Sweeper struct {
	store     UnnotifiedFinder
	processor CommentProcessor
	limit     int
	window    time.Duration
	now       func() time.Time
	log       *zap.SugaredLogger
}

func NewSweeper(store UnnotifiedFinder, processor CommentProcessor, cfg config.SweepConfig, log *zap.SugaredLogger) *Sweeper {
	window := cfg.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Sweeper{
		store:     store,
		processor: processor,
		limit:     config.ClampSweepLimit(cfg.Limit),
		window:    window,
		now:       time.Now,
		log:       log.Named("sweep"),
	}
}

// SweepUnnotified processes every matched comment concurrently and returns how many matched,
// not how many succeeded.
func (s *Sweeper) SweepUnnotified(ctx context.Context) (int, error) {
	since := s.now().Add(-s.window)
	list, err := s.store.FindUnnotified(ctx, since, s.limit)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}

	var (
		g      errgroup.Group
		failed atomic.Int64
	)
	for i := range list {
		c := &list[i]
		g.Go(func() error {
			if err := s.processor.ProcessNewComment(ctx, c); err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	metrics.SweepMatched.Add(float64(len(list)))
	metrics.SweepRemaining.Set(float64(len(list)))
	s.log.Infow("Unsent notifications from the last day processed",
		"matched", len(list), "failed", failed.Load(), "limit", s.limit)
	return len(list), nil
}
