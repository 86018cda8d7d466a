package db

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"valinemail/internal/models"
)

// Finder loads a comment by id.
type Finder interface {
	FindByID(ctx context.Context, id string) (*models.Comment, error)
}

// CachedFinder 缓存父评论查询，同一楼层被多次回复时只访问一次数据库
type CachedFinder struct {
	next  Finder
	cache *expirable.LRU[string, models.Comment]
}

func NewCachedFinder(next Finder, size int, ttl time.Duration) *CachedFinder {
	return &CachedFinder{
		next:  next,
		cache: expirable.NewLRU[string, models.Comment](size, nil, ttl),
	}
}

// FindByID serves hits from the cache. Errors are never cached.
func (f *CachedFinder) FindByID(ctx context.Context, id string) (*models.Comment, error) {
	if c, ok := f.cache.Get(id); ok {
		return &c, nil
	}
	c, err := f.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	f.cache.Add(id, *c)
	return c, nil
}
