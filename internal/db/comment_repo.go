package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"valinemail/internal/models"
)

// notifyColumns are the only columns the notification flow ever writes.
var notifyColumns = []string{"owner_notified", "reply_notified", "is_notified", "notify_status"}

type CommentRepository struct {
	db *gorm.DB
}

func NewCommentRepository(db *gorm.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

func (r *CommentRepository) Create(ctx context.Context, c *models.Comment) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

// FindByID returns models.ErrCommentNotFound when the id does not exist.
func (r *CommentRepository) FindByID(ctx context.Context, id string) (*models.Comment, error) {
	var c models.Comment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrCommentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find comment %s: %w", id, err)
	}
	return &c, nil
}

// FindUnnotified lists comments created at or after since whose notification never completed, oldest first.
func (r *CommentRepository) FindUnnotified(ctx context.Context, since time.Time, limit int) ([]models.Comment, error) {
	var list []models.Comment
	if err := r.unnotifiedQuery(r.db.WithContext(ctx), since, limit).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("query unnotified comments: %w", err)
	}
	return list, nil
}

func (r *CommentRepository) unnotifiedQuery(tx *gorm.DB, since time.Time, limit int) *gorm.DB {
	return tx.Model(&models.Comment{}).
		Where("created_at >= ?", since).
		Where("is_notified IS NOT TRUE").
		Order("created_at ASC").
		Limit(limit)
}

// SaveNotifyState writes the notification columns of c in one statement.
func (r *CommentRepository) SaveNotifyState(ctx context.Context, c *models.Comment) error {
	err := r.db.WithContext(ctx).
		Model(&models.Comment{ID: c.ID}).
		Select(notifyColumns).
		Updates(map[string]interface{}{
			"owner_notified": c.OwnerNotified,
			"reply_notified": c.ReplyNotified,
			"is_notified":    c.IsNotified,
			"notify_status":  string(c.NotifyStatus),
		}).Error
	if err != nil {
		return fmt.Errorf("save notify state of %s: %w", c.ID, err)
	}
	return nil
}
