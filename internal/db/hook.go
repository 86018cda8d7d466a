package db

import (
	"fmt"

	"gorm.io/gorm"

	"valinemail/internal/models"
)

const afterCreateCallback = "valinemail:comment_after_create"

// CreatedFunc receives the id of every comment persisted through gorm.
type CreatedFunc func(commentID string)

// RegisterCommentHook 在评论写入并提交后回调 fn。
// The callback runs after the commit step so consumers reading the row by id see it.
func RegisterCommentHook(db *gorm.DB, fn CreatedFunc) error {
	err := db.Callback().Create().
		After("gorm:commit_or_rollback_transaction").
		Register(afterCreateCallback, func(tx *gorm.DB) {
			if tx.Error != nil || tx.Statement.Schema == nil {
				return
			}
			if tx.Statement.Schema.Table != (&models.Comment{}).TableName() {
				return
			}
			for _, id := range createdCommentIDs(tx.Statement.Dest) {
				fn(id)
			}
		})
	if err != nil {
		return fmt.Errorf("register comment hook: %w", err)
	}
	return nil
}

func createdCommentIDs(dest interface{}) []string {
	switch v := dest.(type) {
	case *models.Comment:
		return []string{v.ID}
	case []models.Comment:
		return commentIDs(v)
	case *[]models.Comment:
		return commentIDs(*v)
	case []*models.Comment:
		ids := make([]string, 0, len(v))
		for _, c := range v {
			ids = append(ids, c.ID)
		}
		return ids
	}
	return nil
}

func commentIDs(list []models.Comment) []string {
	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	return ids
}
