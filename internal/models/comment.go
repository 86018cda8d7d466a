package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotifyStatus is the coarse legacy progress marker. It records the last task that completed.
type NotifyStatus string

const (
	NotifyStatusNone    NotifyStatus = ""
	NotifyStatusNoticed NotifyStatus = "noticed"
	NotifyStatusSended  NotifyStatus = "sended"
	NotifyStatusFinish  NotifyStatus = "finish"
)

type Comment struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Nick      string    `gorm:"size:64;not null" json:"nick"`
	Mail      string    `gorm:"size:255" json:"mail"`
	Comment   string    `gorm:"type:text;not null" json:"comment"`
	URL       string    `gorm:"size:512;index" json:"url"`
	Pid       *string   `gorm:"size:36;index" json:"pid"` // Nullable for top-level comments
	Rid       *string   `gorm:"size:36" json:"rid"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// 通知状态，仅由通知流程修改
	OwnerNotified bool         `gorm:"default:false" json:"ownerNotified"`
	ReplyNotified bool         `gorm:"default:false" json:"replyNotified"`
	IsNotified    bool         `gorm:"default:false;index" json:"isNotified"`
	NotifyStatus  NotifyStatus `gorm:"type:varchar(16);default:''" json:"notifyStatus"`
}

func (Comment) TableName() string {
	return "comments"
}

func (c *Comment) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// IsReply reports whether the comment answers another one.
func (c *Comment) IsReply() bool {
	return c.Pid != nil && *c.Pid != ""
}

// ParentID returns the parent comment id or "".
func (c *Comment) ParentID() string {
	if c.Pid == nil {
		return ""
	}
	return *c.Pid
}

// NormalizeNotifyState lifts records written before the per-task flags existed.
// A record already marked notified counts both tasks as done.
func (c *Comment) NormalizeNotifyState() {
	if c.IsNotified || c.NotifyStatus == NotifyStatusFinish {
		c.OwnerNotified = true
		c.ReplyNotified = true
		c.IsNotified = true
		c.NotifyStatus = NotifyStatusFinish
	}
}

// ErrCommentNotFound is returned by stores when no comment has the requested id.
var ErrCommentNotFound = errors.New("comment not found")
