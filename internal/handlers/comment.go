package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"valinemail/internal/models"
)

// CommentCreator persists a new comment. Saving fires the notification hook.
type CommentCreator interface {
	Create(ctx context.Context, c *models.Comment) error
}

type CommentHandler struct {
	repo CommentCreator
	log  *zap.SugaredLogger
}

func NewCommentHandler(repo CommentCreator, log *zap.SugaredLogger) *CommentHandler {
	return &CommentHandler{repo: repo, log: log.Named("handler.comment")}
}

type createCommentRequest struct {
	Nick    string  `json:"nick" binding:"required,max=64"`
	Mail    string  `json:"mail" binding:"omitempty,email,max=255"`
	Comment string  `json:"comment" binding:"required"`
	URL     string  `json:"url" binding:"required,max=512"`
	Pid     *string `json:"pid" binding:"omitempty,max=36"`
	Rid     *string `json:"rid" binding:"omitempty,max=36"`
}

// Create 保存评论，通知由保存后的回调异步发送
func (h *CommentHandler) Create(c *gin.Context) {
	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, err)
		return
	}

	comment := &models.Comment{
		Nick:    strings.TrimSpace(req.Nick),
		Mail:    strings.TrimSpace(req.Mail),
		Comment: req.Comment,
		URL:     req.URL,
		Pid:     emptyToNil(req.Pid),
		Rid:     emptyToNil(req.Rid),
	}
	if err := h.repo.Create(c.Request.Context(), comment); err != nil {
		h.log.Errorw("Failed to save comment", "url", req.URL, "error", err)
		RespondError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusCreated, comment)
}

func emptyToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
