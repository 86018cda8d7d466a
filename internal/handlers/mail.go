package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Sweeper runs one pass over unnotified comments.
type Sweeper interface {
	SweepUnnotified(ctx context.Context) (int, error)
}

// Verifier checks the mail transport configuration.
type Verifier interface {
	Verify(ctx context.Context) error
}

type MailHandler struct {
	sweeper  Sweeper
	verifier Verifier
	log      *zap.SugaredLogger
}

func NewMailHandler(sweeper Sweeper, verifier Verifier, log *zap.SugaredLogger) *MailHandler {
	return &MailHandler{sweeper: sweeper, verifier: verifier, log: log.Named("handler.mail")}
}

// ResendMails 补发最近一天内未完成通知的评论，返回匹配到的条数
func (h *MailHandler) ResendMails(c *gin.Context) {
	n, err := h.sweeper.SweepUnnotified(c.Request.Context())
	if err != nil {
		h.log.Errorw("Resend failed", "error", err)
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.String(http.StatusOK, strconv.Itoa(n))
}

// VerifyMail 检查 SMTP 配置是否可用
func (h *MailHandler) VerifyMail(c *gin.Context) {
	if err := h.verifier.Verify(c.Request.Context()); err != nil {
		h.log.Warnw("Mail transport verification failed", "error", err)
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.String(http.StatusOK, "true")
}
