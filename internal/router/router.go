package router

import (
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"valinemail/internal/handlers"
)

type Handlers struct {
	Mail    *handlers.MailHandler
	Comment *handlers.CommentHandler
}

// New builds the engine with zap request logging and panic recovery.
func New(log *zap.Logger, debug bool, h Handlers) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
	)
	RegisterRoutes(r, h)
	return r
}

func RegisterRoutes(r *gin.Engine, h Handlers) {
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") }) // 存活检查
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))                           // Prometheus 指标

	r.GET("/resend_mails", h.Mail.ResendMails) // 补发未完成的通知
	r.GET("/verify_mail", h.Mail.VerifyMail)   // 检查 SMTP 配置

	r.POST("/comments", h.Comment.Create) // 保存评论并触发通知
}
