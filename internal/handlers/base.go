package handlers

import (
	"github.com/gin-gonic/gin"
)

// RespondError 统一的 JSON 错误返回
func RespondError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg(err)})
}

func msg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
