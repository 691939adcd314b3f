package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/intelliavatar/internal/common"
)

// Recovery turns a handler panic into a 500 envelope and logs the stack.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("http handler panicked",
					slog.String("method", c.Request.Method),
					slog.String("path", c.FullPath()),
					slog.String("request_id", c.GetString(RequestIDKey)),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				c.Abort()
				common.Fail(c, http.StatusInternalServerError, 50000, "internal server error")
			}
		}()
		c.Next()
	}
}
