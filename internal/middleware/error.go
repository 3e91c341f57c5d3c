package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/slinet/ehsync/pkg/utils"
	"go.uber.org/zap"
)

// ErrorHandler returns a middleware that turns accumulated gin errors
// into a uniform 500 response
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last()
			logger.Error("request error",
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
				zap.Error(err),
			)

			c.JSON(500, utils.GetResponse(nil, 500, "Internal server error", nil))
		}
	}
}

// Recovery returns a middleware for panic recovery
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)

				c.JSON(500, utils.GetResponse(nil, 500, "Internal server error", nil))
				c.Abort()
			}
		}()

		c.Next()
	}
}
