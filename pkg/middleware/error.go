package middleware

import (
	"errors"
	"net/http"

	"voiceplane/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error attached to the gin context as the standard
// error envelope. Handlers attach domain errors with c.Error and abort.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil {
			return
		}

		var base errutil.BaseError
		if errors.As(last.Err, &base) {
			c.JSON(base.Code.HTTPStatus(), base.JSON())
			return
		}

		zap.L().Error("unhandled error", zap.Error(last.Err), zap.String("path", c.FullPath()))
		internal := errutil.Internal("internal server error").(errutil.BaseError)
		c.JSON(http.StatusInternalServerError, internal.JSON())
	}
}
