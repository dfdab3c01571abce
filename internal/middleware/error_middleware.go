package middleware

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"sentinal-client/internal/transport/httpdto"
	sentinal_errors "sentinal-client/pkg/errors"
	"sentinal-client/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorHandler renders the last error a handler attached with c.Error.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status, code := Classify(err)
		if l != nil && status >= http.StatusInternalServerError {
			l.Ctx(c.Request.Context()).Warn("request_failed", zap.String("code", code), zap.Error(err))
		}
		c.JSON(status, httpdto.NewErrorResponse(err.Error(), code))
	}
}

// Classify maps an error to its HTTP status and response code.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, sentinal_errors.ErrInvalidInput):
		return http.StatusBadRequest, httpdto.CodeInvalidRequest
	case errors.Is(err, sentinal_errors.ErrNotFound):
		return http.StatusNotFound, httpdto.CodeNotFound
	case errors.Is(err, sentinal_errors.ErrNoActive):
		return http.StatusConflict, httpdto.CodeNoActive
	case errors.Is(err, sentinal_errors.ErrBusy):
		return http.StatusConflict, httpdto.CodeBusy
	case errors.Is(err, sentinal_errors.ErrStaleResult):
		return http.StatusConflict, httpdto.CodeStale
	case errors.Is(err, sentinal_errors.ErrNotRetryable), errors.Is(err, sentinal_errors.ErrConflict):
		return http.StatusConflict, httpdto.CodeConflict
	case errors.Is(err, sentinal_errors.ErrNotConnected), errors.Is(err, sentinal_errors.ErrConnectTimeout):
		return http.StatusServiceUnavailable, httpdto.CodeNotConnected
	case errors.Is(err, sentinal_errors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, httpdto.CodeRemoteFailed
	}
	return http.StatusBadGateway, httpdto.CodeRemoteFailed
}
