package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/cookie-catcher/internal/errors"
	"github.com/wfunc/cookie-catcher/internal/logger"
	"go.uber.org/zap"
)

const internalError = "Internal server error"

// errorStatus 错误对应的状态码和对外文案
func errorStatus(err error) (int, string) {
	appErr, ok := apperrors.As(err)
	if !ok {
		return http.StatusInternalServerError, internalError
	}
	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError && appErr.Public == "" {
		return status, internalError
	}
	return status, appErr.PublicMessage()
}

// abortWithError 以 {error} 形式返回错误
func abortWithError(c *gin.Context, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		fields := []zap.Field{zap.String("path", c.FullPath()), zap.Error(err)}
		if appErr, ok := apperrors.As(err); ok && appErr.Origin != "" {
			fields = append(fields, zap.String("origin", appErr.Origin))
		}
		logger.Error("请求处理失败", fields...)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
