package handler

import (
	"github.com/gin-gonic/gin"

	"z-doc-extract-api/internal/interfaces/http/dto"
	"z-doc-extract-api/pkg/errors"
)

// respondError 将应用错误映射为 HTTP 响应，未知错误统一脱敏为 500
func respondError(c *gin.Context, err error, fallback string) {
	if errors.IsAppError(err) {
		appErr := errors.AsAppError(err)
		dto.ErrorWithDetail(c, appErr.HTTPStatus, appErr.Message, &dto.ErrorDetail{
			ErrorCode: string(appErr.Code),
			Details:   appErr.Detail,
		})
		return
	}
	dto.InternalError(c, fallback)
}
