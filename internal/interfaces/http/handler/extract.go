// Package handler 提供 HTTP 请求处理器
package handler

import (
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"z-doc-extract-api/internal/application/extraction"
	"z-doc-extract-api/internal/interfaces/http/dto"
	"z-doc-extract-api/pkg/logger"
	"z-doc-extract-api/pkg/metrics"
)

// ExtractHandler 同步抽取处理器
type ExtractHandler struct {
	extractor *extraction.Service
}

// NewExtractHandler 创建同步抽取处理器
func NewExtractHandler(extractor *extraction.Service) *ExtractHandler {
	return &ExtractHandler{
		extractor: extractor,
	}
}

// Extract 同步抽取
// @Summary 同步抽取
// @Description 对请求内联的文档执行结构化抽取，阻塞直到完成
// @Tags Extract
// @Accept json
// @Produce json
// @Param request body dto.ExtractRequest true "抽取参数"
// @Success 200 {object} dto.ExtractResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /v1/extract [post]
func (h *ExtractHandler) Extract(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	var memBefore runtime.MemStats
	runtime.ReadMemStats(&memBefore)
	start := time.Now()

	requestID := c.GetString("request_id")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	results, err := h.extractor.ExtractDocuments(ctx, requestID, req.ToDocumentInputs(), req.Prompt, req.Schema, nil)
	elapsed := time.Since(start)
	metrics.ExtractionDuration.WithLabelValues("sync").Observe(elapsed.Seconds())

	if err != nil {
		logger.Error(ctx, "sync extraction failed", err, "request_id", requestID)
		respondError(c, err, "extraction failed")
		return
	}

	var memAfter runtime.MemStats
	runtime.ReadMemStats(&memAfter)
	memDelta := float64(int64(memAfter.HeapAlloc)-int64(memBefore.HeapAlloc)) / (1 << 20)

	resp := dto.ExtractResponse{
		Success:               extraction.OverallStatus(results) != extraction.AggregateFailed,
		Results:               make([]dto.DocumentResultResponse, 0, len(results)),
		ServerProcessingTimeS: elapsed.Seconds(),
		ServerMemoryDeltaMB:   memDelta,
	}
	for _, r := range results {
		resp.Results = append(resp.Results, dto.ToDocumentResultResponse(r))
	}

	c.JSON(200, resp)
}
