// Package handler 提供 HTTP 请求处理器
package handler

import (
	"github.com/gin-gonic/gin"

	"z-doc-extract-api/internal/application/jobs"
	"z-doc-extract-api/internal/domain/entity"
	"z-doc-extract-api/internal/domain/repository"
	"z-doc-extract-api/internal/interfaces/http/dto"
	"z-doc-extract-api/pkg/logger"
)

// headerIdempotencyKey 请求头中的幂等键，优先于请求体字段
const headerIdempotencyKey = "Idempotency-Key"

// JobHandler 异步抽取任务处理器
type JobHandler struct {
	jobService   *jobs.Service
	deliveryRepo repository.WebhookDeliveryRepository
	usageRepo    repository.LLMUsageEventRepository
}

// NewJobHandler 创建任务处理器。deliveryRepo 和 usageRepo 可为 nil，
// 对应的审计端点返回空列表。
func NewJobHandler(jobService *jobs.Service, deliveryRepo repository.WebhookDeliveryRepository, usageRepo repository.LLMUsageEventRepository) *JobHandler {
	return &JobHandler{
		jobService:   jobService,
		deliveryRepo: deliveryRepo,
		usageRepo:    usageRepo,
	}
}

// CreateJob 创建异步抽取任务
// @Summary 创建抽取任务
// @Description 创建异步抽取任务并入队，立即返回 task_id
// @Tags Jobs
// @Accept json
// @Produce json
// @Param request body dto.CreateJobRequest true "任务参数"
// @Success 202 {object} dto.Response[dto.JobResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /v1/jobs [post]
func (h *JobHandler) CreateJob(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	idempotencyKey := c.GetHeader(headerIdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = req.IdempotencyKey
	}

	job, err := h.jobService.Create(ctx, jobs.CreateJobInput{
		URLs:           req.URLs,
		Prompt:         req.Prompt,
		Schema:         req.Schema,
		Webhook:        req.ToWebhookConfig(),
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		logger.Error(ctx, "failed to create job", err)
		respondError(c, err, "failed to create job")
		return
	}

	dto.Accepted(c, dto.ToJobResponse(job))
}

// GetJob 获取任务详情
// @Summary 获取任务详情
// @Description 获取指定任务的详细信息、状态和结果
// @Tags Jobs
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.JobResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /v1/jobs/{jid} [get]
func (h *JobHandler) GetJob(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := dto.BindJobID(c)

	job, err := h.jobService.Get(ctx, jobID)
	if err != nil {
		respondError(c, err, "failed to get job")
		return
	}

	dto.Success(c, dto.ToJobResponse(job))
}

// CancelJob 取消任务
// @Summary 取消任务
// @Description 请求取消任务；执行中的任务协作式停止，已终态的任务返回 409
// @Tags Jobs
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.CancelJobResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse "任务已终态"
// @Failure 500 {object} dto.ErrorResponse
// @Router /v1/jobs/{jid} [delete]
func (h *JobHandler) CancelJob(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := dto.BindJobID(c)

	if err := h.jobService.Cancel(ctx, jobID); err != nil {
		respondError(c, err, "failed to cancel job")
		return
	}

	dto.Success(c, &dto.CancelJobResponse{
		ID:        jobID,
		Cancelled: true,
	})
}

// ListJobs 分页查询任务
// @Summary 查询任务列表
// @Description 按状态过滤并分页查询任务
// @Tags Jobs
// @Produce json
// @Param status query string false "状态过滤"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} dto.Response[dto.JobListResponse]
// @Failure 500 {object} dto.ErrorResponse
// @Router /v1/jobs [get]
func (h *JobHandler) ListJobs(c *gin.Context) {
	ctx := c.Request.Context()
	pageReq := dto.BindPage(c)

	var filter *repository.JobFilter
	if status := c.Query("status"); status != "" {
		filter = &repository.JobFilter{
			Status: entity.JobStatus(status),
		}
	}

	result, err := h.jobService.List(ctx, filter, repository.NewPagination(pageReq.Page, pageReq.PageSize))
	if err != nil {
		logger.Error(ctx, "failed to list jobs", err)
		respondError(c, err, "failed to list jobs")
		return
	}

	resp := dto.ToJobListResponse(result.Items)
	meta := dto.NewPageMeta(pageReq.Page, pageReq.PageSize, int(result.Total))
	dto.SuccessWithPage(c, resp, meta)
}

// ListDeliveries 查询任务的 Webhook 投递记录
// @Summary 查询投递记录
// @Tags Jobs
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[[]*entity.WebhookDelivery]
// @Router /v1/jobs/{jid}/deliveries [get]
func (h *JobHandler) ListDeliveries(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := dto.BindJobID(c)

	if h.deliveryRepo == nil {
		dto.Success(c, []*entity.WebhookDelivery{})
		return
	}

	deliveries, err := h.deliveryRepo.ListByJob(ctx, jobID)
	if err != nil {
		logger.Error(ctx, "failed to list webhook deliveries", err, "job_id", jobID)
		respondError(c, err, "failed to list deliveries")
		return
	}
	dto.Success(c, deliveries)
}

// ListUsage 查询任务的 LLM 用量流水
// @Summary 查询用量流水
// @Tags Jobs
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[[]*entity.LLMUsageEvent]
// @Router /v1/jobs/{jid}/usage [get]
func (h *JobHandler) ListUsage(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := dto.BindJobID(c)

	if h.usageRepo == nil {
		dto.Success(c, []*entity.LLMUsageEvent{})
		return
	}

	events, err := h.usageRepo.ListByJob(ctx, jobID)
	if err != nil {
		logger.Error(ctx, "failed to list usage events", err, "job_id", jobID)
		respondError(c, err, "failed to list usage events")
		return
	}
	dto.Success(c, events)
}
