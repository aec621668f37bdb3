package handler

import (
	"net/http"

	"idle-universe-go/internal/service"

	"github.com/gin-gonic/gin"
)

// IngestHandler 负责处理知识库构建相关请求。
type IngestHandler struct {
	ingestService service.IngestService
}

// NewIngestHandler 创建一个新的 IngestHandler。
func NewIngestHandler(ingestService service.IngestService) *IngestHandler {
	return &IngestHandler{ingestService: ingestService}
}

type crawlRequest struct {
	SourceID string `json:"sourceId"`
}

// TriggerCrawl 处理 POST /api/v1/ingest/crawl，投递抓取任务。
// 请求体可选, sourceId 非空时只抓取该来源。
func (h *IngestHandler) TriggerCrawl(c *gin.Context) {
	var req crawlRequest
	// 空请求体表示抓取所有来源
	_ = c.ShouldBindJSON(&req)

	requestID, err := h.ingestService.EnqueueCrawl(c.Request.Context(), req.SourceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "投递任务失败", "data": nil})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "任务已投递", "data": gin.H{"requestId": requestID}})
}

// TriggerRebuild 处理 POST /api/v1/ingest/rebuild，投递索引重建任务。
func (h *IngestHandler) TriggerRebuild(c *gin.Context) {
	requestID, err := h.ingestService.EnqueueRebuild(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "投递任务失败", "data": nil})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "任务已投递", "data": gin.H{"requestId": requestID}})
}

// Status 处理 GET /api/v1/ingest/status，返回知识库当前状态。
func (h *IngestHandler) Status(c *gin.Context) {
	status, err := h.ingestService.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询状态失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": status})
}
