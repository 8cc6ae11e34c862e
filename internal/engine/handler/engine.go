// Package handler provides HTTP handlers for the RAG engine service.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/ragcore/internal/engine/biz"
	"github.com/kart-io/ragcore/pkg/errors"
)

// queryTimeout 限制单次查询的最长处理时间。
const queryTimeout = 60 * time.Second

// EngineHandler handles RAG engine HTTP requests.
type EngineHandler struct {
	service biz.Service
}

// NewEngineHandler creates a new EngineHandler.
func NewEngineHandler(service biz.Service) *EngineHandler {
	return &EngineHandler{service: service}
}

// SuccessResponse is a standard success response.
type SuccessResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// writeError maps an error to its HTTP status via the errno registry.
func writeError(c *gin.Context, err error) {
	e := errors.FromError(err)
	c.JSON(e.HTTPStatus(), ErrorResponse{Code: e.Code, Message: e.Error()})
}

// tenantID resolves the tenant from the query string or the X-Tenant-ID header.
func tenantID(c *gin.Context) string {
	if t := c.Query("tenant_id"); t != "" {
		return t
	}
	return c.GetHeader("X-Tenant-ID")
}

// IngestRequest represents a document ingestion request.
type IngestRequest struct {
	DocumentID string            `json:"document_id"`
	TenantID   string            `json:"tenant_id" binding:"required"`
	Title      string            `json:"title"`
	Source     string            `json:"source"`
	Content    string            `json:"content" binding:"required"`
	Metadata   map[string]string `json:"metadata"`
	Schema     map[string]string `json:"schema"`
}

func (r *IngestRequest) toBiz() *biz.IngestRequest {
	return &biz.IngestRequest{
		DocumentID: r.DocumentID,
		TenantID:   r.TenantID,
		Title:      r.Title,
		Source:     r.Source,
		Content:    r.Content,
		Metadata:   r.Metadata,
		Schema:     r.Schema,
	}
}

// Ingest ingests a single document.
func (h *EngineHandler) Ingest(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	result, err := h.service.IngestDocument(c.Request.Context(), req.toBiz())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "Document ingested successfully", Data: result})
}

// BatchIngestRequest represents a batch ingestion request.
type BatchIngestRequest struct {
	Documents []IngestRequest `json:"documents" binding:"required,min=1"`
}

// IngestBatch ingests multiple documents concurrently.
func (h *EngineHandler) IngestBatch(c *gin.Context) {
	var req BatchIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	reqs := make([]*biz.IngestRequest, 0, len(req.Documents))
	for i := range req.Documents {
		reqs = append(reqs, req.Documents[i].toBiz())
	}

	result, err := h.service.IngestBatch(c.Request.Context(), reqs)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "Batch ingestion completed", Data: result})
}

// IngestDirectoryRequest represents a directory ingestion request.
type IngestDirectoryRequest struct {
	TenantID  string `json:"tenant_id" binding:"required"`
	Directory string `json:"directory" binding:"required"`
}

// IngestDirectory ingests documents from a local directory.
func (h *EngineHandler) IngestDirectory(c *gin.Context) {
	var req IngestDirectoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	result, err := h.service.IngestDirectory(c.Request.Context(), req.TenantID, req.Directory)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "Directory ingested successfully", Data: result})
}

// QueryRequest represents a RAG query request.
type QueryRequest struct {
	TenantID       string   `json:"tenant_id" binding:"required"`
	Question       string   `json:"question" binding:"required"`
	TopK           int      `json:"top_k"`
	Strategy       string   `json:"strategy"`
	Threshold      *float32 `json:"threshold"`
	UseMemory      *bool    `json:"use_memory"`
	UserID         string   `json:"user_id"`
	ConversationID string   `json:"conversation_id"`
}

// Query performs a RAG query.
func (h *EngineHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	// 添加 60 秒超时控制
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	result, err := h.service.Query(ctx, &biz.QueryRequest{
		TenantID:       req.TenantID,
		Question:       req.Question,
		TopK:           req.TopK,
		Strategy:       biz.RetrievalStrategy(req.Strategy),
		Threshold:      req.Threshold,
		UseMemory:      req.UseMemory,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			c.JSON(http.StatusRequestTimeout, ErrorResponse{
				Code:    errors.ErrQueryTimeout.Code,
				Message: "Query timeout: the request took too long to process. Please try again or simplify your question.",
			})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: result})
}

// UpdateRequest represents a document update request.
type UpdateRequest struct {
	TenantID string            `json:"tenant_id" binding:"required"`
	Title    string            `json:"title"`
	Content  string            `json:"content" binding:"required"`
	Metadata map[string]string `json:"metadata"`
}

// Update updates a document, snapshotting the previous version first.
func (h *EngineHandler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	result, err := h.service.UpdateDocument(c.Request.Context(), &biz.UpdateRequest{
		DocumentID: c.Param("id"),
		TenantID:   req.TenantID,
		Title:      req.Title,
		Content:    req.Content,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "Document updated successfully", Data: result})
}

// Delete removes a document and all of its chunks.
func (h *EngineHandler) Delete(c *gin.Context) {
	if err := h.service.DeleteDocument(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "Document deleted successfully"})
}

// Get returns a document record.
func (h *EngineHandler) Get(c *gin.Context) {
	doc, err := h.service.GetDocument(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: doc})
}

// ListVersions lists all version snapshots of a document.
func (h *EngineHandler) ListVersions(c *gin.Context) {
	versions, err := h.service.ListDocumentVersions(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: versions})
}

// GetVersion returns a specific version snapshot of a document.
func (h *EngineHandler) GetVersion(c *gin.Context) {
	version, err := h.service.GetDocumentVersion(c.Request.Context(), tenantID(c), c.Param("id"), c.Param("label"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: version})
}

// Stats returns engine statistics.
func (h *EngineHandler) Stats(c *gin.Context) {
	stats, err := h.service.GetStats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: stats})
}
