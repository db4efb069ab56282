// Package handler provides HTTP handlers for the medqa service.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medkb-io/medqa/internal/model"
	"github.com/medkb-io/medqa/internal/qa/biz"
	"github.com/medkb-io/medqa/internal/qa/metrics"
	"github.com/medkb-io/medqa/pkg/errors"
)

// QAHandler handles medqa HTTP requests.
type QAHandler struct {
	service      biz.Service
	queryTimeout time.Duration
}

// NewQAHandler creates a new QAHandler.
func NewQAHandler(service biz.Service, queryTimeout time.Duration) *QAHandler {
	if queryTimeout <= 0 {
		queryTimeout = 60 * time.Second
	}
	return &QAHandler{
		service:      service,
		queryTimeout: queryTimeout,
	}
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

// writeError 按 Errno 映射 HTTP 状态码与业务错误码。
func writeError(c *gin.Context, err error) {
	errno := errors.FromError(err)
	c.JSON(errno.HTTPStatus(), ErrorResponse{Code: errno.Code, Message: errno.MessageEN})
}

// IngestRequest represents a document ingest request.
type IngestRequest struct {
	ID       string `json:"id" binding:"required"`
	Content  string `json:"content" binding:"required"`
	Source   string `json:"source"`
	Topic    string `json:"topic"`
	Language string `json:"language"`
}

// Ingest ingests a document into the knowledge base.
func (h *QAHandler) Ingest(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: errors.ErrBadRequest.Code, Message: err.Error()})
		return
	}

	result, err := h.service.IngestDocument(c.Request.Context(), &model.Document{
		ID:       req.ID,
		Content:  req.Content,
		Source:   req.Source,
		Topic:    req.Topic,
		Language: req.Language,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: result})
}

// QueryRequest represents a query request.
type QueryRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Query     string `json:"query" binding:"required"`
	Language  string `json:"language"`
}

// Query answers a question against the knowledge base.
func (h *QAHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: errors.ErrBadRequest.Code, Message: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.queryTimeout)
	defer cancel()

	answer, err := h.service.AnswerQuery(ctx, req.SessionID, req.Query, req.Language)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			c.JSON(http.StatusRequestTimeout, ErrorResponse{
				Code:    errors.ErrTimeout.Code,
				Message: "Query timeout: the request took too long to process. Please try again or simplify your question.",
			})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: answer})
}

// DeleteSession clears a conversation session.
func (h *QAHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.service.DeleteSession(c.Request.Context(), sessionID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "session deleted"})
}

// Stats returns service statistics.
func (h *QAHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: h.service.Stats(c.Request.Context())})
}

// Metrics exports business metrics in Prometheus text format.
func (h *QAHandler) Metrics(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8",
		[]byte(metrics.GetQAMetrics().Export("medqa", "")))
}

// Healthz reports service liveness.
func (h *QAHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
