package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medkb-io/medqa/internal/model"
	"github.com/medkb-io/medqa/pkg/errors"
)

// stubService 脚本化业务层。
type stubService struct {
	ingestResult *model.IngestResult
	ingestErr    error
	answer       *model.Answer
	answerErr    error
	answerDelay  time.Duration
	deleteErr    error
}

func (s *stubService) IngestDocument(ctx context.Context, doc *model.Document) (*model.IngestResult, error) {
	return s.ingestResult, s.ingestErr
}

func (s *stubService) AnswerQuery(ctx context.Context, sessionID, query, language string) (*model.Answer, error) {
	if s.answerDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, errors.ErrTimeout.WithCause(ctx.Err())
		case <-time.After(s.answerDelay):
		}
	}
	return s.answer, s.answerErr
}

func (s *stubService) DeleteSession(ctx context.Context, sessionID string) error {
	return s.deleteErr
}

func (s *stubService) Stats(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{"queries": map[string]interface{}{"total": uint64(0)}}
}

func newTestRouter(svc *stubService, queryTimeout time.Duration) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h := NewQAHandler(svc, queryTimeout)

	v1 := engine.Group("/v1/qa")
	v1.POST("/documents", h.Ingest)
	v1.POST("/query", h.Query)
	v1.DELETE("/sessions/:id", h.DeleteSession)
	v1.GET("/stats", h.Stats)
	engine.GET("/healthz", h.Healthz)
	engine.GET("/metrics", h.Metrics)
	return engine
}

func doRequest(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestIngestEndpoint(t *testing.T) {
	svc := &stubService{ingestResult: &model.IngestResult{DocumentID: "doc-1", Version: 1, ChunkCount: 3}}
	engine := newTestRouter(svc, time.Minute)

	w := doRequest(engine, http.MethodPost, "/v1/qa/documents",
		`{"id":"doc-1","content":"Aspirin reduces fever.","source":"WHO","language":"en"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Code)
}

func TestIngestEndpointBadRequest(t *testing.T) {
	engine := newTestRouter(&stubService{}, time.Minute)

	// 缺少必填字段
	w := doRequest(engine, http.MethodPost, "/v1/qa/documents", `{"id":"doc-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestEndpointOverloaded(t *testing.T) {
	svc := &stubService{ingestErr: errors.ErrOverloaded}
	engine := newTestRouter(svc, time.Minute)

	w := doRequest(engine, http.MethodPost, "/v1/qa/documents",
		`{"id":"doc-1","content":"text"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestQueryEndpoint(t *testing.T) {
	svc := &stubService{answer: &model.Answer{
		QueryID:     "q-1",
		SessionID:   "sess-1",
		Content:     "grounded answer",
		Disclaimers: []string{"This information is for general education only."},
	}}
	engine := newTestRouter(svc, time.Minute)

	w := doRequest(engine, http.MethodPost, "/v1/qa/query",
		`{"session_id":"sess-1","query":"what is aspirin"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "grounded answer")

	// 免责声明作为独立字段出现在响应中
	assert.Contains(t, w.Body.String(), `"disclaimers"`)
	assert.Contains(t, w.Body.String(), "general education only")
}

func TestQueryEndpointValidationError(t *testing.T) {
	svc := &stubService{answerErr: errors.ErrValidation.WithMessage("query is empty")}
	engine := newTestRouter(svc, time.Minute)

	w := doRequest(engine, http.MethodPost, "/v1/qa/query",
		`{"session_id":"sess-1","query":" "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryEndpointTimeout(t *testing.T) {
	svc := &stubService{answerDelay: 200 * time.Millisecond}
	engine := newTestRouter(svc, 20*time.Millisecond)

	w := doRequest(engine, http.MethodPost, "/v1/qa/query",
		`{"session_id":"sess-1","query":"slow question"}`)
	assert.Equal(t, http.StatusRequestTimeout, w.Code)
}

func TestQueryEndpointUpstreamUnavailable(t *testing.T) {
	svc := &stubService{answerErr: errors.ErrRetrievalUnavailable}
	engine := newTestRouter(svc, time.Minute)

	w := doRequest(engine, http.MethodPost, "/v1/qa/query",
		`{"session_id":"sess-1","query":"question"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDeleteSessionEndpoint(t *testing.T) {
	engine := newTestRouter(&stubService{}, time.Minute)

	w := doRequest(engine, http.MethodDelete, "/v1/qa/sessions/sess-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatsAndHealthEndpoints(t *testing.T) {
	engine := newTestRouter(&stubService{}, time.Minute)

	w := doRequest(engine, http.MethodGet, "/v1/qa/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(engine, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")

	w = doRequest(engine, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "medqa_queries_total")
}
