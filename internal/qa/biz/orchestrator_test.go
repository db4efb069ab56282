package biz

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medkb-io/medqa/internal/model"
	"github.com/medkb-io/medqa/internal/qa/session"
	"github.com/medkb-io/medqa/internal/qa/store"
	"github.com/medkb-io/medqa/pkg/errors"
)

// testHarness 编排器测试环境。
type testHarness struct {
	embedder  *fakeEmbedder
	generator *fakeGenerator
	vector    *store.MemoryVectorStore
	keyword   *store.MemoryKeywordStore
	sessions  *session.MemoryStore
	orch      *Orchestrator
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		embedder:  newFakeEmbedder(8),
		generator: &fakeGenerator{response: "Aspirin is a common antipyretic [1]."},
		vector:    store.NewMemoryVectorStore(),
		keyword:   store.NewMemoryKeywordStore(),
		sessions:  session.NewMemoryStore(nil),
	}

	retriever := newTestRetriever(h.embedder, h.vector, h.keyword)
	gate := NewSafetyGate(nil, nil)
	assembler := NewContextAssembler(nil)

	h.orch = NewOrchestrator(nil, gate, retriever, assembler, h.generator, h.sessions)
	h.orch.retry = fastRetryConfig()

	seedStores(t, h.embedder, h.vector, h.keyword, "doc-1", 1,
		"aspirin reduces fever in adults",
		"ibuprofen relieves mild pain",
	)
	return h
}

func TestAnswerQueryFinalized(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	answer, err := h.orch.AnswerQuery(ctx, "sess-1", "aspirin reduces fever in adults", "en")
	require.NoError(t, err)

	assert.NotEmpty(t, answer.QueryID)
	assert.Equal(t, "sess-1", answer.SessionID)
	assert.Nil(t, answer.Refusal)
	assert.False(t, answer.Degraded)
	assert.Contains(t, answer.Content, "Aspirin is a common antipyretic")
	assert.Contains(t, answer.Content, "not a substitute for professional medical advice")
	assert.NotEmpty(t, answer.Sources)

	// 注入的免责声明同时作为结构化字段返回
	require.Len(t, answer.Disclaimers, 1)
	assert.Contains(t, answer.Content, answer.Disclaimers[0])

	// 提示词包含检索到的资料与问题
	assert.Contains(t, h.generator.lastPrompt, "aspirin reduces fever in adults")

	// 会话记录用户与助手两轮
	turns, err := h.sessions.Turns(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, model.RoleUser, turns[0].Role)
	assert.Equal(t, model.RoleAssistant, turns[1].Role)
}

func TestAnswerQueryUniqueQueryIDs(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	first, err := h.orch.AnswerQuery(ctx, "sess-1", "aspirin dosage overview", "en")
	require.NoError(t, err)
	second, err := h.orch.AnswerQuery(ctx, "sess-1", "aspirin dosage overview", "en")
	require.NoError(t, err)

	assert.NotEqual(t, first.QueryID, second.QueryID)
}

func TestAnswerQueryPreGateRefusal(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	answer, err := h.orch.AnswerQuery(ctx, "sess-1", "Do I have cancer?", "en")
	require.NoError(t, err)

	require.NotNil(t, answer.Refusal)
	assert.Equal(t, model.CategoryDiagnosticRequest, answer.Refusal.Category)
	assert.Equal(t, answer.Refusal.Message, answer.Content)
	assert.Empty(t, answer.Sources)

	// 拒答不注入免责声明
	assert.NotContains(t, answer.Content, "not a substitute for professional medical advice")
	assert.Empty(t, answer.Disclaimers)

	// 生成器与检索完全未被触发
	assert.Equal(t, 0, h.generator.calls)

	// 会话记录用户轮次与拒答轮次
	turns, err := h.sessions.Turns(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, answer.Refusal.Message, turns[1].Content)
}

func TestAnswerQueryPostGateRefusal(t *testing.T) {
	h := newTestHarness(t)
	h.generator.response = "If symptoms worsen you should call 911 immediately."
	ctx := context.Background()

	answer, err := h.orch.AnswerQuery(ctx, "sess-1", "general question about fever", "en")
	require.NoError(t, err)

	require.NotNil(t, answer.Refusal)
	assert.Equal(t, model.CategoryEmergencyRequest, answer.Refusal.Category)
	assert.Equal(t, 1, h.generator.calls)
}

func TestAnswerQueryValidation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.orch.AnswerQuery(ctx, "sess-1", "   ", "en")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrValidation.Code))

	_, err = h.orch.AnswerQuery(ctx, "", "aspirin", "en")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrValidation.Code))
}

func TestAnswerQueryGenerationFailure(t *testing.T) {
	h := newTestHarness(t)
	h.generator.errs = []error{stderrors.New("model crashed")}
	h.generator.response = ""
	ctx := context.Background()

	_, err := h.orch.AnswerQuery(ctx, "sess-1", "aspirin overview", "en")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrGenerationUnavailable.Code))

	// 失败不写助手轮次
	turns, terr := h.sessions.Turns(ctx, "sess-1")
	require.NoError(t, terr)
	require.Len(t, turns, 1)
	assert.Equal(t, model.RoleUser, turns[0].Role)
}

func TestAnswerQueryRetrievalFailure(t *testing.T) {
	h := newTestHarness(t)
	h.orch.retriever = newTestRetriever(h.embedder,
		&failingVectorStore{VectorStore: h.vector, searchErr: stderrors.New("milvus down")},
		&failingKeywordStore{KeywordStore: h.keyword, searchErr: stderrors.New("sqlite down")},
	)
	ctx := context.Background()

	_, err := h.orch.AnswerQuery(ctx, "sess-1", "aspirin overview", "en")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrRetrievalUnavailable.Code))
}

func TestAnswerQueryDegradedRetrieval(t *testing.T) {
	h := newTestHarness(t)
	h.orch.retriever = newTestRetriever(h.embedder,
		&failingVectorStore{VectorStore: h.vector, searchErr: stderrors.New("milvus down")},
		h.keyword,
	)
	ctx := context.Background()

	answer, err := h.orch.AnswerQuery(ctx, "sess-1", "aspirin reduces fever", "en")
	require.NoError(t, err)
	assert.True(t, answer.Degraded)
	assert.NotEmpty(t, answer.Sources)
}

func TestAnswerQueryCancelledContext(t *testing.T) {
	h := newTestHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.AnswerQuery(ctx, "sess-1", "aspirin overview", "en")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrTimeout.Code))

	// 取消的查询不写助手轮次
	turns, terr := h.sessions.Turns(context.Background(), "sess-1")
	require.NoError(t, terr)
	for _, turn := range turns {
		assert.NotEqual(t, model.RoleAssistant, turn.Role)
	}
}

func TestAnswerQueryEmptyKnowledgeBase(t *testing.T) {
	h := &testHarness{
		embedder:  newFakeEmbedder(8),
		generator: &fakeGenerator{response: "I do not have material covering that question."},
		vector:    store.NewMemoryVectorStore(),
		keyword:   store.NewMemoryKeywordStore(),
		sessions:  session.NewMemoryStore(nil),
	}
	h.orch = NewOrchestrator(nil, NewSafetyGate(nil, nil), newTestRetriever(h.embedder, h.vector, h.keyword), NewContextAssembler(nil), h.generator, h.sessions)
	h.orch.retry = fastRetryConfig()

	answer, err := h.orch.AnswerQuery(context.Background(), "sess-1", "what is aspirin", "en")
	require.NoError(t, err)

	assert.Empty(t, answer.Sources)
	assert.Contains(t, h.generator.lastPrompt, "No reference material")
}
