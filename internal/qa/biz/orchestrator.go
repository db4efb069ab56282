package biz

import (
	"context"
	"strings"
	"time"

	"github.com/kart-io/logger"
	"github.com/oklog/ulid/v2"

	"github.com/medkb-io/medqa/internal/model"
	"github.com/medkb-io/medqa/internal/qa/metrics"
	"github.com/medkb-io/medqa/internal/qa/session"
	"github.com/medkb-io/medqa/internal/qa/store"
	"github.com/medkb-io/medqa/pkg/errors"
	"github.com/medkb-io/medqa/pkg/llm"
)

// queryState 查询处理阶段。
type queryState int

const (
	stateReceived queryState = iota
	statePreGateChecked
	stateRetrieved
	stateMerged
	stateContextAssembled
	stateGenerated
	statePostGateChecked
	stateFinalized
	stateRefused
	stateFailed
)

// String 返回阶段名称。
func (s queryState) String() string {
	switch s {
	case stateReceived:
		return "received"
	case statePreGateChecked:
		return "pre_gate_checked"
	case stateRetrieved:
		return "retrieved"
	case stateMerged:
		return "merged"
	case stateContextAssembled:
		return "context_assembled"
	case stateGenerated:
		return "generated"
	case statePostGateChecked:
		return "post_gate_checked"
	case stateFinalized:
		return "finalized"
	case stateRefused:
		return "refused"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OrchestratorConfig 查询编排配置。
type OrchestratorConfig struct {
	// TopK 合并后保留的候选数
	TopK int
	// Temperature 生成温度
	Temperature float32
	// MaxTokens 生成长度上限
	MaxTokens int
	// PromptTemplate 提示词模板，{{context}} 与 {{question}} 占位
	PromptTemplate string
}

// defaultPromptTemplate 默认提示词模板。
const defaultPromptTemplate = `You are a careful medical knowledge assistant. Answer the question using only the numbered reference material below. If the material does not cover the question, say so plainly. Do not diagnose, prescribe, or give personal medical advice. Cite references by their numbers.

Reference material:
{{context}}

Question: {{question}}

Answer:`

// DefaultOrchestratorConfig 返回默认编排配置。
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		TopK:           5,
		Temperature:    0.2,
		MaxTokens:      1024,
		PromptTemplate: defaultPromptTemplate,
	}
}

// Orchestrator 查询编排器。按固定阶段推进单个查询：
// 前置门控、混合检索、合并、上下文组装、生成、后置门控、定稿。
// 安全拒答是正常终态而非错误；上下文取消在任何阶段立即终止。
type Orchestrator struct {
	config     *OrchestratorConfig
	gate       *SafetyGate
	retriever  *HybridRetriever
	assembler  *ContextAssembler
	generator  llm.GenerationProvider
	disclaimer *DisclaimerInjector
	sessions   session.Store
	retry      *RetryConfig
	metrics    *metrics.QAMetrics
}

// NewOrchestrator 创建查询编排器。
func NewOrchestrator(config *OrchestratorConfig, gate *SafetyGate, retriever *HybridRetriever, assembler *ContextAssembler, generator llm.GenerationProvider, sessions session.Store) *Orchestrator {
	if config == nil {
		config = DefaultOrchestratorConfig()
	}
	if config.PromptTemplate == "" {
		config.PromptTemplate = defaultPromptTemplate
	}
	return &Orchestrator{
		config:     config,
		gate:       gate,
		retriever:  retriever,
		assembler:  assembler,
		generator:  generator,
		disclaimer: NewDisclaimerInjector(),
		sessions:   sessions,
		retry:      DefaultRetryConfig(),
		metrics:    metrics.GetQAMetrics(),
	}
}

// AnswerQuery 处理单个查询。拒答返回 Answer 且 error 为 nil；
// 失败不写助手轮次，会话中只留下用户轮次。
func (o *Orchestrator) AnswerQuery(ctx context.Context, sessionID, query, language string) (*model.Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.ErrValidation.WithMessage("query is empty")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.ErrValidation.WithMessage("session id is empty")
	}
	if language == "" {
		language = "en"
	}

	queryID := ulid.Make().String()
	state := stateReceived
	start := time.Now()

	transition := func(next queryState) {
		state = next
		logger.Debugw("查询状态转移", "query_id", queryID, "state", state.String())
	}

	// 会话存储不可用时降级：历史为空，轮次写入跳过
	history, err := o.sessions.Turns(ctx, sessionID)
	sessionOK := err == nil
	if err != nil {
		logger.Warnw("读取会话历史失败，降级为无历史处理", "query_id", queryID, "error", err.Error())
	}
	if sessionOK {
		if err := o.sessions.Append(ctx, sessionID, &model.Turn{
			Role:      model.RoleUser,
			Content:   query,
			CreatedAt: start,
		}); err != nil {
			sessionOK = false
			logger.Warnw("写入用户轮次失败", "query_id", queryID, "error", err.Error())
		}
	}

	fail := func(err error) (*model.Answer, error) {
		transition(stateFailed)
		o.metrics.RecordQuery(metrics.OutcomeFailed)
		logger.Errorw("查询失败",
			"query_id", queryID,
			"session_id", sessionID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err.Error(),
		)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return fail(errors.ErrTimeout.WithCause(err))
	}

	// 前置安全门控
	if category := o.gate.Classify(ctx, query); category.Disallowed() {
		transition(statePreGateChecked)
		return o.refuse(ctx, queryID, sessionID, language, category, sessionOK, metrics.OutcomeRefusedPre), nil
	}
	transition(statePreGateChecked)

	// 混合检索
	retrieval, err := o.retriever.Retrieve(ctx, query, language)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(errors.ErrTimeout.WithCause(ctxErr))
		}
		return fail(err)
	}
	transition(stateRetrieved)

	// 合并两路候选
	merged := Merge(retrieval.Semantic, retrieval.Lexical, o.config.TopK)
	transition(stateMerged)

	// 上下文组装
	assembled := o.assembler.Assemble(merged, history, language)
	prompt := strings.ReplaceAll(o.config.PromptTemplate, "{{context}}", assembled)
	prompt = strings.ReplaceAll(prompt, "{{question}}", query)
	transition(stateContextAssembled)

	// 生成
	content, err := o.generate(ctx, prompt)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(errors.ErrTimeout.WithCause(ctxErr))
		}
		return fail(err)
	}
	transition(stateGenerated)

	// 后置安全门控：生成结果本身不安全同样拒答
	if category := o.gate.Classify(ctx, content); category.Disallowed() {
		transition(statePostGateChecked)
		return o.refuse(ctx, queryID, sessionID, language, category, sessionOK, metrics.OutcomeRefusedPost), nil
	}
	transition(statePostGateChecked)

	content = o.disclaimer.Inject(content, language)

	answer := &model.Answer{
		QueryID:     queryID,
		SessionID:   sessionID,
		Content:     content,
		Sources:     sources(merged),
		Disclaimers: []string{o.disclaimer.Text(language)},
		Degraded:    retrieval.Degraded,
	}

	if sessionOK {
		if err := o.sessions.Append(ctx, sessionID, &model.Turn{
			Role:      model.RoleAssistant,
			Content:   content,
			CreatedAt: time.Now(),
		}); err != nil {
			logger.Warnw("写入助手轮次失败", "query_id", queryID, "error", err.Error())
		}
	}

	transition(stateFinalized)
	o.metrics.RecordQuery(metrics.OutcomeFinalized)
	logger.Infow("查询完成",
		"query_id", queryID,
		"session_id", sessionID,
		"sources", len(answer.Sources),
		"degraded", answer.Degraded,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return answer, nil
}

// generate 调用生成供应商，对可重试错误退避重试。
func (o *Orchestrator) generate(ctx context.Context, prompt string) (string, error) {
	var content string
	genStart := time.Now()

	err := RetryWithBackoff(ctx, o.retry, func(attempt int, err error) {
		o.metrics.RecordGenerationRetry()
		logger.Warnw("生成失败，准备重试", "attempt", attempt, "error", err.Error())
	}, func(ctx context.Context) error {
		var genErr error
		content, genErr = o.generator.Generate(ctx, prompt, &llm.GenerateOptions{
			Temperature: o.config.Temperature,
			MaxTokens:   o.config.MaxTokens,
		})
		return genErr
	})

	o.metrics.RecordGeneration(time.Since(genStart), err)
	if err != nil {
		if errors.GetCode(err) == errors.ErrTimeout.Code {
			return "", err
		}
		return "", errors.ErrGenerationUnavailable.WithCause(err)
	}
	if strings.TrimSpace(content) == "" {
		return "", errors.ErrGenerationUnavailable.WithMessage("generator returned empty content")
	}
	return content, nil
}

// refuse 构造拒答应答并记录助手轮次。拒答文案不注入免责声明。
func (o *Orchestrator) refuse(ctx context.Context, queryID, sessionID, language string, category model.SafetyCategory, sessionOK bool, outcome metrics.QueryOutcome) *model.Answer {
	message := o.gate.RefusalMessage(category, language)

	if sessionOK {
		if err := o.sessions.Append(ctx, sessionID, &model.Turn{
			Role:      model.RoleAssistant,
			Content:   message,
			CreatedAt: time.Now(),
		}); err != nil {
			logger.Warnw("写入拒答轮次失败", "query_id", queryID, "error", err.Error())
		}
	}

	o.metrics.RecordQuery(outcome)
	logger.Infow("查询被安全门控拒答",
		"query_id", queryID,
		"session_id", sessionID,
		"category", string(category),
		"stage", string(outcome),
	)

	return &model.Answer{
		QueryID:   queryID,
		SessionID: sessionID,
		Content:   message,
		Refusal: &model.Refusal{
			Category: category,
			Message:  message,
		},
	}
}

// sources 从合并结果构造引用列表。
func sources(results []*store.SearchResult) []model.Source {
	out := make([]model.Source, 0, len(results))
	for _, r := range results {
		out = append(out, model.Source{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Source:     r.Source,
			Topic:      r.Topic,
			Score:      r.Score,
		})
	}
	return out
}
