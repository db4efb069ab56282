package biz

import (
	"context"

	"github.com/kart-io/logger"

	"github.com/medkb-io/medqa/internal/model"
	"github.com/medkb-io/medqa/internal/qa/metrics"
	"github.com/medkb-io/medqa/internal/qa/session"
	"github.com/medkb-io/medqa/internal/qa/store"
	"github.com/medkb-io/medqa/pkg/errors"
	"github.com/medkb-io/medqa/pkg/infra/pool"
)

// Service 问答服务业务接口。
type Service interface {
	// IngestDocument 入库文档，自动分配版本并取代旧版本。
	IngestDocument(ctx context.Context, doc *model.Document) (*model.IngestResult, error)

	// AnswerQuery 处理查询。安全拒答是正常结果而非错误。
	AnswerQuery(ctx context.Context, sessionID, query, language string) (*model.Answer, error)

	// DeleteSession 删除会话历史。
	DeleteSession(ctx context.Context, sessionID string) error

	// Stats 返回服务统计信息。
	Stats(ctx context.Context) map[string]interface{}
}

// QAService 组合入库流水线与查询编排器。
type QAService struct {
	ingester     *Ingester
	orchestrator *Orchestrator
	vector       store.VectorStore
	keyword      store.KeywordStore
	sessions     session.Store
	collection   string
}

// NewQAService 创建问答服务。
func NewQAService(ingester *Ingester, orchestrator *Orchestrator, vector store.VectorStore, keyword store.KeywordStore, sessions session.Store, collection string) *QAService {
	return &QAService{
		ingester:     ingester,
		orchestrator: orchestrator,
		vector:       vector,
		keyword:      keyword,
		sessions:     sessions,
		collection:   collection,
	}
}

// IngestDocument 入库文档。
func (s *QAService) IngestDocument(ctx context.Context, doc *model.Document) (*model.IngestResult, error) {
	return s.ingester.Ingest(ctx, doc)
}

// AnswerQuery 处理查询。
func (s *QAService) AnswerQuery(ctx context.Context, sessionID, query, language string) (*model.Answer, error) {
	return s.orchestrator.AnswerQuery(ctx, sessionID, query, language)
}

// DeleteSession 删除会话历史。
func (s *QAService) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.ErrValidation.WithMessage("session id is empty")
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return errors.ErrSessionUnavailable.WithCause(err)
	}
	return nil
}

// Stats 聚合业务指标、索引统计与工作池状态。单项失败只记录不中断。
func (s *QAService) Stats(ctx context.Context) map[string]interface{} {
	out := metrics.GetQAMetrics().Stats()

	if rows, err := s.vector.GetStats(ctx, s.collection); err != nil {
		logger.Warnw("获取向量集合统计失败", "collection", s.collection, "error", err.Error())
	} else {
		out["vector_index"] = map[string]interface{}{
			"collection": s.collection,
			"rows":       rows,
		}
	}

	if docs, chunks, err := s.keyword.Stats(ctx); err != nil {
		logger.Warnw("获取关键词索引统计失败", "error", err.Error())
	} else {
		out["keyword_index"] = map[string]interface{}{
			"active_documents": docs,
			"active_chunks":    chunks,
		}
	}

	out["pools"] = pool.StatsAll()
	return out
}

var _ Service = (*QAService)(nil)
