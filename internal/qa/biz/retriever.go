package biz

import (
	"context"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/medkb-io/medqa/internal/pkg/textutil"
	"github.com/medkb-io/medqa/internal/qa/metrics"
	"github.com/medkb-io/medqa/internal/qa/store"
	"github.com/medkb-io/medqa/pkg/errors"
	"github.com/medkb-io/medqa/pkg/llm"
)

// RetrieverConfig 混合检索配置。两路候选数各自独立配置。
type RetrieverConfig struct {
	// Collection 向量集合名称
	Collection string
	// SemanticTopK 向量路返回的候选数
	SemanticTopK int
	// LexicalTopK 关键词路返回的候选数
	LexicalTopK int
	// ScoreThreshold 语义路归一化分数下限，低于该值的命中被丢弃
	ScoreThreshold float64
}

// DefaultRetrieverConfig 返回默认检索配置。
func DefaultRetrieverConfig() *RetrieverConfig {
	return &RetrieverConfig{
		Collection:     "medical_chunks",
		SemanticTopK:   10,
		LexicalTopK:    10,
		ScoreThreshold: 0.5,
	}
}

// RetrievalResult 混合检索的两路候选集。
type RetrievalResult struct {
	// Semantic 向量路候选，分数为原始余弦相似度。
	Semantic []*store.SearchResult
	// Lexical 关键词路候选，分数为 -bm25。
	Lexical []*store.SearchResult
	// Degraded 是否单路降级。
	Degraded bool
}

// HybridRetriever 并行执行向量检索与关键词检索。
// 单路失败降级为另一路的结果，两路全失败才返回错误。
type HybridRetriever struct {
	config   *RetrieverConfig
	embedder llm.EmbeddingProvider
	vector   store.VectorStore
	keyword  store.KeywordStore
	metrics  *metrics.QAMetrics
}

// NewHybridRetriever 创建混合检索器。
func NewHybridRetriever(config *RetrieverConfig, embedder llm.EmbeddingProvider, vector store.VectorStore, keyword store.KeywordStore) *HybridRetriever {
	if config == nil {
		config = DefaultRetrieverConfig()
	}
	return &HybridRetriever{
		config:   config,
		embedder: embedder,
		vector:   vector,
		keyword:  keyword,
		metrics:  metrics.GetQAMetrics(),
	}
}

// Retrieve 执行混合检索。
func (r *HybridRetriever) Retrieve(ctx context.Context, query, language string) (*RetrievalResult, error) {
	start := time.Now()

	var (
		wg       sync.WaitGroup
		semantic []*store.SearchResult
		lexical  []*store.SearchResult
		vecErr   error
		kwErr    error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		semantic, vecErr = r.searchSemantic(ctx, query)
	}()
	go func() {
		defer wg.Done()
		lexical, kwErr = r.keyword.Search(ctx, query, r.config.LexicalTopK, language)
	}()
	wg.Wait()

	r.metrics.RecordRetrieval(time.Since(start), vecErr != nil, kwErr != nil)

	if vecErr != nil && kwErr != nil {
		logger.Errorw("混合检索两路全部失败",
			"vector_error", vecErr.Error(),
			"keyword_error", kwErr.Error(),
		)
		return nil, errors.ErrRetrievalUnavailable.WithCause(vecErr)
	}

	degraded := vecErr != nil || kwErr != nil
	if vecErr != nil {
		logger.Warnw("向量检索失败，降级为仅关键词检索", "error", vecErr.Error())
	}
	if kwErr != nil {
		logger.Warnw("关键词检索失败，降级为仅向量检索", "error", kwErr.Error())
	}

	semantic = r.filterActive(ctx, semantic)

	return &RetrievalResult{
		Semantic: semantic,
		Lexical:  lexical,
		Degraded: degraded,
	}, nil
}

// searchSemantic 嵌入查询并执行向量检索，按归一化分数阈值过滤。
func (r *HybridRetriever) searchSemantic(ctx context.Context, query string) ([]*store.SearchResult, error) {
	embedding, err := r.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, errors.ErrEmbeddingUnavailable.WithCause(err)
	}

	results, err := r.vector.Search(ctx, r.config.Collection, embedding, r.config.SemanticTopK, "")
	if err != nil {
		return nil, err
	}

	filtered := results[:0]
	for _, res := range results {
		if textutil.NormalizeCosineSimilarity(res.Score) >= r.config.ScoreThreshold {
			filtered = append(filtered, res)
		}
	}
	return filtered, nil
}

// filterActive 丢弃已被更高版本取代的语义命中。版本表不可用时
// 保留原结果并记录告警，避免把降级放大为失败。
func (r *HybridRetriever) filterActive(ctx context.Context, results []*store.SearchResult) []*store.SearchResult {
	if len(results) == 0 {
		return results
	}

	active, err := r.keyword.ActiveVersions(ctx)
	if err != nil {
		logger.Warnw("获取生效版本失败，跳过语义结果版本过滤", "error", err.Error())
		return results
	}

	filtered := results[:0]
	for _, res := range results {
		keep, ok := active[res.DocumentID]
		if ok && res.Version == keep {
			filtered = append(filtered, res)
		}
	}
	return filtered
}
