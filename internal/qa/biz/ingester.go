package biz

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/medkb-io/medqa/internal/model"
	"github.com/medkb-io/medqa/internal/qa/metrics"
	"github.com/medkb-io/medqa/internal/qa/store"
	"github.com/medkb-io/medqa/pkg/errors"
	"github.com/medkb-io/medqa/pkg/infra/pool"
	"github.com/medkb-io/medqa/pkg/llm"
)

// IngesterConfig 入库配置。
type IngesterConfig struct {
	// Collection 向量集合名称
	Collection string
	// EmbedBatchSize 每批嵌入的块数
	EmbedBatchSize int
	// EmbeddingDim 嵌入向量维度，非零时逐条校验
	EmbeddingDim int
}

// DefaultIngesterConfig 返回默认入库配置。
func DefaultIngesterConfig() *IngesterConfig {
	return &IngesterConfig{
		Collection:     "medical_chunks",
		EmbedBatchSize: 10,
		EmbeddingDim:   768,
	}
}

// supportedLanguages 入库接受的语言代码。
var supportedLanguages = map[string]bool{"en": true, "zh": true}

// Ingester 文档入库流水线：校验、分配版本、分块、嵌入、
// 配对写入向量索引与关键词索引、取代旧版本。
type Ingester struct {
	config   *IngesterConfig
	chunker  *Chunker
	embedder llm.EmbeddingProvider
	vector   store.VectorStore
	keyword  store.KeywordStore
	retry    *RetryConfig
	metrics  *metrics.QAMetrics
}

// NewIngester 创建入库流水线。
func NewIngester(config *IngesterConfig, chunker *Chunker, embedder llm.EmbeddingProvider, vector store.VectorStore, keyword store.KeywordStore) *Ingester {
	if config == nil {
		config = DefaultIngesterConfig()
	}
	return &Ingester{
		config:   config,
		chunker:  chunker,
		embedder: embedder,
		vector:   vector,
		keyword:  keyword,
		retry:    DefaultRetryConfig(),
		metrics:  metrics.GetQAMetrics(),
	}
}

// Ingest 执行完整入库。成功后该文档的旧版本不再出现在检索结果中。
// 两个索引的配对写入通过补偿保证一致：关键词写入失败时回滚向量写入。
func (ing *Ingester) Ingest(ctx context.Context, doc *model.Document) (*model.IngestResult, error) {
	if err := ing.validate(doc); err != nil {
		ing.metrics.RecordIngest(0, 0, err)
		return nil, err
	}

	version, err := ing.keyword.NextVersion(ctx, doc.ID)
	if err != nil {
		ing.metrics.RecordIngest(0, 0, err)
		return nil, errors.ErrIndexUnavailable.WithCause(err)
	}

	now := time.Now().Unix()
	chunks, err := ing.chunker.Split(doc, version, now)
	if err != nil {
		ing.metrics.RecordIngest(0, 0, err)
		return nil, err
	}

	if err := ing.embedChunks(ctx, chunks); err != nil {
		ing.metrics.RecordIngest(0, 0, err)
		return nil, err
	}

	if err := ing.writePaired(ctx, doc, version, now, chunks); err != nil {
		ing.metrics.RecordIngest(0, 0, err)
		return nil, err
	}

	if err := ing.keyword.SupersedePrior(ctx, doc.ID, version); err != nil {
		// 新版本已生效，旧版本由版本表的最大值语义兜底
		logger.Warnw("标记旧版本失败",
			"document_id", doc.ID,
			"keep_version", version,
			"error", err.Error(),
		)
	}

	ing.metrics.RecordIngest(1, len(chunks), nil)
	logger.Infow("文档入库完成",
		"document_id", doc.ID,
		"version", version,
		"chunks", len(chunks),
	)

	return &model.IngestResult{
		DocumentID: doc.ID,
		Version:    version,
		ChunkCount: len(chunks),
	}, nil
}

// validate 校验文档字段。语言为空时默认英文。
func (ing *Ingester) validate(doc *model.Document) error {
	if doc == nil {
		return errors.ErrValidation.WithMessage("document is nil")
	}
	if strings.TrimSpace(doc.ID) == "" {
		return errors.ErrValidation.WithMessage("document id is empty")
	}
	if strings.TrimSpace(doc.Content) == "" {
		return errors.ErrValidation.WithMessage("document content is empty")
	}
	if doc.Language == "" {
		doc.Language = "en"
	}
	if !supportedLanguages[doc.Language] {
		return errors.ErrValidation.WithMessagef("unsupported language: %s", doc.Language)
	}
	return nil
}

// embedChunks 通过入库工作池并行地按批嵌入。池饱和映射为过载错误，
// 调用方可据此返回 429。
func (ing *Ingester) embedChunks(ctx context.Context, chunks []*store.Chunk) error {
	p, err := pool.GetByType(pool.IngestPool)
	if err != nil {
		return errors.ErrInternal.WithCause(err)
	}

	batchSize := ing.config.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		wg.Add(1)
		submitErr := p.Submit(func() {
			defer wg.Done()
			setErr(ing.embedBatch(ctx, batch))
		})
		if submitErr != nil {
			wg.Done()
			wg.Wait()
			if submitErr == pool.ErrPoolOverload {
				return errors.ErrOverloaded.WithCause(submitErr)
			}
			return errors.ErrInternal.WithCause(submitErr)
		}
	}
	wg.Wait()

	return firstErr
}

// embedBatch 嵌入单批块并校验维度，对可重试错误做指数退避。
func (ing *Ingester) embedBatch(ctx context.Context, batch []*store.Chunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}

	var embeddings [][]float32
	err := RetryWithBackoff(ctx, ing.retry, nil, func(ctx context.Context) error {
		var embedErr error
		embeddings, embedErr = ing.embedder.Embed(ctx, texts)
		return embedErr
	})
	if err != nil {
		return errors.ErrEmbeddingUnavailable.WithCause(err)
	}

	if len(embeddings) != len(batch) {
		return errors.ErrEmbeddingUnavailable.WithMessagef("embedding count mismatch: got %d, want %d", len(embeddings), len(batch))
	}
	for i, emb := range embeddings {
		if ing.config.EmbeddingDim > 0 && len(emb) != ing.config.EmbeddingDim {
			return errors.ErrEmbeddingDimension.WithMessagef("chunk %s: dimension %d, want %d", batch[i].ID, len(emb), ing.config.EmbeddingDim)
		}
		batch[i].Embedding = emb
	}
	return nil
}

// writePaired 先写向量索引，再写关键词索引。两路写入都对可重试错误
// 退避重试，关键词写入重试后仍失败时删除已写入的向量行。
func (ing *Ingester) writePaired(ctx context.Context, doc *model.Document, version, now int64, chunks []*store.Chunk) error {
	err := RetryWithBackoff(ctx, ing.retry, nil, func(ctx context.Context) error {
		return ing.vector.Insert(ctx, ing.config.Collection, chunks)
	})
	if err != nil {
		return errors.ErrIndexUnavailable.WithCause(err)
	}

	rec := &store.DocumentRecord{
		ID:         doc.ID,
		Version:    version,
		Source:     doc.Source,
		Topic:      doc.Topic,
		Language:   doc.Language,
		IngestedAt: now,
	}
	err = RetryWithBackoff(ctx, ing.retry, nil, func(ctx context.Context) error {
		return ing.keyword.InsertDocument(ctx, rec, chunks)
	})
	if err != nil {
		ing.rollbackVector(ctx, chunks)
		return errors.ErrIndexUnavailable.WithCause(err)
	}
	return nil
}

// rollbackVector 补偿删除已写入的向量行，失败仅记录。
func (ing *Ingester) rollbackVector(ctx context.Context, chunks []*store.Chunk) {
	ing.metrics.RecordIngestRollback()

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := ing.vector.DeleteByChunkIDs(ctx, ing.config.Collection, ids); err != nil {
		logger.Errorw("配对写入补偿删除失败，向量索引存在孤儿块",
			"collection", ing.config.Collection,
			"chunks", len(ids),
			"error", err.Error(),
		)
		return
	}
	logger.Warnw("关键词索引写入失败，已回滚向量写入", "chunks", len(ids))
}
