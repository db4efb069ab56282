package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/medkb-io/medqa/pkg/component/milvus"
)

// milvus 集合的元数据输出字段。
var milvusOutputFields = []string{"chunk_id", "document_id", "doc_version", "source", "topic", "content", "updated_at"}

// MilvusStore 实现基于 Milvus 的向量索引。
type MilvusStore struct {
	client *milvus.Client
}

// NewMilvusStore 创建 Milvus 存储实例。
func NewMilvusStore(client *milvus.Client) *MilvusStore {
	return &MilvusStore{client: client}
}

// CreateCollection 创建 Milvus 集合。
func (s *MilvusStore) CreateCollection(ctx context.Context, config *CollectionConfig) error {
	schema := &milvus.CollectionSchema{
		Name:        config.Name,
		Description: config.Description,
		Dimension:   config.Dimension,
		MetaFields: []milvus.MetaField{
			{Name: "chunk_id", DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: "document_id", DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: "doc_version", DataType: entity.FieldTypeInt64},
			{Name: "source", DataType: entity.FieldTypeVarChar, MaxLen: 255},
			{Name: "topic", DataType: entity.FieldTypeVarChar, MaxLen: 255},
			{Name: "language", DataType: entity.FieldTypeVarChar, MaxLen: 16},
			{Name: "content", DataType: entity.FieldTypeVarChar, MaxLen: 65535},
			{Name: "updated_at", DataType: entity.FieldTypeInt64},
		},
	}
	return s.client.CreateCollection(ctx, schema)
}

// Insert 批量插入文档块到 Milvus。
func (s *MilvusStore) Insert(ctx context.Context, collection string, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	embeddings := make([][]float32, len(chunks))
	metadata := map[string][]any{
		"chunk_id":    make([]any, len(chunks)),
		"document_id": make([]any, len(chunks)),
		"doc_version": make([]any, len(chunks)),
		"source":      make([]any, len(chunks)),
		"topic":       make([]any, len(chunks)),
		"language":    make([]any, len(chunks)),
		"content":     make([]any, len(chunks)),
		"updated_at":  make([]any, len(chunks)),
	}

	for i, chunk := range chunks {
		embeddings[i] = chunk.Embedding
		metadata["chunk_id"][i] = chunk.ID
		metadata["document_id"][i] = chunk.DocumentID
		metadata["doc_version"][i] = chunk.Version
		metadata["source"][i] = chunk.Source
		metadata["topic"][i] = chunk.Topic
		metadata["language"][i] = chunk.Language
		metadata["content"][i] = chunk.Content
		metadata["updated_at"][i] = chunk.UpdatedAt
	}

	data := &milvus.InsertData{
		Embeddings: embeddings,
		Metadata:   metadata,
	}

	if _, err := s.client.Insert(ctx, collection, data); err != nil {
		return fmt.Errorf("failed to insert into milvus: %w", err)
	}

	return nil
}

// Search 执行向量相似度搜索。filter 为 Milvus 布尔过滤表达式，
// 例如 `language == "zh"`，空字符串表示不过滤。
func (s *MilvusStore) Search(ctx context.Context, collection string, embedding []float32, topK int, filter string) ([]*SearchResult, error) {
	results, err := s.client.Search(ctx, collection, embedding, topK, filter, milvusOutputFields)
	if err != nil {
		return nil, fmt.Errorf("failed to search milvus: %w", err)
	}

	searchResults := make([]*SearchResult, 0, len(results))
	for _, r := range results {
		sr := &SearchResult{
			Score: float64(r.Score),
		}
		if v, ok := r.Metadata["chunk_id"].(string); ok {
			sr.ChunkID = v
		}
		if v, ok := r.Metadata["document_id"].(string); ok {
			sr.DocumentID = v
		}
		if v, ok := r.Metadata["doc_version"].(int64); ok {
			sr.Version = v
		}
		if v, ok := r.Metadata["source"].(string); ok {
			sr.Source = v
		}
		if v, ok := r.Metadata["topic"].(string); ok {
			sr.Topic = v
		}
		if v, ok := r.Metadata["content"].(string); ok {
			sr.Content = v
		}
		if v, ok := r.Metadata["updated_at"].(int64); ok {
			sr.UpdatedAt = v
		}
		searchResults = append(searchResults, sr)
	}

	return searchResults, nil
}

// DeleteByChunkIDs 按块 ID 删除向量。
func (s *MilvusStore) DeleteByChunkIDs(ctx context.Context, collection string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	quoted := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	expr := fmt.Sprintf("chunk_id in [%s]", strings.Join(quoted, ", "))

	if err := s.client.DeleteByExpr(ctx, collection, expr); err != nil {
		return fmt.Errorf("failed to delete chunks from milvus: %w", err)
	}
	return nil
}

// GetStats 获取集合统计信息。
func (s *MilvusStore) GetStats(ctx context.Context, collection string) (int64, error) {
	return s.client.GetCollectionStats(ctx, collection)
}

// Close 关闭 Milvus 连接。
func (s *MilvusStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// 确保 MilvusStore 实现了 VectorStore 接口。
var _ VectorStore = (*MilvusStore)(nil)
