package store

import (
	"context"
)

// Chunk 表示文档块。
type Chunk struct {
	// ID 文档块 ID，由文档 ID、版本与序号确定性派生。
	ID string
	// DocumentID 所属文档 ID。
	DocumentID string
	// Version 所属文档版本。
	Version int64
	// Seq 块在文档内的序号。
	Seq int
	// Content 块内容。
	Content string
	// Source 来源。
	Source string
	// Topic 主题。
	Topic string
	// Language 语言代码。
	Language string
	// UpdatedAt 入库时间（Unix 秒）。
	UpdatedAt int64
	// Embedding 嵌入向量。
	Embedding []float32
}

// SearchResult 表示单路检索结果，Score 为该路的原始分数。
type SearchResult struct {
	// ChunkID 文档块 ID。
	ChunkID string
	// DocumentID 所属文档 ID。
	DocumentID string
	// Version 所属文档版本。
	Version int64
	// Content 块内容。
	Content string
	// Source 来源。
	Source string
	// Topic 主题。
	Topic string
	// UpdatedAt 入库时间（Unix 秒）。
	UpdatedAt int64
	// Score 原始分数。向量路为余弦相似度 [-1,1]，关键词路为 -bm25（越大越相关）。
	Score float64
}

// CollectionConfig 集合配置。
type CollectionConfig struct {
	// Name 集合名称。
	Name string
	// Description 集合描述。
	Description string
	// Dimension 向量维度。
	Dimension int
}

// VectorStore 定义向量索引接口。
type VectorStore interface {
	// CreateCollection 创建集合。
	CreateCollection(ctx context.Context, config *CollectionConfig) error

	// Insert 批量插入文档块。
	Insert(ctx context.Context, collection string, chunks []*Chunk) error

	// Search 向量相似度搜索，filter 为可选的布尔过滤表达式。
	Search(ctx context.Context, collection string, embedding []float32, topK int, filter string) ([]*SearchResult, error)

	// DeleteByChunkIDs 按块 ID 删除，用于配对写入失败后的补偿。
	DeleteByChunkIDs(ctx context.Context, collection string, chunkIDs []string) error

	// GetStats 获取集合统计信息。
	GetStats(ctx context.Context, collection string) (int64, error)

	// Close 关闭连接。
	Close(ctx context.Context) error
}

// DocumentRecord 文档注册信息，关键词索引是文档版本的权威来源。
type DocumentRecord struct {
	// ID 文档 ID。
	ID string
	// Version 文档版本，按文档单调递增。
	Version int64
	// Source 来源。
	Source string
	// Topic 主题。
	Topic string
	// Language 语言代码。
	Language string
	// IngestedAt 入库时间（Unix 秒）。
	IngestedAt int64
}

// KeywordStore 定义关键词索引接口。
type KeywordStore interface {
	// NextVersion 返回文档的下一个版本号（当前最大版本 + 1，首个为 1）。
	NextVersion(ctx context.Context, documentID string) (int64, error)

	// InsertDocument 在单个事务中写入文档注册行与全部文档块。
	InsertDocument(ctx context.Context, rec *DocumentRecord, chunks []*Chunk) error

	// SupersedePrior 将文档中早于 keepVersion 的版本标记为已取代。
	SupersedePrior(ctx context.Context, documentID string, keepVersion int64) error

	// ActiveVersions 返回所有文档的当前生效版本。
	ActiveVersions(ctx context.Context) (map[string]int64, error)

	// Search 全文检索，language 非空时按语言过滤。已取代版本不出现在结果中。
	Search(ctx context.Context, query string, topK int, language string) ([]*SearchResult, error)

	// Stats 返回生效文档数与块数。
	Stats(ctx context.Context) (docs int64, chunks int64, err error)

	// Close 关闭存储。
	Close() error
}
