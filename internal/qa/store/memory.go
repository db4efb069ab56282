package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/medkb-io/medqa/internal/pkg/textutil"
)

// MemoryVectorStore 内存向量索引，用于测试与本地开发。
type MemoryVectorStore struct {
	mu          sync.RWMutex
	collections map[string][]*Chunk
}

// NewMemoryVectorStore 创建内存向量索引。
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{
		collections: make(map[string][]*Chunk),
	}
}

// CreateCollection 创建集合。
func (s *MemoryVectorStore) CreateCollection(ctx context.Context, config *CollectionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[config.Name]; !ok {
		s.collections[config.Name] = nil
	}
	return nil
}

// Insert 批量插入文档块。
func (s *MemoryVectorStore) Insert(ctx context.Context, collection string, chunks []*Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = append(s.collections[collection], chunks...)
	return nil
}

// Search 余弦相似度搜索。filter 表达式在内存实现中被忽略。
func (s *MemoryVectorStore) Search(ctx context.Context, collection string, embedding []float32, topK int, filter string) ([]*SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := s.collections[collection]
	results := make([]*SearchResult, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, &SearchResult{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Version:    c.Version,
			Content:    c.Content,
			Source:     c.Source,
			Topic:      c.Topic,
			UpdatedAt:  c.UpdatedAt,
			Score:      textutil.CosineSimilarity(embedding, c.Embedding),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteByChunkIDs 按块 ID 删除。
func (s *MemoryVectorStore) DeleteByChunkIDs(ctx context.Context, collection string, chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		drop[id] = true
	}

	kept := s.collections[collection][:0]
	for _, c := range s.collections[collection] {
		if !drop[c.ID] {
			kept = append(kept, c)
		}
	}
	s.collections[collection] = kept
	return nil
}

// GetStats 返回集合中的块数。
func (s *MemoryVectorStore) GetStats(ctx context.Context, collection string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.collections[collection])), nil
}

// Close 关闭存储。
func (s *MemoryVectorStore) Close(ctx context.Context) error {
	return nil
}

var _ VectorStore = (*MemoryVectorStore)(nil)

// MemoryKeywordStore 内存关键词索引，用于测试与本地开发。
// 评分为查询词条在块内容中的命中数。
type MemoryKeywordStore struct {
	mu     sync.RWMutex
	docs   []*DocumentRecord
	chunks []*Chunk
}

// NewMemoryKeywordStore 创建内存关键词索引。
func NewMemoryKeywordStore() *MemoryKeywordStore {
	return &MemoryKeywordStore{}
}

// NextVersion 返回文档的下一个版本号。
func (s *MemoryKeywordStore) NextVersion(ctx context.Context, documentID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	for _, d := range s.docs {
		if d.ID == documentID && d.Version > max {
			max = d.Version
		}
	}
	return max + 1, nil
}

// InsertDocument 写入文档注册行与全部文档块。
func (s *MemoryKeywordStore) InsertDocument(ctx context.Context, rec *DocumentRecord, chunks []*Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.docs = append(s.docs, &cp)
	s.chunks = append(s.chunks, chunks...)
	return nil
}

func (s *MemoryKeywordStore) activeVersionsLocked() map[string]int64 {
	versions := make(map[string]int64)
	for _, d := range s.docs {
		if d.Version > versions[d.ID] {
			versions[d.ID] = d.Version
		}
	}
	return versions
}

// SupersedePrior 在内存实现中是隐式的：ActiveVersions 始终取最大版本。
func (s *MemoryKeywordStore) SupersedePrior(ctx context.Context, documentID string, keepVersion int64) error {
	return nil
}

// ActiveVersions 返回所有文档的当前生效版本。
func (s *MemoryKeywordStore) ActiveVersions(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeVersionsLocked(), nil
}

// Search 词条命中计数检索，仅返回生效版本的块。
func (s *MemoryKeywordStore) Search(ctx context.Context, query string, topK int, language string) ([]*SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(textutil.NormalizeText(query)))
	if len(terms) == 0 {
		return nil, nil
	}

	active := s.activeVersionsLocked()
	var results []*SearchResult
	for _, c := range s.chunks {
		if active[c.DocumentID] != c.Version {
			continue
		}
		if language != "" && c.Language != language {
			continue
		}

		content := strings.ToLower(c.Content)
		var hits float64
		for _, t := range terms {
			if strings.Contains(content, t) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}

		results = append(results, &SearchResult{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Version:    c.Version,
			Content:    c.Content,
			Source:     c.Source,
			Topic:      c.Topic,
			UpdatedAt:  c.UpdatedAt,
			Score:      hits,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Stats 返回生效文档数与块数。
func (s *MemoryKeywordStore) Stats(ctx context.Context) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := s.activeVersionsLocked()
	var chunks int64
	for _, c := range s.chunks {
		if active[c.DocumentID] == c.Version {
			chunks++
		}
	}
	return int64(len(active)), chunks, nil
}

// Close 关闭存储。
func (s *MemoryKeywordStore) Close() error {
	return nil
}

var _ KeywordStore = (*MemoryKeywordStore)(nil)
