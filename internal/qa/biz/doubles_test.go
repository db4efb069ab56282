package biz

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/medkb-io/medqa/internal/qa/store"
	"github.com/medkb-io/medqa/pkg/llm"
)

// fakeEmbedder 确定性嵌入：向量由文本哈希派生，分量非负，
// 相同文本总是得到相同向量。
type fakeEmbedder struct {
	dim int
	err error

	mu    sync.Mutex
	calls int
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	return &fakeEmbedder{dim: dim}
}

func (f *fakeEmbedder) embed(text string) []float32 {
	vec := make([]float32, f.dim)
	for i := range vec {
		h := fnv.New32a()
		h.Write([]byte(text))
		h.Write([]byte{byte(i)})
		vec[i] = float32(h.Sum32()%1000) / 1000.0
	}
	return vec
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.embed(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.embed(text), nil
}

func (f *fakeEmbedder) Name() string { return "fake-embedder" }

// fakeGenerator 脚本化生成器：先按顺序返回 errs 中的错误，之后返回 response。
type fakeGenerator struct {
	response string
	errs     []error

	mu         sync.Mutex
	calls      int
	lastPrompt string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, opts *llm.GenerateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.lastPrompt = prompt
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return "", err
	}
	return f.response, nil
}

func (f *fakeGenerator) Name() string { return "fake-generator" }

var _ llm.GenerationProvider = (*fakeGenerator)(nil)
var _ llm.EmbeddingProvider = (*fakeEmbedder)(nil)

// failingVectorStore 包装向量索引，按需注入失败。
type failingVectorStore struct {
	store.VectorStore
	searchErr error
	insertErr error
}

func (s *failingVectorStore) Search(ctx context.Context, collection string, embedding []float32, topK int, filter string) ([]*store.SearchResult, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.VectorStore.Search(ctx, collection, embedding, topK, filter)
}

func (s *failingVectorStore) Insert(ctx context.Context, collection string, chunks []*store.Chunk) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	return s.VectorStore.Insert(ctx, collection, chunks)
}

// failingKeywordStore 包装关键词索引，按需注入失败。
type failingKeywordStore struct {
	store.KeywordStore
	searchErr error
	insertErr error
	activeErr error
}

func (s *failingKeywordStore) Search(ctx context.Context, query string, topK int, language string) ([]*store.SearchResult, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.KeywordStore.Search(ctx, query, topK, language)
}

func (s *failingKeywordStore) InsertDocument(ctx context.Context, rec *store.DocumentRecord, chunks []*store.Chunk) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	return s.KeywordStore.InsertDocument(ctx, rec, chunks)
}

func (s *failingKeywordStore) ActiveVersions(ctx context.Context) (map[string]int64, error) {
	if s.activeErr != nil {
		return nil, s.activeErr
	}
	return s.KeywordStore.ActiveVersions(ctx)
}

// flakyKeywordStore 前 insertFails 次 InsertDocument 返回 insertErr，之后委托底层存储。
type flakyKeywordStore struct {
	store.KeywordStore
	insertErr   error
	insertFails int

	mu          sync.Mutex
	insertCalls int
}

func (s *flakyKeywordStore) InsertDocument(ctx context.Context, rec *store.DocumentRecord, chunks []*store.Chunk) error {
	s.mu.Lock()
	s.insertCalls++
	call := s.insertCalls
	s.mu.Unlock()

	if call <= s.insertFails {
		return s.insertErr
	}
	return s.KeywordStore.InsertDocument(ctx, rec, chunks)
}
