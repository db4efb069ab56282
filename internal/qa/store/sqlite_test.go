package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testChunks(docID string, version int64, contents ...string) []*Chunk {
	now := time.Now().Unix()
	chunks := make([]*Chunk, len(contents))
	for i, c := range contents {
		chunks[i] = &Chunk{
			ID:         docID + "-" + string(rune('a'+i)),
			DocumentID: docID,
			Version:    version,
			Seq:        i,
			Content:    c,
			Source:     "test-source",
			Topic:      "analgesics",
			Language:   "en",
			UpdatedAt:  now,
		}
	}
	return chunks
}

func TestSQLiteStoreNextVersion(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	v, err := s.NextVersion(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	rec := &DocumentRecord{ID: "doc-1", Version: 1, Language: "en", IngestedAt: time.Now().Unix()}
	require.NoError(t, s.InsertDocument(ctx, rec, testChunks("doc-1", 1, "aspirin reduces fever")))

	v, err = s.NextVersion(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestSQLiteStoreSearch(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := &DocumentRecord{ID: "doc-1", Version: 1, Source: "pharmacology-handbook", Language: "en", IngestedAt: time.Now().Unix()}
	require.NoError(t, s.InsertDocument(ctx, rec, testChunks("doc-1", 1,
		"aspirin is a common analgesic used to reduce fever",
		"ibuprofen belongs to the NSAID family",
	)))

	results, err := s.Search(ctx, "aspirin fever", 10, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-1", results[0].DocumentID)
	assert.Equal(t, "pharmacology-handbook", results[0].Source)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSQLiteStoreSearchLanguageFilter(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	en := testChunks("doc-en", 1, "paracetamol dosing guidance for adults")
	require.NoError(t, s.InsertDocument(ctx, &DocumentRecord{ID: "doc-en", Version: 1, Language: "en", IngestedAt: 1}, en))

	zh := testChunks("doc-zh", 1, "paracetamol 对乙酰氨基酚用药说明")
	for _, c := range zh {
		c.Language = "zh"
	}
	require.NoError(t, s.InsertDocument(ctx, &DocumentRecord{ID: "doc-zh", Version: 1, Language: "zh", IngestedAt: 1}, zh))

	results, err := s.Search(ctx, "paracetamol", 10, "zh")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-zh", results[0].DocumentID)
}

func TestSQLiteStoreSupersede(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertDocument(ctx,
		&DocumentRecord{ID: "doc-1", Version: 1, Language: "en", IngestedAt: 1},
		testChunks("doc-1", 1, "old aspirin guidance")))
	require.NoError(t, s.InsertDocument(ctx,
		&DocumentRecord{ID: "doc-1", Version: 2, Language: "en", IngestedAt: 2},
		[]*Chunk{{ID: "doc-1-v2-a", DocumentID: "doc-1", Version: 2, Content: "new aspirin guidance", Language: "en", UpdatedAt: 2}}))
	require.NoError(t, s.SupersedePrior(ctx, "doc-1", 2))

	// 已取代版本不出现在检索结果中
	results, err := s.Search(ctx, "aspirin", 10, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(2), results[0].Version)

	versions, err := s.ActiveVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"doc-1": 2}, versions)

	docs, chunks, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), docs)
	assert.Equal(t, int64(1), chunks)
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := t.TempDir() + "/medqa.db"
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.InsertDocument(ctx,
		&DocumentRecord{ID: "doc-1", Version: 1, Language: "en", IngestedAt: 1},
		testChunks("doc-1", 1, "aspirin reduces fever")))
	require.NoError(t, s.Close())

	// 重新打开时迁移幂等，FTS 索引与触发器仍然可用
	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	results, err := s.Search(ctx, "aspirin", 10, "")
	require.NoError(t, err)
	require.Len(t, results, 1)

	require.NoError(t, s.InsertDocument(ctx,
		&DocumentRecord{ID: "doc-2", Version: 1, Language: "en", IngestedAt: 2},
		testChunks("doc-2", 1, "ibuprofen relieves pain")))

	results, err = s.Search(ctx, "ibuprofen", 10, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestBuildMatchQuery(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "普通词条 OR 连接",
			input:    "aspirin fever",
			expected: `"aspirin" OR "fever"`,
		},
		{
			name:     "引号被转义",
			input:    `"aspirin"`,
			expected: `"""aspirin"""`,
		},
		{
			name:     "空输入返回空",
			input:    "   ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildMatchQuery(tt.input))
		})
	}
}
