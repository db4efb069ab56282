package biz

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medkb-io/medqa/internal/model"
	"github.com/medkb-io/medqa/internal/pkg/textutil"
	"github.com/medkb-io/medqa/pkg/errors"
)

func newTestChunker(t *testing.T, config *ChunkerConfig) *Chunker {
	t.Helper()
	c, err := NewChunker(config)
	require.NoError(t, err)
	return c
}

func TestChunkerSplitShortDocument(t *testing.T) {
	c := newTestChunker(t, nil)
	doc := &model.Document{
		ID:       "doc-1",
		Content:  "Aspirin reduces fever.\n\nIbuprofen also reduces fever.",
		Source:   "WHO",
		Topic:    "fever",
		Language: "en",
	}

	chunks, err := c.Split(doc, 1, 1000)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	chunk := chunks[0]
	assert.Equal(t, textutil.HashString("doc-1:1:0"), chunk.ID)
	assert.Equal(t, "doc-1", chunk.DocumentID)
	assert.Equal(t, int64(1), chunk.Version)
	assert.Equal(t, 0, chunk.Seq)
	assert.Equal(t, "WHO", chunk.Source)
	assert.Equal(t, "fever", chunk.Topic)
	assert.Equal(t, "en", chunk.Language)
	assert.Equal(t, int64(1000), chunk.UpdatedAt)
	assert.Contains(t, chunk.Content, "Aspirin")
	assert.Contains(t, chunk.Content, "Ibuprofen")
}

func TestChunkerDeterministic(t *testing.T) {
	c := newTestChunker(t, &ChunkerConfig{ChunkSize: 100, Overlap: 30, MinChunkLen: 10})

	var sb strings.Builder
	for i := 0; i < 30; i++ {
		sb.WriteString(fmt.Sprintf("Clinical fact number %02d is stated here. ", i))
	}
	doc := &model.Document{ID: "doc-1", Content: sb.String()}

	first, err := c.Split(doc, 3, 500)
	require.NoError(t, err)
	second, err := c.Split(doc, 3, 500)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Content, second[i].Content)
	}
}

func TestChunkerSizeAndOverlap(t *testing.T) {
	c := newTestChunker(t, &ChunkerConfig{ChunkSize: 100, Overlap: 30, MinChunkLen: 10})

	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString(fmt.Sprintf("Fact %02d holds true. ", i))
	}
	doc := &model.Document{ID: "doc-1", Content: sb.String()}

	chunks, err := c.Split(doc, 1, 0)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Content), c.config.ChunkSize+c.config.MinChunkLen,
			"chunk %d exceeds size limit", i)
		assert.Equal(t, i, chunk.Seq)
	}

	// 后块以前块的尾句开头，形成重叠
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Content
		idx := strings.LastIndex(prev, ". ")
		require.Greater(t, idx, 0)
		tail := prev[idx+2:]
		assert.Contains(t, chunks[i].Content, tail,
			"chunk %d does not overlap with its predecessor", i)
	}
}

func TestChunkerProtectedTerms(t *testing.T) {
	c := newTestChunker(t, &ChunkerConfig{ChunkSize: 20, Overlap: 5, MinChunkLen: 3})

	// 无句读的长句，剂量词条恰好落在窗口边界上
	sentence := strings.Repeat("a", 17) + " 500 mg " + strings.Repeat("b", 30)
	pieces := c.splitLongSentence(sentence)
	require.Greater(t, len(pieces), 1)

	for _, p := range pieces {
		if strings.Contains(p, "500") {
			assert.Contains(t, p, "500 mg", "dose term must not be split across windows")
		}
	}
}

func TestChunkerLongSentenceWindows(t *testing.T) {
	c := newTestChunker(t, &ChunkerConfig{ChunkSize: 20, Overlap: 5, MinChunkLen: 3})

	// 无保护词条的长句退化为固定重叠窗口切分
	var sb strings.Builder
	for i := 0; i < 47; i++ {
		sb.WriteByte(byte('a' + i%26))
	}
	sentence := sb.String()

	pieces := c.splitLongSentence(sentence)
	require.Greater(t, len(pieces), 1)
	assert.Equal(t, textutil.SplitIntoWindows(sentence, 20, 5), pieces)

	// 相邻窗口共享 overlap 个字符
	for i := 1; i < len(pieces); i++ {
		assert.Equal(t, pieces[i-1][15:20], pieces[i][:5])
	}
}

func TestChunkerShortTailMerged(t *testing.T) {
	c := newTestChunker(t, &ChunkerConfig{ChunkSize: 60, Overlap: 0, MinChunkLen: 20})

	content := strings.Repeat("x", 55) + ". Tiny."
	doc := &model.Document{ID: "doc-1", Content: content}

	chunks, err := c.Split(doc, 1, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "Tiny.")
}

func TestChunkerEmptyDocument(t *testing.T) {
	c := newTestChunker(t, nil)

	_, err := c.Split(&model.Document{ID: "doc-1", Content: "   \n\t "}, 1, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrValidation.Code))
}

func TestNewChunkerInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config *ChunkerConfig
	}{
		{"块大小为零", &ChunkerConfig{ChunkSize: 0, Overlap: 0}},
		{"重叠为负", &ChunkerConfig{ChunkSize: 100, Overlap: -1}},
		{"重叠不小于块大小", &ChunkerConfig{ChunkSize: 100, Overlap: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.config)
			assert.Error(t, err)
		})
	}
}
