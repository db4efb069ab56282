package textutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
	}{
		{
			name:     "相同向量",
			a:        []float32{1, 2, 3},
			b:        []float32{1, 2, 3},
			expected: 1.0,
		},
		{
			name:     "正交向量",
			a:        []float32{1, 0},
			b:        []float32{0, 1},
			expected: 0.0,
		},
		{
			name:     "相反向量",
			a:        []float32{1, 2},
			b:        []float32{-1, -2},
			expected: -1.0,
		},
		{
			name:     "长度不同返回零",
			a:        []float32{1, 2, 3},
			b:        []float32{1, 2},
			expected: 0.0,
		},
		{
			name:     "零向量返回零",
			a:        []float32{0, 0},
			b:        []float32{1, 2},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CosineSimilarity(tt.a, tt.b)
			assert.InDelta(t, tt.expected, result, 0.0001)
		})
	}
}

func TestNormalizeCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, NormalizeCosineSimilarity(1.0), 0.0001)
	assert.InDelta(t, 0.5, NormalizeCosineSimilarity(0.0), 0.0001)
	assert.InDelta(t, 0.0, NormalizeCosineSimilarity(-1.0), 0.0001)
}

func TestHashString(t *testing.T) {
	h1 := HashString("hello")
	h2 := HashString("hello")
	h3 := HashString("world")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 32)
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{
			name:     "不超过最大长度",
			input:    "hello",
			maxLen:   10,
			expected: "hello",
		},
		{
			name:     "超过最大长度截断",
			input:    "hello world",
			maxLen:   5,
			expected: "hello",
		},
		{
			name:     "中文按字符截断",
			input:    "阿司匹林用于解热镇痛",
			maxLen:   4,
			expected: "阿司匹林",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TruncateString(tt.input, tt.maxLen))
		})
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "折叠连续空白",
			input:    "what   is\n\taspirin",
			expected: "what is aspirin",
		},
		{
			name:     "去除零宽字符",
			input:    "dia​gnose​ me",
			expected: "diagnose me",
		},
		{
			name:     "去除首尾空白",
			input:    "  布洛芬的副作用  ",
			expected: "布洛芬的副作用",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeText(tt.input))
		})
	}
}

func TestSplitSentences(t *testing.T) {
	sentences := SplitSentences("Aspirin reduces fever. It also relieves pain! Use with caution?")
	assert.Len(t, sentences, 3)
	assert.Equal(t, "Aspirin reduces fever.", sentences[0])

	zh := SplitSentences("阿司匹林可以退烧。也可以镇痛！")
	assert.Len(t, zh, 2)

	assert.Nil(t, SplitSentences("   "))
}

func TestSplitParagraphs(t *testing.T) {
	paragraphs := SplitParagraphs("para one\n\npara two\n\n\n\npara three")
	assert.Len(t, paragraphs, 3)
	assert.Equal(t, "para two", paragraphs[1])
}

func TestSplitIntoWindows(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		size      int
		overlap   int
		wantCount int
	}{
		{
			name:      "短文本单窗口",
			text:      "short",
			size:      100,
			overlap:   10,
			wantCount: 1,
		},
		{
			name:      "长文本多窗口",
			text:      strings.Repeat("a", 250),
			size:      100,
			overlap:   20,
			wantCount: 3,
		},
		{
			name:      "空文本无窗口",
			text:      "",
			size:      100,
			overlap:   10,
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := SplitIntoWindows(tt.text, tt.size, tt.overlap)
			assert.Len(t, chunks, tt.wantCount)
		})
	}
}

func TestSplitIntoWindowsOverlap(t *testing.T) {
	chunks := SplitIntoWindows(strings.Repeat("x", 150), 100, 20)
	assert.Len(t, chunks, 2)
	// 相邻窗口共享 overlap 个字符
	assert.Equal(t, chunks[0][80:], chunks[1][:20])
}
