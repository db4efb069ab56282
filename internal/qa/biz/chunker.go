package biz

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/medkb-io/medqa/internal/model"
	"github.com/medkb-io/medqa/internal/pkg/textutil"
	"github.com/medkb-io/medqa/internal/qa/store"
	"github.com/medkb-io/medqa/pkg/errors"
)

// ChunkerConfig 分块器配置。
type ChunkerConfig struct {
	// ChunkSize 每块最大 Unicode 字符数
	ChunkSize int
	// Overlap 相邻块之间的重叠字符数
	Overlap int
	// MinChunkLen 最小块长度，过短的尾块并入前一块
	MinChunkLen int
}

// DefaultChunkerConfig 返回默认分块配置。
func DefaultChunkerConfig() *ChunkerConfig {
	return &ChunkerConfig{
		ChunkSize:   512,
		Overlap:     50,
		MinChunkLen: 20,
	}
}

// Chunker 将文档确定性地分割为重叠的块。
// 优先按段落与句子边界分割，保护医学词条不被截断。
type Chunker struct {
	config *ChunkerConfig
}

// NewChunker 创建分块器。
func NewChunker(config *ChunkerConfig) (*Chunker, error) {
	if config == nil {
		config = DefaultChunkerConfig()
	}
	if config.ChunkSize <= 0 {
		return nil, errors.ErrValidation.WithMessage("chunk size must be positive")
	}
	if config.Overlap < 0 || config.Overlap >= config.ChunkSize {
		return nil, errors.ErrValidation.WithMessage("overlap must be non-negative and smaller than chunk size")
	}
	return &Chunker{config: config}, nil
}

// protectedTermRe 匹配不允许被截断的医学词条：
// 剂量（500 mg、2.5 ml）、ICD 风格编码（J45.909）、连字符药名。
var protectedTermRe = regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s*(?:mg|mcg|ml|g|iu|units)\b|\b[A-Z]\d{2}(?:\.\d+)?\b|\b\w+(?:-\w+)+\b`)

// Split 将文档分割为块。相同输入总是产生相同的块集合：
// 块 ID 由文档 ID、版本与序号哈希派生。
func (c *Chunker) Split(doc *model.Document, version int64, now int64) ([]*store.Chunk, error) {
	text := strings.TrimSpace(doc.Content)
	if text == "" {
		return nil, errors.ErrValidation.WithMessage("document content is empty")
	}

	pieces := c.split(text)
	chunks := make([]*store.Chunk, len(pieces))
	for i, content := range pieces {
		chunks[i] = &store.Chunk{
			ID:         textutil.HashString(fmt.Sprintf("%s:%d:%d", doc.ID, version, i)),
			DocumentID: doc.ID,
			Version:    version,
			Seq:        i,
			Content:    content,
			Source:     doc.Source,
			Topic:      doc.Topic,
			Language:   doc.Language,
			UpdatedAt:  now,
		}
	}
	return chunks, nil
}

// split 分割正文：段落 → 句子 → 贪心打包，尾部句子作为块间重叠。
func (c *Chunker) split(text string) []string {
	var sentences []string
	for _, para := range textutil.SplitParagraphs(text) {
		ss := textutil.SplitSentences(para)
		if len(ss) == 0 {
			ss = []string{para}
		}
		for _, s := range ss {
			if utf8.RuneCountInString(s) > c.config.ChunkSize {
				sentences = append(sentences, c.splitLongSentence(s)...)
			} else {
				sentences = append(sentences, s)
			}
		}
	}

	var out []string
	var cur []string
	curLen := 0

	for _, s := range sentences {
		sl := utf8.RuneCountInString(s)
		if curLen > 0 && curLen+sl+1 > c.config.ChunkSize {
			out = append(out, strings.Join(cur, " "))

			// 保留尾部句子作为重叠，不超过 Overlap 个字符
			var keep []string
			keepLen := 0
			for i := len(cur) - 1; i >= 0; i-- {
				l := utf8.RuneCountInString(cur[i])
				if keepLen+l+1 > c.config.Overlap {
					break
				}
				keep = append([]string{cur[i]}, keep...)
				keepLen += l + 1
			}
			cur = keep
			curLen = keepLen
		}
		cur = append(cur, s)
		curLen += sl + 1
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, " "))
	}

	// 过短的尾块并入前一块
	if len(out) >= 2 && utf8.RuneCountInString(out[len(out)-1]) < c.config.MinChunkLen {
		out[len(out)-2] = out[len(out)-2] + " " + out[len(out)-1]
		out = out[:len(out)-1]
	}

	return out
}

// splitLongSentence 对超长句子按固定窗口切分。
// 无保护词条时直接按重叠窗口分割；否则窗口边界落在
// 保护词条内部时向后扩展到词条结束。
func (c *Chunker) splitLongSentence(s string) []string {
	spans := protectedSpans(s)
	if len(spans) == 0 {
		return textutil.SplitIntoWindows(s, c.config.ChunkSize, c.config.Overlap)
	}

	runes := []rune(s)
	if len(runes) <= c.config.ChunkSize {
		return []string{s}
	}

	var out []string
	step := c.config.ChunkSize - c.config.Overlap

	for start := 0; start < len(runes); start += step {
		end := start + c.config.ChunkSize
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}
		for _, span := range spans {
			if span[0] < end && end < span[1] {
				end = span[1]
				break
			}
		}
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// protectedSpans 返回保护词条的 [起, 止) rune 偏移。
func protectedSpans(s string) [][2]int {
	byteSpans := protectedTermRe.FindAllStringIndex(s, -1)
	if len(byteSpans) == 0 {
		return nil
	}

	// 字节偏移到 rune 偏移的映射
	byteToRune := make(map[int]int, len(s)+1)
	runeIdx := 0
	for byteIdx := range s {
		byteToRune[byteIdx] = runeIdx
		runeIdx++
	}
	byteToRune[len(s)] = runeIdx

	spans := make([][2]int, 0, len(byteSpans))
	for _, bs := range byteSpans {
		spans = append(spans, [2]int{byteToRune[bs[0]], byteToRune[bs[1]]})
	}
	return spans
}
