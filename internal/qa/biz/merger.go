package biz

import (
	"sort"

	"github.com/medkb-io/medqa/internal/pkg/textutil"
	"github.com/medkb-io/medqa/internal/qa/store"
)

// Merge 合并语义检索与关键词检索的候选集。纯函数，无副作用：
//   - 语义分数（余弦相似度 [-1,1]）线性映射到 [0,1]；
//   - 关键词分数按本批最大值归一化到 [0,1]；
//   - 同一块出现在两路时保留较高分；
//   - 按分数降序、更新时间降序、块 ID 升序排序后截断到 topK。
func Merge(semantic, lexical []*store.SearchResult, topK int) []*store.SearchResult {
	if topK <= 0 {
		return nil
	}

	merged := make(map[string]*store.SearchResult, len(semantic)+len(lexical))

	for _, r := range semantic {
		score := textutil.NormalizeCosineSimilarity(r.Score)
		add(merged, r, score)
	}

	var maxLex float64
	for _, r := range lexical {
		if r.Score > maxLex {
			maxLex = r.Score
		}
	}
	for _, r := range lexical {
		score := 0.0
		if maxLex > 0 {
			score = r.Score / maxLex
		}
		add(merged, r, score)
	}

	out := make([]*store.SearchResult, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// add 以归一化分数写入候选集，重复块保留较高分。
func add(merged map[string]*store.SearchResult, r *store.SearchResult, score float64) {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	if prev, ok := merged[r.ChunkID]; ok {
		if score > prev.Score {
			prev.Score = score
		}
		return
	}
	clone := *r
	clone.Score = score
	merged[r.ChunkID] = &clone
}
