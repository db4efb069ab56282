package qa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOptionsDefaults(t *testing.T) {
	opts := NewOptions()

	assert.Equal(t, ":8084", opts.Server.Addr)
	assert.Equal(t, "redis", opts.Session.Engine)

	// 两路检索候选数各自独立配置
	assert.Equal(t, 10, opts.QA.SemanticTopK)
	assert.Equal(t, 10, opts.QA.LexicalTopK)
	assert.Equal(t, 5, opts.QA.TopK)

	require.NoError(t, opts.Validate())
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"会话引擎非法", func(o *Options) { o.Session.Engine = "etcd" }},
		{"合并候选数为零", func(o *Options) { o.QA.TopK = 0 }},
		{"语义候选数为零", func(o *Options) { o.QA.SemanticTopK = 0 }},
		{"关键词候选数为负", func(o *Options) { o.QA.LexicalTopK = -1 }},
		{"重叠不小于块大小", func(o *Options) { o.QA.ChunkOverlap = o.QA.ChunkSize }},
		{"分数阈值越界", func(o *Options) { o.QA.ScoreThreshold = 1.5 }},
		{"缺少生成模型", func(o *Options) { o.Generation.Model = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := NewOptions()
			tt.mutate(opts)
			assert.Error(t, opts.Validate())
		})
	}
}
