// Package llm 定义 LLM 供应商抽象与注册机制。
package llm

import (
	"context"
	"fmt"
	"sync"
)

// EmbeddingProvider 向量嵌入供应商接口。
type EmbeddingProvider interface {
	// Embed 为多个文本生成向量嵌入
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedSingle 为单个文本生成向量嵌入
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	// Name 返回供应商名称
	Name() string
}

// GenerateOptions 文本生成选项。
type GenerateOptions struct {
	// System 系统提示词
	System string
	// Temperature 采样温度，0 表示使用供应商默认值
	Temperature float32
	// MaxTokens 最大生成 token 数，0 表示不限制
	MaxTokens int
}

// GenerationProvider 文本生成供应商接口。
type GenerationProvider interface {
	// Generate 根据提示生成文本
	Generate(ctx context.Context, prompt string, opts *GenerateOptions) (string, error)
	// Name 返回供应商名称
	Name() string
}

// Provider 完整的 LLM 供应商接口，同时提供嵌入与生成能力。
type Provider interface {
	EmbeddingProvider
	GenerationProvider
}

// Factory 供应商工厂函数，从配置 map 创建供应商实例。
type Factory func(configMap map[string]any) (Provider, error)

var (
	providerMu sync.RWMutex
	providers  = make(map[string]Factory)
)

// RegisterProvider 注册供应商工厂。重复注册会 panic。
func RegisterProvider(name string, factory Factory) {
	providerMu.Lock()
	defer providerMu.Unlock()

	if _, ok := providers[name]; ok {
		panic(fmt.Sprintf("llm provider %q already registered", name))
	}
	providers[name] = factory
}

// NewProvider 根据名称与配置创建供应商实例。
func NewProvider(name string, configMap map[string]any) (Provider, error) {
	providerMu.RLock()
	factory, ok := providers[name]
	providerMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown llm provider: %s", name)
	}
	return factory(configMap)
}

// ListProviders 列出所有已注册的供应商名称。
func ListProviders() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	return names
}
