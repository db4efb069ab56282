// Package qa provides the medqa service application.
package qa

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	logopts "github.com/medkb-io/medqa/pkg/options/logger"
	milvusopts "github.com/medkb-io/medqa/pkg/options/milvus"
	redisopts "github.com/medkb-io/medqa/pkg/options/redis"
	sqliteopts "github.com/medkb-io/medqa/pkg/options/sqlite"
)

// Options contains all medqa service options.
type Options struct {
	// Server contains HTTP server configuration.
	Server *ServerOptions `json:"server" mapstructure:"server"`

	// Log contains logger configuration.
	Log *logopts.Options `json:"log" mapstructure:"log"`

	// Milvus contains vector index configuration.
	Milvus *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// SQLite contains keyword index configuration.
	SQLite *sqliteopts.Options `json:"sqlite" mapstructure:"sqlite"`

	// Session contains session store configuration.
	Session *SessionOptions `json:"session" mapstructure:"session"`

	// Embedding contains embedding provider configuration.
	Embedding *LLMProviderOptions `json:"embedding" mapstructure:"embedding"`

	// Generation contains generation provider configuration.
	Generation *LLMProviderOptions `json:"generation" mapstructure:"generation"`

	// Safety contains safety gate configuration.
	Safety *SafetyOptions `json:"safety" mapstructure:"safety"`

	// QA contains retrieval and chunking configuration.
	QA *QAOptions `json:"qa" mapstructure:"qa"`
}

// ServerOptions HTTP 服务器配置。
type ServerOptions struct {
	// Addr 监听地址。
	Addr string `json:"addr" mapstructure:"addr"`

	// Mode gin 运行模式（debug/release/test）。
	Mode string `json:"mode" mapstructure:"mode"`

	// QueryTimeout 单次查询的超时时间。
	QueryTimeout time.Duration `json:"query-timeout" mapstructure:"query-timeout"`

	// ShutdownTimeout 优雅停机等待时间。
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewServerOptions 创建默认服务器配置。
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		Addr:            ":8084",
		Mode:            "release",
		QueryTimeout:    60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// SessionOptions 会话存储配置。
type SessionOptions struct {
	// Engine 存储引擎（redis/memory）。
	Engine string `json:"engine" mapstructure:"engine"`

	// MaxTurns 每个会话保留的最大轮次。
	MaxTurns int `json:"max-turns" mapstructure:"max-turns"`

	// TTL 会话空闲过期时间。
	TTL time.Duration `json:"ttl" mapstructure:"ttl"`

	// Redis Redis 连接配置。
	Redis *redisopts.Options `json:"redis" mapstructure:"redis"`
}

// NewSessionOptions 创建默认会话配置。
func NewSessionOptions() *SessionOptions {
	return &SessionOptions{
		Engine:   "redis",
		MaxTurns: 20,
		TTL:      30 * time.Minute,
		Redis:    redisopts.NewOptions(),
	}
}

// LLMProviderOptions 定义 LLM 供应商配置。
type LLMProviderOptions struct {
	// Provider 供应商名称（目前支持 ollama）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// Model 使用的模型名称。
	Model string `json:"model" mapstructure:"model"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 最大重试次数。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`
}

// NewLLMProviderOptions 创建默认 LLM 供应商配置。
func NewLLMProviderOptions() *LLMProviderOptions {
	return &LLMProviderOptions{
		Provider:   "ollama",
		BaseURL:    "http://localhost:11434",
		Timeout:    120 * time.Second,
		MaxRetries: 3,
	}
}

// ToConfigMap 转换为配置 map，用于供应商工厂。
func (o *LLMProviderOptions) ToConfigMap() map[string]any {
	return map[string]any{
		"base_url":       o.BaseURL,
		"embed_model":    o.Model,
		"generate_model": o.Model,
		"timeout":        o.Timeout,
		"max_retries":    o.MaxRetries,
	}
}

// SafetyOptions 安全门控配置。
type SafetyOptions struct {
	// EnableLLM 启用 LLM 分类器（失败时回退规则分类）。
	EnableLLM bool `json:"enable-llm" mapstructure:"enable-llm"`
}

// NewSafetyOptions 创建默认安全配置。
func NewSafetyOptions() *SafetyOptions {
	return &SafetyOptions{
		EnableLLM: false,
	}
}

// QAOptions 检索与分块配置。
type QAOptions struct {
	// ChunkSize 分块大小（字符）。
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap 分块重叠（字符）。
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// TopK 合并后保留的候选数。
	TopK int `json:"top-k" mapstructure:"top-k"`

	// SemanticTopK 向量路返回的候选数。
	SemanticTopK int `json:"semantic-top-k" mapstructure:"semantic-top-k"`

	// LexicalTopK 关键词路返回的候选数。
	LexicalTopK int `json:"lexical-top-k" mapstructure:"lexical-top-k"`

	// Collection Milvus 集合名称。
	Collection string `json:"collection" mapstructure:"collection"`

	// EmbeddingDim 嵌入向量维度。
	EmbeddingDim int `json:"embedding-dim" mapstructure:"embedding-dim"`

	// ScoreThreshold 语义路归一化分数下限。
	ScoreThreshold float64 `json:"score-threshold" mapstructure:"score-threshold"`

	// ContextBudget 上下文组装预算（字符）。
	ContextBudget int `json:"context-budget" mapstructure:"context-budget"`

	// EmbedBatchSize 入库时每批嵌入的块数。
	EmbedBatchSize int `json:"embed-batch-size" mapstructure:"embed-batch-size"`
}

// NewQAOptions 创建默认检索配置。
func NewQAOptions() *QAOptions {
	return &QAOptions{
		ChunkSize:      512,
		ChunkOverlap:   50,
		TopK:           5,
		SemanticTopK:   10,
		LexicalTopK:    10,
		Collection:     "medical_chunks",
		EmbeddingDim:   768, // nomic-embed-text dimension
		ScoreThreshold: 0.5,
		ContextBudget:  4000,
		EmbedBatchSize: 10,
	}
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	embedding := NewLLMProviderOptions()
	embedding.Model = "nomic-embed-text"

	generation := NewLLMProviderOptions()
	generation.Model = "qwen2.5:7b"

	return &Options{
		Server:     NewServerOptions(),
		Log:        logopts.NewOptions(),
		Milvus:     milvusopts.NewOptions(),
		SQLite:     sqliteopts.NewOptions(),
		Session:    NewSessionOptions(),
		Embedding:  embedding,
		Generation: generation,
		Safety:     NewSafetyOptions(),
		QA:         NewQAOptions(),
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.Log.AddFlags(fs)
	o.Milvus.AddFlags(fs)
	o.SQLite.AddFlags(fs)
	o.Session.Redis.AddFlags(fs)
	o.addServerFlags(fs)
	o.addSessionFlags(fs)
	o.addProviderFlags(fs, "embedding", o.Embedding)
	o.addProviderFlags(fs, "generation", o.Generation)
	o.addSafetyFlags(fs)
	o.addQAFlags(fs)
}

func (o *Options) addServerFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Server.Addr, "server.addr", o.Server.Addr, "HTTP listen address")
	fs.StringVar(&o.Server.Mode, "server.mode", o.Server.Mode, "Gin mode (debug, release, test)")
	fs.DurationVar(&o.Server.QueryTimeout, "server.query-timeout", o.Server.QueryTimeout, "Per-query timeout")
	fs.DurationVar(&o.Server.ShutdownTimeout, "server.shutdown-timeout", o.Server.ShutdownTimeout, "Graceful shutdown timeout")
}

func (o *Options) addSessionFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Session.Engine, "session.engine", o.Session.Engine, "Session store engine (redis, memory)")
	fs.IntVar(&o.Session.MaxTurns, "session.max-turns", o.Session.MaxTurns, "Maximum turns kept per session")
	fs.DurationVar(&o.Session.TTL, "session.ttl", o.Session.TTL, "Session idle TTL")
}

func (o *Options) addProviderFlags(fs *pflag.FlagSet, prefix string, opts *LLMProviderOptions) {
	fs.StringVar(&opts.Provider, prefix+".provider", opts.Provider, "LLM provider name")
	fs.StringVar(&opts.BaseURL, prefix+".base-url", opts.BaseURL, "LLM API base URL")
	fs.StringVar(&opts.Model, prefix+".model", opts.Model, "Model name")
	fs.DurationVar(&opts.Timeout, prefix+".timeout", opts.Timeout, "Request timeout")
	fs.IntVar(&opts.MaxRetries, prefix+".max-retries", opts.MaxRetries, "Max retries")
}

func (o *Options) addSafetyFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Safety.EnableLLM, "safety.enable-llm", o.Safety.EnableLLM, "Enable LLM-backed safety classification")
}

func (o *Options) addQAFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.QA.ChunkSize, "qa.chunk-size", o.QA.ChunkSize, "Size of text chunks in characters")
	fs.IntVar(&o.QA.ChunkOverlap, "qa.chunk-overlap", o.QA.ChunkOverlap, "Overlap between chunks in characters")
	fs.IntVar(&o.QA.TopK, "qa.top-k", o.QA.TopK, "Number of merged candidates to keep")
	fs.IntVar(&o.QA.SemanticTopK, "qa.semantic-top-k", o.QA.SemanticTopK, "Number of vector search candidates")
	fs.IntVar(&o.QA.LexicalTopK, "qa.lexical-top-k", o.QA.LexicalTopK, "Number of keyword search candidates")
	fs.StringVar(&o.QA.Collection, "qa.collection", o.QA.Collection, "Milvus collection name")
	fs.IntVar(&o.QA.EmbeddingDim, "qa.embedding-dim", o.QA.EmbeddingDim, "Embedding vector dimension")
	fs.Float64Var(&o.QA.ScoreThreshold, "qa.score-threshold", o.QA.ScoreThreshold, "Semantic similarity threshold in [0,1]")
	fs.IntVar(&o.QA.ContextBudget, "qa.context-budget", o.QA.ContextBudget, "Context assembly budget in characters")
	fs.IntVar(&o.QA.EmbedBatchSize, "qa.embed-batch-size", o.QA.EmbedBatchSize, "Chunks per embedding batch during ingestion")
}

// Validate validates the options.
func (o *Options) Validate() error {
	if err := o.Log.Validate(); err != nil {
		return err
	}
	if errs := o.Milvus.Validate(); len(errs) > 0 {
		return errs[0]
	}
	if errs := o.SQLite.Validate(); len(errs) > 0 {
		return errs[0]
	}
	if o.Session.Engine != "redis" && o.Session.Engine != "memory" {
		return fmt.Errorf("session.engine must be redis or memory, got %q", o.Session.Engine)
	}
	if o.Session.Engine == "redis" {
		if err := o.Session.Redis.Validate(); err != nil {
			return err
		}
	}
	if o.Session.MaxTurns <= 0 {
		return fmt.Errorf("session.max-turns must be positive")
	}
	if o.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if err := o.validateLLMProvider(o.Embedding, "embedding"); err != nil {
		return err
	}
	if err := o.validateLLMProvider(o.Generation, "generation"); err != nil {
		return err
	}
	if o.QA.ChunkSize <= 0 {
		return fmt.Errorf("qa.chunk-size must be positive")
	}
	if o.QA.ChunkOverlap < 0 || o.QA.ChunkOverlap >= o.QA.ChunkSize {
		return fmt.Errorf("qa.chunk-overlap must be non-negative and smaller than qa.chunk-size")
	}
	if o.QA.TopK <= 0 {
		return fmt.Errorf("qa.top-k must be positive")
	}
	if o.QA.SemanticTopK <= 0 {
		return fmt.Errorf("qa.semantic-top-k must be positive")
	}
	if o.QA.LexicalTopK <= 0 {
		return fmt.Errorf("qa.lexical-top-k must be positive")
	}
	if o.QA.EmbeddingDim <= 0 {
		return fmt.Errorf("qa.embedding-dim must be positive")
	}
	if o.QA.ScoreThreshold < 0 || o.QA.ScoreThreshold > 1 {
		return fmt.Errorf("qa.score-threshold must be in [0,1]")
	}
	return nil
}

func (o *Options) validateLLMProvider(opts *LLMProviderOptions, prefix string) error {
	if opts.Provider == "" {
		return fmt.Errorf("%s.provider is required", prefix)
	}
	if opts.BaseURL == "" {
		return fmt.Errorf("%s.base-url is required", prefix)
	}
	if opts.Model == "" {
		return fmt.Errorf("%s.model is required", prefix)
	}
	if opts.Timeout <= 0 {
		return fmt.Errorf("%s.timeout must be positive", prefix)
	}
	return nil
}
