// Package model 定义 medqa 服务的共享领域类型。
package model

import "time"

// Document 待入库的知识文档。
type Document struct {
	// ID 文档唯一标识，由调用方提供
	ID string `json:"id"`
	// Content 文档正文
	Content string `json:"content"`
	// Source 来源（文献、指南名称等）
	Source string `json:"source"`
	// Topic 主题标签
	Topic string `json:"topic"`
	// Language 语言代码（en/zh）
	Language string `json:"language"`
}

// IngestResult 文档入库结果。
type IngestResult struct {
	DocumentID string `json:"document_id"`
	Version    int64  `json:"version"`
	ChunkCount int    `json:"chunk_count"`
}

// SafetyCategory 安全分类类别。
type SafetyCategory string

const (
	CategoryAllowed           SafetyCategory = "allowed"
	CategoryDiagnosticRequest SafetyCategory = "diagnostic_request"
	CategoryTreatmentRequest  SafetyCategory = "treatment_request"
	CategoryEmergencyRequest  SafetyCategory = "emergency_request"
	CategoryOtherDisallowed   SafetyCategory = "other_disallowed"
)

// Disallowed 判断类别是否为不允许回答的类别。
func (c SafetyCategory) Disallowed() bool {
	return c != CategoryAllowed && c != ""
}

// Refusal 安全拒答结果。拒答不是错误，是一等查询结果。
type Refusal struct {
	Category SafetyCategory `json:"category"`
	Message  string         `json:"message"`
}

// Source 答案的出处引用。
type Source struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source"`
	Topic      string  `json:"topic"`
	Score      float64 `json:"score"`
}

// Answer 一次问答的最终结果。Refusal 非空时 Content 为拒答文案。
type Answer struct {
	QueryID   string   `json:"query_id"`
	SessionID string   `json:"session_id"`
	Content   string   `json:"content"`
	Refusal   *Refusal `json:"refusal,omitempty"`
	Sources   []Source `json:"sources,omitempty"`
	// Disclaimers 注入到 Content 末尾的免责声明全文，拒答时为空
	Disclaimers []string `json:"disclaimers,omitempty"`
	// Degraded 检索单路降级时为 true
	Degraded bool `json:"degraded,omitempty"`
}

// 会话角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn 会话中的一轮发言。
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
