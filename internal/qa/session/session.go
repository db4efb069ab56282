// Package session 提供按会话隔离的有界对话历史存储。
package session

import (
	"context"
	"time"

	"github.com/medkb-io/medqa/internal/model"
)

// Config 会话存储配置。
type Config struct {
	// MaxTurns 每个会话保留的最大轮数，超出时淘汰最旧的一轮。
	MaxTurns int
	// TTL 会话空闲过期时间，每次追加时刷新。
	TTL time.Duration
}

// DefaultConfig 返回默认会话配置。
func DefaultConfig() *Config {
	return &Config{
		MaxTurns: 20,
		TTL:      30 * time.Minute,
	}
}

// Store 定义会话存储接口。
// 同一会话的追加操作串行执行（单写者），不同会话互不阻塞。
type Store interface {
	// Append 追加一轮发言，淘汰超出窗口的最旧轮次并刷新 TTL。
	Append(ctx context.Context, sessionID string, turn *model.Turn) error

	// Turns 返回会话中从旧到新的全部轮次。过期或不存在的会话返回空。
	Turns(ctx context.Context, sessionID string) ([]*model.Turn, error)

	// Delete 删除会话。
	Delete(ctx context.Context, sessionID string) error

	// Close 关闭存储。
	Close() error
}
