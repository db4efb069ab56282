package session

import (
	"context"
	"sync"
	"time"

	"github.com/medkb-io/medqa/internal/model"
)

// MemoryStore 内存会话存储，用于测试与无 Redis 的部署。
type MemoryStore struct {
	mu       sync.Mutex
	config   *Config
	sessions map[string]*memorySession

	// now 可替换的时钟，便于测试 TTL
	now func() time.Time
}

type memorySession struct {
	turns    []*model.Turn
	deadline time.Time
}

// NewMemoryStore 创建内存会话存储。
func NewMemoryStore(config *Config) *MemoryStore {
	if config == nil {
		config = DefaultConfig()
	}
	return &MemoryStore{
		config:   config,
		sessions: make(map[string]*memorySession),
		now:      time.Now,
	}
}

// Append 追加一轮发言，淘汰超出窗口的最旧轮次并刷新 TTL。
func (s *MemoryStore) Append(ctx context.Context, sessionID string, turn *model.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || s.now().After(sess.deadline) {
		sess = &memorySession{}
		s.sessions[sessionID] = sess
	}

	sess.turns = append(sess.turns, turn)
	if len(sess.turns) > s.config.MaxTurns {
		sess.turns = sess.turns[len(sess.turns)-s.config.MaxTurns:]
	}
	sess.deadline = s.now().Add(s.config.TTL)
	return nil
}

// Turns 返回会话中从旧到新的全部轮次。过期会话读到空。
func (s *MemoryStore) Turns(ctx context.Context, sessionID string) ([]*model.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || s.now().After(sess.deadline) {
		return nil, nil
	}

	out := make([]*model.Turn, len(sess.turns))
	copy(out, sess.turns)
	return out, nil
}

// Delete 删除会话。
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Sweep 清理已过期的会话，返回清理数量。由后台任务周期调用。
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if now.After(sess.deadline) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Close 关闭存储。
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
