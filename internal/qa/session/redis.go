package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/medkb-io/medqa/internal/model"
	"github.com/medkb-io/medqa/pkg/component/redis"
)

// sessionKeyPrefix Redis 会话键前缀。
const sessionKeyPrefix = "medqa:session:"

// redisCommands 会话存储用到的 Redis 命令子集。
type redisCommands interface {
	TxPipeline() goredis.Pipeliner
	LRange(ctx context.Context, key string, start, stop int64) *goredis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// RedisStore 基于 Redis List 的会话存储。
// 每轮发言以 JSON 存入列表，LTRIM 维持窗口，EXPIRE 维持 TTL。
type RedisStore struct {
	rdb    redisCommands
	config *Config

	// locks 按会话串行化写操作。条目不随会话删除而移除，
	// 保证并发调用方对同一会话始终持有同一把锁。
	locks sync.Map
}

// NewRedisStore 创建 Redis 会话存储。
func NewRedisStore(client *redis.Client, config *Config) *RedisStore {
	return newRedisStore(client.Client(), config)
}

func newRedisStore(rdb redisCommands, config *Config) *RedisStore {
	if config == nil {
		config = DefaultConfig()
	}
	return &RedisStore{
		rdb:    rdb,
		config: config,
	}
}

func (s *RedisStore) key(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func (s *RedisStore) sessionLock(sessionID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Append 追加一轮发言。RPUSH、LTRIM、EXPIRE 在事务管道中原子执行。
func (s *RedisStore) Append(ctx context.Context, sessionID string, turn *model.Turn) error {
	mu := s.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("序列化会话轮次失败: %w", err)
	}

	key := s.key(sessionID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-s.config.MaxTurns), -1)
	pipe.Expire(ctx, key, s.config.TTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入会话失败: %w", err)
	}
	return nil
}

// Turns 返回会话中从旧到新的全部轮次。
func (s *RedisStore) Turns(ctx context.Context, sessionID string) ([]*model.Turn, error) {
	values, err := s.rdb.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("读取会话失败: %w", err)
	}

	turns := make([]*model.Turn, 0, len(values))
	for _, v := range values {
		var turn model.Turn
		if err := json.Unmarshal([]byte(v), &turn); err != nil {
			return nil, fmt.Errorf("解析会话轮次失败: %w", err)
		}
		turns = append(turns, &turn)
	}
	return turns, nil
}

// Delete 删除会话。持有会话锁执行，避免与并发 Append 交错。
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	mu := s.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.rdb.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("删除会话失败: %w", err)
	}
	return nil
}

// Close 关闭存储。底层 Redis 客户端由创建方负责关闭。
func (s *RedisStore) Close() error {
	return nil
}

var _ Store = (*RedisStore)(nil)
