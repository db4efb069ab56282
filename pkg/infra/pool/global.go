package pool

import (
	"sync"
	"sync/atomic"

	"github.com/kart-io/logger"
)

// 全局池注册表
var (
	globalPools       map[Type]*Pool
	globalMu          sync.Mutex
	globalInitialized uint32
)

// GlobalConfig 全局池配置
type GlobalConfig struct {
	// DefaultPool 默认池配置
	DefaultPool *Config
	// IngestPool 入库池配置
	IngestPool *Config
	// BackgroundPool 后台任务池配置
	BackgroundPool *Config
}

// DefaultGlobalConfig 返回默认全局配置
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		DefaultPool:    DefaultPoolConfig(),
		IngestPool:     IngestPoolConfig(),
		BackgroundPool: BackgroundPoolConfig(),
	}
}

// InitGlobal 初始化全局池注册表
func InitGlobal() error {
	return InitGlobalWithConfig(nil)
}

// InitGlobalWithConfig 使用自定义配置初始化全局池注册表
func InitGlobalWithConfig(config *GlobalConfig) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if atomic.LoadUint32(&globalInitialized) == 1 {
		return nil // 已初始化
	}

	if config == nil {
		config = DefaultGlobalConfig()
	}

	pools := make(map[Type]*Pool)
	for typ, cfg := range map[Type]*Config{
		DefaultPool:    config.DefaultPool,
		IngestPool:     config.IngestPool,
		BackgroundPool: config.BackgroundPool,
	} {
		if cfg == nil {
			continue
		}
		p, err := NewPool(string(typ), typ, cfg)
		if err != nil {
			for _, created := range pools {
				created.Release()
			}
			return err
		}
		pools[typ] = p
	}

	globalPools = pools
	atomic.StoreUint32(&globalInitialized, 1)

	logger.Infow("全局池注册表初始化完成", "pools", len(pools))
	return nil
}

// GetByType 获取预定义类型的池
func GetByType(typ Type) (*Pool, error) {
	if atomic.LoadUint32(&globalInitialized) == 0 {
		if err := InitGlobal(); err != nil {
			return nil, err
		}
	}

	globalMu.Lock()
	p, ok := globalPools[typ]
	globalMu.Unlock()

	if !ok {
		return nil, ErrPoolNotFound
	}
	return p, nil
}

// SubmitToType 提交任务到指定类型的池。
// 池不可用时降级为裸 goroutine 执行，保证任务不丢。
func SubmitToType(typ Type, task func()) error {
	p, err := GetByType(typ)
	if err != nil {
		logger.Warnw("池不可用，降级为 goroutine 执行", "type", string(typ), "error", err.Error())
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorw("降级任务 panic", "type", string(typ), "panic", r)
				}
			}()
			task()
		}()
		return nil
	}
	return p.Submit(task)
}

// ReleaseAll 释放所有全局池
func ReleaseAll() {
	globalMu.Lock()
	defer globalMu.Unlock()

	for _, p := range globalPools {
		p.Release()
	}
	globalPools = nil
	atomic.StoreUint32(&globalInitialized, 0)
}

// StatsAll 返回所有全局池的统计信息
func StatsAll() map[string]Stats {
	globalMu.Lock()
	defer globalMu.Unlock()

	out := make(map[string]Stats, len(globalPools))
	for typ, p := range globalPools {
		out[string(typ)] = p.Stats()
	}
	return out
}
