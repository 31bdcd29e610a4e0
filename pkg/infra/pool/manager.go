package pool

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
)

// Manager 管理多个命名池，服务关闭时统一释放。
type Manager struct {
	mu     sync.RWMutex
	pools  map[string]*Pool
	closed atomic.Bool
}

// NewManager 创建池管理器
func NewManager() *Manager {
	return &Manager{pools: make(map[string]*Pool)}
}

// Register 以类型名注册新池并返回
func (m *Manager) Register(typ Type, config *Config) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return nil, ErrPoolClosed
	}

	name := string(typ)
	if _, exists := m.pools[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrPoolAlreadyExists, name)
	}

	p, err := NewPool(name, typ, config)
	if err != nil {
		return nil, err
	}
	m.pools[name] = p
	return p, nil
}

// Get 获取指定类型的池
func (m *Manager) Get(typ Type) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return nil, ErrPoolClosed
	}
	p, ok := m.pools[string(typ)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, typ)
	}
	return p, nil
}

// Stats 返回所有池的统计信息，按名称排序
func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Stats, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ReleaseAllTimeout 关闭所有池，每个池最多等待 timeout
func (m *Manager) ReleaseAllTimeout(timeout time.Duration) error {
	if m.closed.Swap(true) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, p := range m.pools {
		if err := p.ReleaseTimeout(timeout); err != nil {
			logger.Warnw("Worker pool release timed out", "name", name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("release pool %s: %w", name, err)
			}
		}
	}
	return firstErr
}

// IsClosed 管理器是否已关闭
func (m *Manager) IsClosed() bool {
	return m.closed.Load()
}
