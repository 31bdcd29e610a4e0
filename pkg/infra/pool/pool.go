// Package pool 基于 ants 提供有界的 goroutine 池，供文档摄取与后台任务使用。
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/panjf2000/ants/v2"
)

var (
	ErrPoolClosed        = errors.New("pool: closed")
	ErrPoolNotFound      = errors.New("pool: not registered")
	ErrPoolAlreadyExists = errors.New("pool: already registered")
	// ErrPoolOverload 非阻塞池没有空闲 worker
	ErrPoolOverload = errors.New("pool: overloaded")
	// ErrTaskPanicked Map 中的任务 panic
	ErrTaskPanicked = errors.New("pool: task panicked")
)

// Type 池的用途。
type Type string

const (
	// IngestPool 单个批次内并发摄取文档
	IngestPool Type = "ingest"
	// JobPool 异步摄取任务
	JobPool Type = "ingest-job"
	// BackgroundPool 目录监听等后台任务
	BackgroundPool Type = "background"
)

// Config 池配置。
type Config struct {
	// Capacity 最大并发 goroutine 数
	Capacity int
	// ExpiryDuration goroutine 空闲过期时间
	ExpiryDuration time.Duration
	// PreAlloc 是否预分配 worker 队列
	PreAlloc bool
	// Nonblocking 池满时直接返回 ErrPoolOverload
	Nonblocking bool
	// MaxBlockingTasks 阻塞模式下最多等待的提交数，0 表示不限
	MaxBlockingTasks int
	// PanicHandler 自定义 panic 处理
	PanicHandler func(interface{})
}

// IngestPoolConfig 返回批量摄取池配置，workers 为并发度。
func IngestPoolConfig(workers int) *Config {
	if workers < 1 {
		workers = 1
	}
	return &Config{
		Capacity:       workers,
		ExpiryDuration: 30 * time.Second,
	}
}

// JobPoolConfig 返回异步任务池配置，排队超过上限时拒绝新任务。
func JobPoolConfig(workers int) *Config {
	if workers < 1 {
		workers = 1
	}
	return &Config{
		Capacity:         workers,
		ExpiryDuration:   time.Minute,
		Nonblocking:      false,
		MaxBlockingTasks: 64,
	}
}

// BackgroundPoolConfig 返回后台任务池配置。
func BackgroundPoolConfig() *Config {
	return &Config{
		Capacity:       4,
		ExpiryDuration: time.Minute,
		Nonblocking:    true,
	}
}

// Pool 对 ants.Pool 的封装，附带任务统计。
type Pool struct {
	name     string
	typ      Type
	pool     *ants.Pool
	config   *Config
	stats    statsCounter
	closed   atomic.Bool
	closedMu sync.Mutex
}

type statsCounter struct {
	submitted      atomic.Int64
	completed      atomic.Int64
	rejected       atomic.Int64
	panicRecovered atomic.Int64
	waitNs         atomic.Int64
}

// Stats 池统计信息快照。
type Stats struct {
	Name           string `json:"name"`
	Type           Type   `json:"type"`
	Capacity       int    `json:"capacity"`
	Running        int    `json:"running"`
	Waiting        int    `json:"waiting"`
	Submitted      int64  `json:"submitted"`
	Completed      int64  `json:"completed"`
	Rejected       int64  `json:"rejected"`
	PanicRecovered int64  `json:"panic_recovered"`
	TotalWaitNs    int64  `json:"total_wait_ns"`
}

// NewPool 按配置创建池。
func NewPool(name string, typ Type, config *Config) (*Pool, error) {
	if config == nil {
		config = IngestPoolConfig(1)
	}
	if config.Capacity < 1 {
		return nil, fmt.Errorf("池 %s 容量必须大于 0", name)
	}

	p := &Pool{name: name, typ: typ, config: config}

	pool, err := ants.NewPool(config.Capacity, p.antsOptions()...)
	if err != nil {
		return nil, fmt.Errorf("创建 ants 池失败: %w", err)
	}
	p.pool = pool

	logger.Infow("Worker pool created",
		"name", name,
		"type", typ,
		"capacity", config.Capacity,
	)
	return p, nil
}

func (p *Pool) antsOptions() []ants.Option {
	return []ants.Option{
		ants.WithExpiryDuration(p.config.ExpiryDuration),
		ants.WithPreAlloc(p.config.PreAlloc),
		ants.WithNonblocking(p.config.Nonblocking),
		ants.WithMaxBlockingTasks(p.config.MaxBlockingTasks),
		ants.WithPanicHandler(p.handlePanic),
	}
}

// handlePanic 统计 panic 并交给配置的 PanicHandler，未配置时记录错误日志。
func (p *Pool) handlePanic(r interface{}) {
	p.stats.panicRecovered.Add(1)
	if h := p.config.PanicHandler; h != nil {
		h(r)
		return
	}
	logger.Errorw("Worker panic recovered", "pool", p.name, "panic", r)
}

// Name 返回池名称
func (p *Pool) Name() string { return p.name }

// Type 返回池类型
func (p *Pool) Type() Type { return p.typ }

// Cap 返回池容量
func (p *Pool) Cap() int { return p.pool.Cap() }

// Running 返回正在运行的 goroutine 数量
func (p *Pool) Running() int { return p.pool.Running() }

// Submit 提交任务。池已关闭返回 ErrPoolClosed，非阻塞池满返回 ErrPoolOverload。
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	queued := time.Now()
	err := p.pool.Submit(func() {
		p.stats.waitNs.Add(int64(time.Since(queued)))
		defer p.stats.completed.Add(1)
		task()
	})
	if err != nil {
		switch {
		case errors.Is(err, ants.ErrPoolOverload):
			p.stats.rejected.Add(1)
			return ErrPoolOverload
		case errors.Is(err, ants.ErrPoolClosed):
			return ErrPoolClosed
		}
		return err
	}
	p.stats.submitted.Add(1)
	return nil
}

// SubmitWithContext 提交任务；若任务开始前 ctx 已取消则跳过执行。
func (p *Pool) SubmitWithContext(ctx context.Context, task func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Submit(func() {
		if ctx.Err() != nil {
			return
		}
		task()
	})
}

// Map 在池中并发执行 fn(0..n-1) 并等待全部完成，返回每个下标对应的错误。
// 提交失败的下标直接记录提交错误；fn panic 时该下标记录 ErrTaskPanicked。
func (p *Pool) Map(ctx context.Context, n int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		err := p.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					p.handlePanic(r)
					errs[i] = fmt.Errorf("%w: task %d: %v", ErrTaskPanicked, i, r)
				}
			}()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			errs[i] = fn(ctx, i)
		})
		if err != nil {
			errs[i] = err
			wg.Done()
		}
	}
	wg.Wait()
	return errs
}

// Release 立即关闭池
func (p *Pool) Release() {
	p.closedMu.Lock()
	defer p.closedMu.Unlock()

	if p.closed.Swap(true) {
		return
	}
	p.pool.Release()
	logger.Infow("Worker pool released", "name", p.name)
}

// ReleaseTimeout 关闭池并等待运行中的任务结束，直到超时
func (p *Pool) ReleaseTimeout(timeout time.Duration) error {
	p.closedMu.Lock()
	defer p.closedMu.Unlock()

	if p.closed.Swap(true) {
		return nil
	}
	return p.pool.ReleaseTimeout(timeout)
}

// Tune 动态调整池容量
func (p *Pool) Tune(size int) {
	p.pool.Tune(size)
	p.config.Capacity = size
	logger.Infow("Worker pool tuned", "name", p.name, "new_capacity", size)
}

// Stats 返回统计信息快照
func (p *Pool) Stats() Stats {
	return Stats{
		Name:           p.name,
		Type:           p.typ,
		Capacity:       p.pool.Cap(),
		Running:        p.pool.Running(),
		Waiting:        p.pool.Waiting(),
		Submitted:      p.stats.submitted.Load(),
		Completed:      p.stats.completed.Load(),
		Rejected:       p.stats.rejected.Load(),
		PanicRecovered: p.stats.panicRecovered.Load(),
		TotalWaitNs:    p.stats.waitNs.Load(),
	}
}
