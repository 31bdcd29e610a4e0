// Package resilience 为模型供应商调用提供熔断与退避重试。
//
// 熔断器按供应商实例维护，调用方主动取消的请求不计入失败。
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kart-io/logger"
)

// ErrCircuitBreakerOpen 熔断器处于打开状态，调用被直接拒绝。
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig 熔断器配置。
type CircuitBreakerConfig struct {
	// MaxFailures 连续失败多少次后打开。
	MaxFailures int
	// Timeout 打开后经过多久进入半开。
	Timeout time.Duration
	// HalfOpenMaxCalls 半开状态下同时放行的探测调用数。
	HalfOpenMaxCalls int
}

// DefaultCircuitBreakerConfig 返回默认熔断器配置。
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreakerState 熔断器状态。
type CircuitBreakerState int

// 熔断器状态：closed 正常放行，open 全部拒绝，half-open 放行少量探测。
const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

var stateNames = map[CircuitBreakerState]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s CircuitBreakerState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// BreakerSnapshot 熔断器某一时刻的状态。
type BreakerSnapshot struct {
	State       CircuitBreakerState
	Failures    int
	LastFailure time.Time
}

// CircuitBreaker 连续失败达到阈值后短路调用，超时后通过探测恢复。
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu          sync.Mutex
	state       CircuitBreakerState
	failures    int
	lastFailure time.Time
	trials      int
}

// NewCircuitBreaker 创建熔断器，config 为 nil 时使用默认配置。
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	cfg := DefaultCircuitBreakerConfig()
	if config != nil {
		cfg = config
	}
	c := *cfg
	if c.MaxFailures < 1 {
		c.MaxFailures = 1
	}
	if c.HalfOpenMaxCalls < 1 {
		c.HalfOpenMaxCalls = 1
	}
	return &CircuitBreaker{cfg: c, now: time.Now}
}

// Execute 在熔断器保护下执行 fn。
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, err := cb.acquire()
	if err != nil {
		return err
	}

	err = fn()
	cb.record(trial, err)
	return err
}

// acquire 判断本次调用能否放行，trial 表示占用了半开试探名额。
func (cb *CircuitBreaker) acquire() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.cfg.Timeout {
		logger.Infow("circuit breaker half-open", "failures", cb.failures)
		cb.state = StateHalfOpen
		cb.trials = 0
	}

	switch cb.state {
	case StateClosed:
		return false, nil
	case StateHalfOpen:
		if cb.trials >= cb.cfg.HalfOpenMaxCalls {
			return false, ErrCircuitBreakerOpen
		}
		cb.trials++
		return true, nil
	default:
		return false, ErrCircuitBreakerOpen
	}
}

func (cb *CircuitBreaker) record(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial && cb.trials > 0 {
		cb.trials--
	}

	switch {
	case errors.Is(err, context.Canceled):
		// 取消不说明后端状态
		return
	case err == nil:
		if cb.state == StateHalfOpen {
			logger.Infow("circuit breaker closed")
		}
		cb.state = StateClosed
		cb.failures = 0
		return
	}

	cb.failures++
	cb.lastFailure = cb.now()
	if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
		if cb.state != StateOpen {
			logger.Warnw("circuit breaker opened",
				"failures", cb.failures,
				"max_failures", cb.cfg.MaxFailures,
				"error", err.Error(),
			)
		}
		cb.state = StateOpen
	}
}

// State 返回当前状态。
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot 返回当前状态与失败计数。
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerSnapshot{State: cb.state, Failures: cb.failures, LastFailure: cb.lastFailure}
}

// Reset 恢复为关闭状态。
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.trials = 0
	cb.lastFailure = time.Time{}
}
