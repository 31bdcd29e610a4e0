package biz

import (
	"context"
	"sync"
)

// KeyedMutex 按键互斥，键不再使用时释放对应的锁。
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

// refLock 容量为 1 的信号量，等待时可以被 ctx 打断。
type refLock struct {
	sem  chan struct{}
	refs int
}

// NewKeyedMutex 创建按键互斥锁。
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*refLock)}
}

// Lock 锁定 key，返回解锁函数。
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	unlock, _ = k.LockContext(context.Background(), key)
	return unlock
}

// LockContext 锁定 key；ctx 在拿到锁之前结束时返回 ctx.Err()。
func (k *KeyedMutex) LockContext(ctx context.Context, key string) (unlock func(), err error) {
	l := k.acquire(key)
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}
	return func() {
		<-l.sem
		k.release(key, l)
	}, nil
}

func (k *KeyedMutex) acquire(key string) *refLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *KeyedMutex) release(key string, l *refLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Len 返回当前持有或等待中的键数量。
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
