// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager 按角色ID分配互斥锁，保证同一角色文档的读改写串行执行
type LockManager struct {
	locks      map[string]*LockInfo
	globalLock sync.Mutex
	lockTTL    time.Duration
	maxLocks   int
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	Mutex    sync.Mutex
	LastUsed time.Time
	refs     int // 正在等待或持有该锁的调用数，大于 0 时不会被清理
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	return &LockManager{
		locks:    make(map[string]*LockInfo),
		lockTTL:  30 * time.Minute,
		maxLocks: 200,
	}
}

func (lm *LockManager) acquire(key string) *LockInfo {
	lm.globalLock.Lock()
	info, exists := lm.locks[key]
	if !exists {
		info = &LockInfo{}
		lm.locks[key] = info
	}
	info.refs++
	info.LastUsed = time.Now()
	if len(lm.locks) > lm.maxLocks {
		lm.cleanupUnusedLocked()
	}
	lm.globalLock.Unlock()

	info.Mutex.Lock()
	return info
}

func (lm *LockManager) release(info *LockInfo) {
	info.Mutex.Unlock()

	lm.globalLock.Lock()
	info.refs--
	info.LastUsed = time.Now()
	lm.globalLock.Unlock()
}

// ExecuteWithLock 在角色锁保护下执行操作
func (lm *LockManager) ExecuteWithLock(key string, fn func() error) error {
	info := lm.acquire(key)
	defer lm.release(info)
	return fn()
}

// Size 当前持有的锁数量
func (lm *LockManager) Size() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	return len(lm.locks)
}

// cleanupUnusedLocked 清理长时间未使用且无引用的锁，调用方持有 globalLock
func (lm *LockManager) cleanupUnusedLocked() {
	now := time.Now()
	for key, info := range lm.locks {
		if info.refs == 0 && now.Sub(info.LastUsed) > lm.lockTTL {
			delete(lm.locks, key)
		}
	}
}
