// internal/sheet/gate.go
package sheet

import (
	"sync"

	"github.com/Corphon/BastionSheet/internal/errors"
)

// ErrEditorAlreadyOpen 同一视图同时只能打开一个物品编辑器
var ErrEditorAlreadyOpen = errors.NewConflictError("已有物品编辑器处于打开状态", nil)

// Gate 物品编辑器打开期间屏蔽整页渲染。每个视图一个，不可共享。
type Gate struct {
	mu         sync.Mutex
	suppressed bool
	itemID     string
	swallowed  int
}

// Open 屏蔽渲染并返回编辑器句柄
func (g *Gate) Open(itemID string) (*EditorHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.suppressed {
		return nil, ErrEditorAlreadyOpen
	}
	g.suppressed = true
	g.itemID = itemID
	return &EditorHandle{gate: g, itemID: itemID}, nil
}

// Suppressed 当前是否屏蔽渲染
func (g *Gate) Suppressed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suppressed
}

// ItemID 正在编辑的物品
func (g *Gate) ItemID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.itemID
}

// swallow 屏蔽期间记录一次被吞掉的渲染，返回是否被吞掉
func (g *Gate) swallow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.suppressed {
		g.swallowed++
	}
	return g.suppressed
}

// Swallowed 屏蔽期间被吞掉的渲染次数
func (g *Gate) Swallowed() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.swallowed
}

func (g *Gate) release() {
	g.mu.Lock()
	g.suppressed = false
	g.itemID = ""
	g.mu.Unlock()
}

// EditorHandle 打开的编辑器，关闭时恢复渲染
type EditorHandle struct {
	gate   *Gate
	itemID string
	once   sync.Once
}

// ItemID 编辑的物品
func (h *EditorHandle) ItemID() string {
	return h.itemID
}

// Close 恢复渲染，只有第一次调用返回 true
func (h *EditorHandle) Close() bool {
	first := false
	h.once.Do(func() {
		h.gate.release()
		first = true
	})
	return first
}

// Abort 失败路径上恢复渲染，不触发局部更新
func (h *EditorHandle) Abort() {
	h.Close()
}
