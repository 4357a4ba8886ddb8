// internal/sheet/item_sheet.go
package sheet

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/Corphon/BastionSheet/internal/models"
	"github.com/Corphon/BastionSheet/internal/utils"
)

// ItemSheet 物品编辑器（子视图）。打开期间父视图的整页渲染被屏蔽，
// 关闭时只对被编辑的物品行做一次局部更新。
type ItemSheet struct {
	parent *ActorSheet
	handle *EditorHandle
	itemID string
	root   *html.Node

	changed map[string]struct{}
	closed  bool

	mu      sync.Mutex // 保护防抖状态，计时器在其他 goroutine 触发
	timer   *time.Timer
	pending *string
}

func newItemSheet(parent *ActorSheet, handle *EditorHandle, item *models.Item) (*ItemSheet, error) {
	root, err := parent.deps.Renderer.ItemSheet(parent.actorID, item)
	if err != nil {
		return nil, err
	}
	return &ItemSheet{
		parent:  parent,
		handle:  handle,
		itemID:  item.ID,
		root:    root,
		changed: make(map[string]struct{}),
	}, nil
}

// ItemID 编辑的物品
func (e *ItemSheet) ItemID() string { return e.itemID }

// Root 编辑器的 DOM
func (e *ItemSheet) Root() *html.Node { return e.root }

// ChangedFields 编辑期间修改过的字段（排序后）
func (e *ItemSheet) ChangedFields() []string {
	out := make([]string, 0, len(e.changed))
	for f := range e.changed {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// FormChange 持久化一次表单变更并记录字段
func (e *ItemSheet) FormChange(ctx context.Context, in FormInput) error {
	if e.closed {
		return nil
	}
	fields := in.fields()
	if fields == nil {
		return nil
	}
	return e.update(ctx, fields)
}

// Input 名称输入防抖，只保存最后一次的值
func (e *ItemSheet) Input(name, value string) {
	if name != "name" || e.closed {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v := value
	e.pending = &v
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.parent.debounce, func() {
		e.parent.Post(func(ctx context.Context) {
			if err := e.flush(ctx); err != nil {
				e.parent.logger.Warn("保存物品名称失败", utils.Fields{"item_id": e.itemID, "error": err.Error()})
			}
		})
	})
}

// flush 立即保存尚未保存的名称输入
func (e *ItemSheet) flush(ctx context.Context) error {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	if pending == nil {
		return nil
	}
	return e.update(ctx, map[string]any{"name": *pending})
}

func (e *ItemSheet) update(ctx context.Context, fields map[string]any) error {
	if _, err := e.parent.deps.Docs.UpdateItem(ctx, e.parent.actorID, e.itemID, fields); err != nil {
		e.parent.fail("保存物品失败", err)
		return err
	}
	for f := range fields {
		e.changed[f] = struct{}{}
	}
	return nil
}

// Close 关闭编辑器：先保存未完成的输入，再在事件循环中恢复父视图渲染并对该物品行做一次局部更新。
// 保存产生的变更通知排在恢复之前，因此仍会被屏蔽。
func (e *ItemSheet) Close(ctx context.Context) error {
	if e.closed {
		return nil
	}
	e.closed = true

	err := e.flush(ctx)
	e.parent.Post(e.finishClose)
	return err
}

func (e *ItemSheet) finishClose(ctx context.Context) {
	p := e.parent
	if p.editor == e {
		p.editor = nil
	}
	if !e.handle.Close() {
		return
	}

	actor, err := p.deps.Docs.GetActor(ctx, p.actorID)
	if err != nil {
		p.fail("读取角色失败", err)
		return
	}
	patches := p.deps.Updater.UpdateItemRow(p.root, actor, actor.Item(e.itemID), e.ChangedFields())
	p.metrics.IncrementCounter(utils.MetricPartialUpdates)
	if len(patches) > 0 {
		p.publishPatches(patches)
	}
}

// abort 失败路径：丢弃未保存的输入并恢复渲染，不做局部更新
func (e *ItemSheet) abort() {
	if e.closed {
		return
	}
	e.closed = true

	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.pending = nil
	e.mu.Unlock()

	if e.parent.editor == e {
		e.parent.editor = nil
	}
	e.handle.Abort()
}
