// internal/sheet/registry.go
package sheet

import (
	"sync"

	"github.com/Corphon/BastionSheet/internal/utils"
)

// Registry 管理所有打开的视图
type Registry struct {
	deps  Deps
	mu    sync.Mutex
	views map[*ActorSheet]struct{}
}

// NewRegistry 创建视图注册表
func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, views: make(map[*ActorSheet]struct{})}
}

// Deps 视图共享的服务
func (r *Registry) Deps() Deps {
	return r.deps
}

// Open 为角色创建并登记一个新视图
func (r *Registry) Open(actorID string, sink Sink) *ActorSheet {
	view := NewActorSheet(actorID, r.deps, sink)
	view.Attach()

	r.mu.Lock()
	r.views[view] = struct{}{}
	r.mu.Unlock()

	utils.GetMetricsCollector().IncGauge(utils.MetricOpenViews)
	return view
}

// Close 注销视图，应在视图事件循环停止之后调用
func (r *Registry) Close(view *ActorSheet) {
	r.mu.Lock()
	_, ok := r.views[view]
	delete(r.views, view)
	r.mu.Unlock()

	if !ok {
		return
	}
	view.Detach()
	utils.GetMetricsCollector().DecGauge(utils.MetricOpenViews)
}

// Count 某个角色当前打开的视图数量，actorID 为空时统计全部
func (r *Registry) Count(actorID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if actorID == "" {
		return len(r.views)
	}
	n := 0
	for v := range r.views {
		if v.actorID == actorID {
			n++
		}
	}
	return n
}
