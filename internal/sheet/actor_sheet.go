// internal/sheet/actor_sheet.go
package sheet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/Corphon/BastionSheet/internal/chat"
	"github.com/Corphon/BastionSheet/internal/dice"
	"github.com/Corphon/BastionSheet/internal/errors"
	"github.com/Corphon/BastionSheet/internal/models"
	"github.com/Corphon/BastionSheet/internal/services"
	"github.com/Corphon/BastionSheet/internal/utils"
)

// Deps 视图共享的服务
type Deps struct {
	Docs     *services.DocumentService
	Renderer *Renderer
	Updater  *Updater
	Roller   *dice.Roller
	Chat     *chat.Log
}

// ActionTarget 触发动作的元素上的 data-* 属性
type ActionTarget struct {
	Ability string `json:"ability,omitempty"`
	Roll    string `json:"roll,omitempty"`
	Label   string `json:"label,omitempty"`
	Type    string `json:"type,omitempty"`
	ItemID  string `json:"item_id,omitempty"`
}

type actionHandler func(ctx context.Context, t ActionTarget) error

// ActorSheet 一个浏览器视图中的角色表。
// 除 Post 外的方法都必须在视图的事件循环中调用。
type ActorSheet struct {
	actorID string
	deps    Deps
	sink    Sink
	logger  *utils.Logger
	metrics *utils.MetricsCollector

	gate    *Gate
	root    *html.Node
	tab     Tab
	scroll  int
	editor  *ItemSheet
	actions map[string]actionHandler

	debounce time.Duration

	qmu    sync.Mutex
	queue  []func(context.Context)
	wake   chan struct{}
	unsubs []func()
}

// NewActorSheet 创建视图，需要调用 Attach 才会接收变更通知
func NewActorSheet(actorID string, deps Deps, sink Sink) *ActorSheet {
	s := &ActorSheet{
		actorID:  actorID,
		deps:     deps,
		sink:     sink,
		logger:   utils.GetLogger(),
		metrics:  utils.GetMetricsCollector(),
		gate:     &Gate{},
		tab:      TabDescription,
		debounce: 500 * time.Millisecond,
		wake:     make(chan struct{}, 1),
	}
	s.actions = map[string]actionHandler{
		"rollAbility": s.onRollAbility,
		"rollItem":    s.onRollItem,
		"rollLuck":    s.onRollLuck,
		"rest":        s.onRest,
		"restore":     s.onRestore,
		"createItem":  s.onCreateItem,
		"editItem":    s.onEditItem,
		"deleteItem":  s.onDeleteItem,
	}
	return s
}

// ActorID 视图所属角色
func (s *ActorSheet) ActorID() string { return s.actorID }

// Gate 视图的渲染屏蔽开关
func (s *ActorSheet) Gate() *Gate { return s.gate }

// Tab 当前标签页
func (s *ActorSheet) Tab() Tab { return s.tab }

// Scroll 当前记录的滚动位置
func (s *ActorSheet) Scroll() int { return s.scroll }

// Root 视图容器
func (s *ActorSheet) Root() *html.Node { return s.root }

// Editor 当前打开的物品编辑器
func (s *ActorSheet) Editor() *ItemSheet { return s.editor }

// ----------------------------------------
// 事件循环
// ----------------------------------------

// Attach 订阅文档变更与聊天消息，它们都会投递到事件循环
func (s *ActorSheet) Attach() {
	s.unsubs = append(s.unsubs,
		s.deps.Docs.Subscribe(func(c services.Change) {
			if c.ActorID != s.actorID {
				return
			}
			s.Post(func(ctx context.Context) { s.HandleChange(ctx, c) })
		}),
		s.deps.Chat.Subscribe(func(m chat.Message) {
			if m.ActorID != s.actorID {
				return
			}
			msg := m
			s.Post(func(context.Context) { s.publish(Outbound{Type: MsgChat, Chat: &msg}) })
		}),
	)
}

// Detach 取消订阅并放弃打开的编辑器
func (s *ActorSheet) Detach() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	if s.editor != nil {
		s.editor.abort()
	}
}

// Post 把操作放入事件循环，按投递顺序执行。可在任意 goroutine 调用。
func (s *ActorSheet) Post(fn func(ctx context.Context)) {
	s.qmu.Lock()
	s.queue = append(s.queue, fn)
	s.qmu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Drain 依次执行队列中的全部操作，包括执行期间新投递的操作
func (s *ActorSheet) Drain(ctx context.Context) {
	for {
		s.qmu.Lock()
		if len(s.queue) == 0 {
			s.qmu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.qmu.Unlock()

		fn(ctx)
	}
}

// Run 运行事件循环直到 ctx 结束
func (s *ActorSheet) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			s.Drain(ctx)
		}
	}
}

// ----------------------------------------
// 渲染
// ----------------------------------------

// Render 整页渲染。编辑器打开期间渲染被吞掉，返回 false 且不修改视图。
func (s *ActorSheet) Render(ctx context.Context) (bool, error) {
	if s.gate.swallow() {
		s.metrics.IncrementCounter(utils.MetricSuppressed)
		s.logger.Debug("编辑器打开中，跳过整页渲染", utils.Fields{"actor_id": s.actorID, "item_id": s.gate.ItemID()})
		return false, nil
	}

	start := time.Now()
	actor, err := s.deps.Docs.GetActor(ctx, s.actorID)
	if err != nil {
		return false, err
	}
	root, err := s.deps.Renderer.ActorSheet(actor, s.tab)
	if err != nil {
		return false, errors.NewProcessingError("渲染角色表失败", err)
	}

	s.root = root
	// 整页渲染替换整个容器，浏览器端的滚动位置随之归零；只有被屏蔽的渲染和局部更新会保留它
	s.scroll = 0
	s.metrics.IncrementCounter(utils.MetricFullRenders)
	s.metrics.ObserveDuration(utils.MetricRenderTimeMs, start)
	s.publish(Outbound{Type: MsgRender, HTML: InnerHTML(root), Tab: string(s.tab), Scroll: 0})
	return true, nil
}

// HandleChange 响应文档变更：本角色的任何变更都触发整页渲染
func (s *ActorSheet) HandleChange(ctx context.Context, c services.Change) {
	if c.ActorID != s.actorID {
		return
	}
	if c.Kind == services.ChangeActorDeleted {
		if s.editor != nil {
			s.editor.abort()
		}
		s.root = nil
		s.Notify("warning", "角色已被删除")
		return
	}
	s.Refresh(ctx)
}

// Refresh 整页渲染，失败时通知用户
func (s *ActorSheet) Refresh(ctx context.Context) {
	if _, err := s.Render(ctx); err != nil {
		s.fail("渲染角色表失败", err)
	}
}

// Notify 推送一条提示
func (s *ActorSheet) Notify(level, message string) {
	s.publish(Outbound{Type: MsgNotify, Level: level, Message: message})
}

// ChangeTab 切换标签页，只推送 class 变化
func (s *ActorSheet) ChangeTab(name string) error {
	tab, err := ParseTab(name)
	if err != nil {
		return err
	}
	s.tab = tab
	if patches := activateTab(s.root, tab); len(patches) > 0 {
		s.publishPatches(patches)
	}
	return nil
}

// SetScroll 记录浏览器上报的滚动位置。视图不会把它推回浏览器：
// 局部更新不触碰滚动位置，整页渲染则明确推送 0。
func (s *ActorSheet) SetScroll(offset int) {
	if offset < 0 {
		offset = 0
	}
	s.scroll = offset
}

// FormChange 持久化一次表单变更。名称为空的输入被忽略。
func (s *ActorSheet) FormChange(ctx context.Context, in FormInput) error {
	fields := in.fields()
	if fields == nil {
		return nil
	}
	if _, err := s.deps.Docs.UpdateActor(ctx, s.actorID, fields); err != nil {
		s.fail("保存失败", err)
		return err
	}
	return nil
}

// Dispatch 执行命名动作，失败时通知用户一次
func (s *ActorSheet) Dispatch(ctx context.Context, action string, t ActionTarget) error {
	handler, ok := s.actions[action]
	if !ok {
		err := errors.NewValidationError(fmt.Sprintf("未知的动作: %s", action), nil)
		s.fail("无法执行动作", err)
		return err
	}
	if err := handler(ctx, t); err != nil {
		s.fail("动作执行失败", err)
		return err
	}
	return nil
}

// ----------------------------------------
// 动作
// ----------------------------------------

func (s *ActorSheet) onRollAbility(ctx context.Context, t ActionTarget) error {
	rs := s.deps.Docs.Ruleset()
	if !rs.HasAbility(t.Ability) {
		return errors.NewValidationError(fmt.Sprintf("未知的能力: %q", t.Ability), nil)
	}
	actor, err := s.deps.Docs.GetActor(ctx, s.actorID)
	if err != nil {
		return err
	}
	_, err = RollSave(ctx, s.deps.Roller, s.deps.Chat, actor, rs.SaveDie, t.Ability)
	return err
}

// onRollItem 带物品ID时以存储中的伤害公式和名称为准，不信任页面上的 data-roll
func (s *ActorSheet) onRollItem(ctx context.Context, t ActionTarget) error {
	if t.ItemID == "" && strings.TrimSpace(t.Roll) == "" {
		return nil
	}
	actor, err := s.deps.Docs.GetActor(ctx, s.actorID)
	if err != nil {
		return err
	}
	formula, label := t.Roll, t.Label
	if t.ItemID != "" {
		item := actor.Item(t.ItemID)
		if item == nil {
			return errors.NewNotFoundError(fmt.Sprintf("物品不存在: %s", t.ItemID), nil)
		}
		formula, label = item.System.DamageFormula, item.Name
	}
	if strings.TrimSpace(formula) == "" {
		return nil
	}
	_, err = RollFormula(ctx, s.deps.Roller, s.deps.Chat, actor, formula, label)
	return err
}

func (s *ActorSheet) onRollLuck(ctx context.Context, _ ActionTarget) error {
	actor, err := s.deps.Docs.GetActor(ctx, s.actorID)
	if err != nil {
		return err
	}
	_, err = RollLuck(ctx, s.deps.Roller, s.deps.Chat, actor, s.deps.Docs.Ruleset().LuckDie)
	return err
}

func (s *ActorSheet) onRest(ctx context.Context, _ ActionTarget) error {
	_, err := Rest(ctx, s.deps.Docs, s.actorID)
	return err
}

func (s *ActorSheet) onRestore(ctx context.Context, _ ActionTarget) error {
	_, err := Restore(ctx, s.deps.Docs, s.actorID)
	return err
}

func (s *ActorSheet) onCreateItem(ctx context.Context, t ActionTarget) error {
	if !s.deps.Docs.Ruleset().HasItemType(t.Type) {
		return errors.NewValidationError(fmt.Sprintf("未知的物品类型: %q", t.Type), nil)
	}
	_, err := s.deps.Docs.CreateItems(ctx, s.actorID, []models.ItemTemplate{{
		Name: "New " + TitleCase(t.Type),
		Type: t.Type,
	}})
	return err
}

func (s *ActorSheet) onEditItem(ctx context.Context, t ActionTarget) error {
	item, err := s.deps.Docs.GetItem(ctx, s.actorID, t.ItemID)
	if err != nil {
		return err
	}

	handle, err := s.gate.Open(item.ID)
	if err != nil {
		return err
	}
	editor, err := newItemSheet(s, handle, item)
	if err != nil {
		handle.Abort()
		return err
	}
	s.editor = editor
	s.publish(Outbound{Type: MsgDialog, ItemID: item.ID, HTML: InnerHTML(editor.root)})
	return nil
}

func (s *ActorSheet) onDeleteItem(ctx context.Context, t ActionTarget) error {
	if strings.TrimSpace(t.ItemID) == "" {
		return errors.NewValidationError("缺少物品ID", nil)
	}
	return s.deps.Docs.DeleteItems(ctx, s.actorID, []string{t.ItemID})
}

// ----------------------------------------
// 输出
// ----------------------------------------

func (s *ActorSheet) publish(msg Outbound) {
	if s.sink != nil {
		s.sink(msg)
	}
}

func (s *ActorSheet) publishPatches(patches []Patch) {
	s.metrics.AddCounter(utils.MetricPatchesSent, int64(len(patches)))
	s.publish(Outbound{Type: MsgPatch, Patches: patches})
}

// fail 记录错误并通知用户，不重试
func (s *ActorSheet) fail(what string, err error) {
	s.logger.Warn(what, utils.Fields{"actor_id": s.actorID, "error": err.Error()})
	s.Notify("error", errors.MessageOf(err))
}

// systemJSON 角色 system 数据，供公式中的 @ 引用使用
func systemJSON(actor *models.Actor) []byte {
	data, err := json.Marshal(actor.System)
	if err != nil {
		return nil
	}
	return data
}
