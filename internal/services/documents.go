// internal/services/documents.go
package services

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/Corphon/BastionSheet/internal/config"
	"github.com/Corphon/BastionSheet/internal/errors"
	"github.com/Corphon/BastionSheet/internal/models"
	"github.com/Corphon/BastionSheet/internal/storage"
	"github.com/Corphon/BastionSheet/internal/utils"
)

const actorCollection = "actors"

// ChangeKind 文档变更类型
type ChangeKind string

const (
	ChangeActorCreated ChangeKind = "actor_created"
	ChangeActorUpdated ChangeKind = "actor_updated"
	ChangeActorDeleted ChangeKind = "actor_deleted"
	ChangeItemUpdated  ChangeKind = "item_updated"
	ChangeItemsCreated ChangeKind = "items_created"
	ChangeItemsDeleted ChangeKind = "items_deleted"
)

// Change 在每次成功写入后通知订阅者
type Change struct {
	Kind    ChangeKind
	ActorID string
	ItemIDs []string
	Fields  []string // 已修改的字段路径
}

// Structural 创建或删除会改变列表结构，局部更新无法处理
func (c Change) Structural() bool {
	switch c.Kind {
	case ChangeItemsCreated, ChangeItemsDeleted, ChangeActorDeleted:
		return true
	}
	return false
}

// Listener 变更监听器，必须快速返回
type Listener func(Change)

var fieldPathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)

// 不允许通过局部更新修改的字段
var protectedActorPaths = []string{"id", "type", "items", "created_at", "last_updated", "system.armour"}
var protectedItemPaths = []string{"id", "created_at", "last_updated"}

// DocumentService 角色与物品文档的读写服务
type DocumentService struct {
	backend storage.Backend
	locks   *LockManager
	ruleset *config.Ruleset
	logger  *utils.Logger
	metrics *utils.MetricsCollector

	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int

	now   func() time.Time
	newID func() string
}

// NewDocumentService 创建文档服务
func NewDocumentService(backend storage.Backend, ruleset *config.Ruleset) *DocumentService {
	return &DocumentService{
		backend:   backend,
		locks:     NewLockManager(),
		ruleset:   ruleset,
		logger:    utils.GetLogger(),
		metrics:   utils.GetMetricsCollector(),
		listeners: make(map[int]Listener),
		now:       time.Now,
		newID:     func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:16] },
	}
}

// Ruleset 当前规则
func (s *DocumentService) Ruleset() *config.Ruleset {
	return s.ruleset
}

// Subscribe 注册变更监听器，返回取消函数
func (s *DocumentService) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *DocumentService) notify(change Change) {
	s.metrics.IncrementCounter(utils.MetricStoreMutations)

	s.mu.RLock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		l(change)
	}
}

// ----------------------------------------
// 角色
// ----------------------------------------

// CreateActor 创建角色
func (s *DocumentService) CreateActor(ctx context.Context, name string) (*models.Actor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewValidationError("角色名称不能为空", nil)
	}

	actor := models.NewActor(name, s.ruleset.Abilities)
	actor.ID = s.newID()
	actor.CreatedAt = s.now()
	actor.LastUpdated = actor.CreatedAt

	if err := s.saveActor(ctx, actor); err != nil {
		return nil, err
	}
	s.notify(Change{Kind: ChangeActorCreated, ActorID: actor.ID})
	return actor, nil
}

// GetActor 读取角色并计算推导字段
func (s *DocumentService) GetActor(ctx context.Context, id string) (*models.Actor, error) {
	data, err := s.backend.Load(ctx, actorCollection, id)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NewNotFoundError(fmt.Sprintf("角色不存在: %s", id), err)
		}
		s.metrics.IncrementCounter(utils.MetricStoreErrors)
		return nil, errors.NewPersistenceError("读取角色失败", err)
	}

	var actor models.Actor
	if err := json.Unmarshal(data, &actor); err != nil {
		return nil, errors.NewPersistenceError("解析角色数据失败", err)
	}
	actor.Derive(s.ruleset.ArmourCap)
	return &actor, nil
}

// ListActors 列出所有角色
func (s *DocumentService) ListActors(ctx context.Context) ([]*models.Actor, error) {
	ids, err := s.backend.List(ctx, actorCollection)
	if err != nil {
		s.metrics.IncrementCounter(utils.MetricStoreErrors)
		return nil, errors.NewPersistenceError("列出角色失败", err)
	}

	actors := make([]*models.Actor, 0, len(ids))
	for _, id := range ids {
		actor, err := s.GetActor(ctx, id)
		if err != nil {
			if errors.IsNotFoundError(err) {
				continue // 并发删除
			}
			return nil, err
		}
		actors = append(actors, actor)
	}
	return actors, nil
}

// DeleteActor 删除角色
func (s *DocumentService) DeleteActor(ctx context.Context, id string) error {
	err := s.locks.ExecuteWithLock(id, func() error {
		if err := s.backend.Delete(ctx, actorCollection, id); err != nil {
			if stderrors.Is(err, storage.ErrNotFound) {
				return errors.NewNotFoundError(fmt.Sprintf("角色不存在: %s", id), err)
			}
			s.metrics.IncrementCounter(utils.MetricStoreErrors)
			return errors.NewPersistenceError("删除角色失败", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(Change{Kind: ChangeActorDeleted, ActorID: id})
	return nil
}

// UpdateActor 按字段路径局部更新角色，例如 {"system.hp.value": 3}
func (s *DocumentService) UpdateActor(ctx context.Context, id string, fields map[string]any) (*models.Actor, error) {
	var updated *models.Actor
	var changed []string

	err := s.locks.ExecuteWithLock(id, func() error {
		actor, err := s.GetActor(ctx, id)
		if err != nil {
			return err
		}

		var next models.Actor
		changed, err = applyFields(actor, fields, protectedActorPaths, &next)
		if err != nil || len(changed) == 0 {
			updated = actor
			return err
		}

		next.LastUpdated = s.now()
		next.Derive(s.ruleset.ArmourCap)
		if err := s.saveActor(ctx, &next); err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		s.notify(Change{Kind: ChangeActorUpdated, ActorID: id, Fields: changed})
	}
	return updated, nil
}

// ----------------------------------------
// 物品（嵌入文档）
// ----------------------------------------

// GetItem 读取角色的某个物品
func (s *DocumentService) GetItem(ctx context.Context, actorID, itemID string) (*models.Item, error) {
	actor, err := s.GetActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	item := actor.Item(itemID)
	if item == nil {
		return nil, errors.NewNotFoundError(fmt.Sprintf("物品不存在: %s", itemID), nil)
	}
	return item, nil
}

// UpdateItem 按字段路径局部更新物品
func (s *DocumentService) UpdateItem(ctx context.Context, actorID, itemID string, fields map[string]any) (*models.Item, error) {
	var updated *models.Item
	var changed []string

	err := s.locks.ExecuteWithLock(actorID, func() error {
		actor, err := s.GetActor(ctx, actorID)
		if err != nil {
			return err
		}
		idx := -1
		for i, it := range actor.Items {
			if it.ID == itemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return errors.NewNotFoundError(fmt.Sprintf("物品不存在: %s", itemID), nil)
		}

		var next models.Item
		changed, err = applyFields(actor.Items[idx], fields, protectedItemPaths, &next)
		if err != nil || len(changed) == 0 {
			updated = actor.Items[idx]
			return err
		}
		if next.System.Quantity < 0 {
			return errors.NewValidationError("物品数量不能为负数", nil)
		}
		if !s.ruleset.HasItemType(next.Type) {
			return errors.NewValidationError(fmt.Sprintf("未知的物品类型: %s", next.Type), nil)
		}

		next.LastUpdated = s.now()
		actor.Items[idx] = &next
		actor.LastUpdated = next.LastUpdated
		if err := s.saveActor(ctx, actor); err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		s.notify(Change{Kind: ChangeItemUpdated, ActorID: actorID, ItemIDs: []string{itemID}, Fields: changed})
	}
	return updated, nil
}

// CreateItems 批量创建物品，返回带新ID的物品
func (s *DocumentService) CreateItems(ctx context.Context, actorID string, templates []models.ItemTemplate) ([]*models.Item, error) {
	if len(templates) == 0 {
		return []*models.Item{}, nil
	}

	now := s.now()
	created := make([]*models.Item, 0, len(templates))
	for i, tpl := range templates {
		name := strings.TrimSpace(tpl.Name)
		if name == "" {
			return nil, errors.NewValidationError(fmt.Sprintf("第 %d 个物品名称不能为空", i+1), nil)
		}
		if !s.ruleset.HasItemType(tpl.Type) {
			return nil, errors.NewValidationError(fmt.Sprintf("未知的物品类型: %s", tpl.Type), nil)
		}
		sys := models.DefaultItemSystem()
		if tpl.System != nil {
			sys = *tpl.System
		}
		if sys.Quantity < 0 {
			return nil, errors.NewValidationError("物品数量不能为负数", nil)
		}
		created = append(created, &models.Item{
			ID:          s.newID(),
			Name:        name,
			Type:        tpl.Type,
			System:      sys,
			CreatedAt:   now,
			LastUpdated: now,
		})
	}

	err := s.locks.ExecuteWithLock(actorID, func() error {
		actor, err := s.GetActor(ctx, actorID)
		if err != nil {
			return err
		}
		actor.Items = append(actor.Items, created...)
		actor.LastUpdated = now
		return s.saveActor(ctx, actor)
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(created))
	for i, it := range created {
		ids[i] = it.ID
	}
	s.notify(Change{Kind: ChangeItemsCreated, ActorID: actorID, ItemIDs: ids})
	return created, nil
}

// DeleteItems 删除物品，任一ID不存在时不做任何修改
func (s *DocumentService) DeleteItems(ctx context.Context, actorID string, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}

	err := s.locks.ExecuteWithLock(actorID, func() error {
		actor, err := s.GetActor(ctx, actorID)
		if err != nil {
			return err
		}
		drop := make(map[string]struct{}, len(itemIDs))
		for _, id := range itemIDs {
			if actor.Item(id) == nil {
				return errors.NewNotFoundError(fmt.Sprintf("物品不存在: %s", id), nil)
			}
			drop[id] = struct{}{}
		}

		kept := make([]*models.Item, 0, len(actor.Items))
		for _, it := range actor.Items {
			if _, gone := drop[it.ID]; !gone {
				kept = append(kept, it)
			}
		}
		actor.Items = kept
		actor.LastUpdated = s.now()
		return s.saveActor(ctx, actor)
	})
	if err != nil {
		return err
	}
	s.notify(Change{Kind: ChangeItemsDeleted, ActorID: actorID, ItemIDs: itemIDs})
	return nil
}

func (s *DocumentService) saveActor(ctx context.Context, actor *models.Actor) error {
	data, err := json.MarshalIndent(actor, "", "  ")
	if err != nil {
		return errors.NewProcessingError("序列化角色数据失败", err)
	}
	if err := s.backend.Save(ctx, actorCollection, actor.ID, data); err != nil {
		s.metrics.IncrementCounter(utils.MetricStoreErrors)
		s.logger.Error("保存角色失败", utils.Fields{"actor_id": actor.ID, "error": err})
		return errors.NewPersistenceError("保存角色失败", err)
	}
	return nil
}

// applyFields 将字段路径写入文档的 JSON 表示并重新解码到 out。
// 空路径被忽略；返回排序后的已修改路径。
func applyFields(doc any, fields map[string]any, protected []string, out any) ([]string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.NewProcessingError("序列化文档失败", err)
	}

	paths := make([]string, 0, len(fields))
	for path := range fields {
		if strings.TrimSpace(path) == "" {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if !fieldPathPattern.MatchString(path) {
			return nil, errors.NewValidationError(fmt.Sprintf("无效的字段路径: %q", path), nil)
		}
		for _, p := range protected {
			if path == p || strings.HasPrefix(path, p+".") {
				return nil, errors.NewValidationError(fmt.Sprintf("字段不可修改: %s", path), nil)
			}
		}
		if !gjson.GetBytes(raw, path).Exists() {
			return nil, errors.NewValidationError(fmt.Sprintf("未知字段: %s", path), nil)
		}
		raw, err = sjson.SetBytes(raw, path, fields[path])
		if err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("写入字段失败: %s", path), err)
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return nil, errors.NewValidationError("字段类型不匹配", err)
	}
	return paths, nil
}
