package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Corphon/BastionSheet/internal/config"
	"github.com/Corphon/BastionSheet/internal/errors"
	"github.com/Corphon/BastionSheet/internal/models"
	"github.com/Corphon/BastionSheet/internal/storage"
)

func newTestService(t *testing.T) *DocumentService {
	t.Helper()
	fs, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建文件存储失败: %v", err)
	}
	t.Cleanup(func() { fs.Close() })

	svc := NewDocumentService(fs, config.DefaultRuleset())
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("id%04d", n)
	}
	svc.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return svc
}

type changeRecorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *changeRecorder) listen(c Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *changeRecorder) all() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func TestCreateAndGetActor(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateActor(ctx, "  "); !errors.IsValidationError(err) {
		t.Fatalf("空名称应返回校验错误, 实际 %v", err)
	}

	actor, err := svc.CreateActor(ctx, "Ada")
	if err != nil {
		t.Fatalf("创建角色失败: %v", err)
	}
	if actor.ID != "id0001" {
		t.Errorf("角色ID应为 id0001, 实际 %s", actor.ID)
	}

	got, err := svc.GetActor(ctx, actor.ID)
	if err != nil {
		t.Fatalf("读取角色失败: %v", err)
	}
	if got.Name != "Ada" || len(got.System.Abilities) != 3 {
		t.Errorf("角色数据不一致: %+v", got)
	}

	if _, err := svc.GetActor(ctx, "nope"); !errors.IsNotFoundError(err) {
		t.Errorf("不存在的角色应返回 not found, 实际 %v", err)
	}

	list, err := svc.ListActors(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("应列出 1 个角色, 实际 %d (%v)", len(list), err)
	}
}

func TestUpdateActorFieldPaths(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	actor, _ := svc.CreateActor(ctx, "Ada")

	rec := &changeRecorder{}
	unsubscribe := svc.Subscribe(rec.listen)
	defer unsubscribe()

	updated, err := svc.UpdateActor(ctx, actor.ID, map[string]any{
		"system.hp.value":            4,
		"system.abilities.STR.value": 7,
		"system.deprived":            true,
		"":                           "ignored",
	})
	if err != nil {
		t.Fatalf("更新失败: %v", err)
	}
	if updated.System.HP.Value != 4 || updated.System.Abilities["STR"].Value != 7 || !updated.System.Deprived {
		t.Errorf("字段未更新: %+v", updated.System)
	}
	if updated.System.Abilities["DEX"].Value != 10 {
		t.Error("未提及的能力不应改变")
	}

	changes := rec.all()
	if len(changes) != 1 {
		t.Fatalf("应收到 1 条变更通知, 实际 %d", len(changes))
	}
	c := changes[0]
	if c.Kind != ChangeActorUpdated || c.ActorID != actor.ID {
		t.Errorf("变更通知不正确: %+v", c)
	}
	want := []string{"system.abilities.STR.value", "system.deprived", "system.hp.value"}
	if fmt.Sprint(c.Fields) != fmt.Sprint(want) {
		t.Errorf("变更字段应为 %v, 实际 %v", want, c.Fields)
	}

	reloaded, _ := svc.GetActor(ctx, actor.ID)
	if reloaded.System.HP.Value != 4 {
		t.Error("更新未持久化")
	}
}

func TestUpdateActorEmptyIsNoop(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	actor, _ := svc.CreateActor(ctx, "Ada")

	rec := &changeRecorder{}
	svc.Subscribe(rec.listen)

	if _, err := svc.UpdateActor(ctx, actor.ID, map[string]any{"": 1}); err != nil {
		t.Fatalf("空更新不应报错: %v", err)
	}
	if len(rec.all()) != 0 {
		t.Error("空更新不应产生通知")
	}
}

func TestUpdateActorRejectsBadPaths(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	actor, _ := svc.CreateActor(ctx, "Ada")

	cases := map[string]any{
		"system.nonsense": 1,
		"id":              "x",
		"items":           "[]",
		"system.armour":   5,
		"system.hp.*":     1,
		"system..hp":      1,
		"system.hp.value": "not a number",
	}
	for path, value := range cases {
		_, err := svc.UpdateActor(ctx, actor.ID, map[string]any{path: value})
		if !errors.IsValidationError(err) {
			t.Errorf("路径 %q 应返回校验错误, 实际 %v", path, err)
		}
	}

	if _, err := svc.UpdateActor(ctx, "ghost", map[string]any{"name": "x"}); !errors.IsNotFoundError(err) {
		t.Errorf("不存在的角色应返回 not found, 实际 %v", err)
	}
}

func TestItemLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	actor, _ := svc.CreateActor(ctx, "Ada")

	rec := &changeRecorder{}
	svc.Subscribe(rec.listen)

	items, err := svc.CreateItems(ctx, actor.ID, []models.ItemTemplate{
		{Name: "Coat", Type: "armour", System: &models.ItemSystem{Quantity: 1, Armour: 1}},
		{Name: "Rope", Type: "item"},
	})
	if err != nil {
		t.Fatalf("创建物品失败: %v", err)
	}
	if len(items) != 2 || items[1].System.Quantity != 1 {
		t.Fatalf("物品创建结果不正确: %+v", items)
	}

	coat := items[0]
	updated, err := svc.UpdateItem(ctx, actor.ID, coat.ID, map[string]any{"system.equipped": true})
	if err != nil {
		t.Fatalf("更新物品失败: %v", err)
	}
	if !updated.System.Equipped {
		t.Error("物品应已装备")
	}

	reloaded, _ := svc.GetActor(ctx, actor.ID)
	if reloaded.System.Armour != 1 {
		t.Errorf("装备后角色护甲应为 1, 实际 %d", reloaded.System.Armour)
	}

	if err := svc.DeleteItems(ctx, actor.ID, []string{items[1].ID, "missing"}); !errors.IsNotFoundError(err) {
		t.Errorf("删除不存在的物品应返回 not found, 实际 %v", err)
	}
	if got, _ := svc.GetActor(ctx, actor.ID); len(got.Items) != 2 {
		t.Error("删除失败时不应修改背包")
	}
	if err := svc.DeleteItems(ctx, actor.ID, []string{items[1].ID}); err != nil {
		t.Fatalf("删除物品失败: %v", err)
	}
	if _, err := svc.GetItem(ctx, actor.ID, items[1].ID); !errors.IsNotFoundError(err) {
		t.Error("已删除的物品不应再找到")
	}

	kinds := []ChangeKind{}
	for _, c := range rec.all() {
		kinds = append(kinds, c.Kind)
	}
	want := []ChangeKind{ChangeItemsCreated, ChangeItemUpdated, ChangeItemsDeleted}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Errorf("通知顺序应为 %v, 实际 %v", want, kinds)
	}
	if !rec.all()[2].Structural() || rec.all()[1].Structural() {
		t.Error("Structural 判断不正确")
	}
}

func TestCreateItemsValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	actor, _ := svc.CreateActor(ctx, "Ada")

	if _, err := svc.CreateItems(ctx, actor.ID, []models.ItemTemplate{{Name: "X", Type: "spaceship"}}); !errors.IsValidationError(err) {
		t.Errorf("未知类型应返回校验错误, 实际 %v", err)
	}
	if _, err := svc.CreateItems(ctx, actor.ID, []models.ItemTemplate{{Name: "", Type: "item"}}); !errors.IsValidationError(err) {
		t.Errorf("空名称应返回校验错误, 实际 %v", err)
	}
	items, err := svc.CreateItems(ctx, actor.ID, nil)
	if err != nil || len(items) != 0 {
		t.Errorf("空模板列表应返回空结果, 实际 %v %v", items, err)
	}
}

func TestUpdateItemRejectsNegativeQuantity(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	actor, _ := svc.CreateActor(ctx, "Ada")
	items, _ := svc.CreateItems(ctx, actor.ID, []models.ItemTemplate{{Name: "Rope", Type: "item"}})

	if _, err := svc.UpdateItem(ctx, actor.ID, items[0].ID, map[string]any{"system.quantity": -1}); !errors.IsValidationError(err) {
		t.Errorf("负数量应返回校验错误, 实际 %v", err)
	}
	if _, err := svc.UpdateItem(ctx, actor.ID, "nope", map[string]any{"name": "x"}); !errors.IsNotFoundError(err) {
		t.Errorf("不存在的物品应返回 not found, 实际 %v", err)
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	actor, _ := svc.CreateActor(ctx, "Ada")
	items, _ := svc.CreateItems(ctx, actor.ID, []models.ItemTemplate{
		{Name: "A", Type: "item"}, {Name: "B", Type: "item"},
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			svc.UpdateItem(ctx, actor.ID, items[0].ID, map[string]any{"system.quantity": n})
		}(i)
		go func(n int) {
			defer wg.Done()
			svc.UpdateItem(ctx, actor.ID, items[1].ID, map[string]any{"system.quantity": n + 100})
		}(i)
	}
	wg.Wait()

	got, _ := svc.GetActor(ctx, actor.ID)
	if len(got.Items) != 2 {
		t.Fatalf("并发更新后物品数量应为 2, 实际 %d", len(got.Items))
	}
	if got.Items[1].System.Quantity < 100 {
		t.Errorf("第二个物品的更新丢失: %d", got.Items[1].System.Quantity)
	}
}

func TestDeleteActor(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	actor, _ := svc.CreateActor(ctx, "Ada")

	rec := &changeRecorder{}
	svc.Subscribe(rec.listen)

	if err := svc.DeleteActor(ctx, actor.ID); err != nil {
		t.Fatalf("删除角色失败: %v", err)
	}
	if err := svc.DeleteActor(ctx, actor.ID); !errors.IsNotFoundError(err) {
		t.Errorf("重复删除应返回 not found, 实际 %v", err)
	}
	if c := rec.all(); len(c) != 1 || c[0].Kind != ChangeActorDeleted {
		t.Errorf("应收到一次删除通知: %+v", c)
	}
}
