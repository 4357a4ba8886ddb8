// internal/models/actor.go
package models

import "time"

// Actor 表示一个角色文档，物品作为嵌入文档保存
type Actor struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Img         string      `json:"img,omitempty"`
	System      ActorSystem `json:"system"`
	Items       []*Item     `json:"items"`
	CreatedAt   time.Time   `json:"created_at"`
	LastUpdated time.Time   `json:"last_updated"`
}

// ActorSystem 规则相关的角色数据
type ActorSystem struct {
	Abilities map[string]Resource `json:"abilities"`
	HP        Resource            `json:"hp"`
	Armour    int                 `json:"armour"` // 由已装备物品推导
	Deprived  bool                `json:"deprived"`
	Gold      int                 `json:"gold"`
	Biography string              `json:"biography"`
	Scars     string              `json:"scars"`
}

// Resource 带上限的数值（能力值、生命值）
type Resource struct {
	Value int `json:"value"`
	Max   int `json:"max"`
}

// NewActor 按能力列表初始化角色数据
func NewActor(name string, abilities []string) *Actor {
	sys := ActorSystem{
		Abilities: make(map[string]Resource, len(abilities)),
		HP:        Resource{Value: 1, Max: 1},
	}
	for _, ab := range abilities {
		sys.Abilities[ab] = Resource{Value: 10, Max: 10}
	}
	return &Actor{
		Name:   name,
		Type:   "character",
		System: sys,
		Items:  []*Item{},
	}
}

// Item 按 ID 查找嵌入物品
func (a *Actor) Item(id string) *Item {
	for _, it := range a.Items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// EquippedArmour 已装备物品护甲之和，cap 为 0 表示不设上限
func (a *Actor) EquippedArmour(cap int) int {
	total := 0
	for _, it := range a.Items {
		if it.System.Equipped {
			total += it.System.Armour
		}
	}
	if cap > 0 && total > cap {
		return cap
	}
	return total
}

// Derive 重新计算推导字段
func (a *Actor) Derive(armourCap int) {
	a.System.Armour = a.EquippedArmour(armourCap)
	if a.Items == nil {
		a.Items = []*Item{}
	}
}
