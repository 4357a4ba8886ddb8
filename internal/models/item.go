// internal/models/item.go
package models

import (
	"strings"
	"time"
)

// Item 角色背包中的物品（嵌入在角色文档中）
type Item struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        string     `json:"type"` // item, weapon, armour, oddity
	Img         string     `json:"img,omitempty"`
	System      ItemSystem `json:"system"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUpdated time.Time  `json:"last_updated"`
}

// ItemSystem 规则相关的物品数据
type ItemSystem struct {
	Quantity      int    `json:"quantity"`
	Equipped      bool   `json:"equipped"`
	Bulky         bool   `json:"bulky"`
	Blast         bool   `json:"blast"`
	Armour        int    `json:"armour"`
	DamageFormula string `json:"damageFormula"`
	Description   string `json:"description"`
}

// ItemTemplate 创建物品时使用的模板
type ItemTemplate struct {
	Name   string      `json:"name"`
	Type   string      `json:"type"`
	System *ItemSystem `json:"system,omitempty"`
}

// DefaultItemSystem 新物品的默认数据，数量默认为 1
func DefaultItemSystem() ItemSystem {
	return ItemSystem{Quantity: 1}
}

// HasDamage 是否有伤害公式
func (s ItemSystem) HasDamage() bool {
	return strings.TrimSpace(s.DamageFormula) != ""
}

// Clone 返回物品副本
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}
