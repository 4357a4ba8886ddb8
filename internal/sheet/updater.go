// internal/sheet/updater.go
package sheet

import (
	"fmt"
	"strconv"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/Corphon/BastionSheet/internal/config"
	"github.com/Corphon/BastionSheet/internal/models"
)

type aggregateBinding struct {
	config.AggregateBinding
	sel cascadia.Sel
}

// Updater 在不重新渲染整个视图的情况下刷新单个物品行
type Updater struct {
	bindings  []aggregateBinding
	armourCap int
}

// NewUpdater 按规则中的汇总绑定创建更新器
func NewUpdater(rs *config.Ruleset) (*Updater, error) {
	u := &Updater{armourCap: rs.ArmourCap}
	for _, b := range rs.Aggregates {
		sel, err := cascadia.Parse(b.Selector)
		if err != nil {
			return nil, fmt.Errorf("汇总 %s 的选择器无效: %w", b.Name, err)
		}
		u.bindings = append(u.bindings, aggregateBinding{AggregateBinding: b, sel: sel})
	}
	return u, nil
}

// UpdateItemRow 按物品当前状态重写条目行的名称、徽标和掷骰按钮，并刷新受影响的汇总显示。
// 条目行不存在时什么都不做。返回被修改节点的补丁。
func (u *Updater) UpdateItemRow(root *html.Node, actor *models.Actor, item *models.Item, changed []string) []Patch {
	if root == nil || item == nil {
		return nil
	}
	row := findItemRow(root, item.ID)
	if row == nil {
		return nil
	}

	var patches []Patch
	if name := cascadia.Query(row, selItemName); name != nil {
		writeItemName(name, item)

		container := name.Parent
		for _, old := range cascadia.QueryAll(container, selItemInfo) {
			detach(old)
		}
		for _, label := range badgeLabels(item.System) {
			container.AppendChild(badge(label))
		}
		patches = append(patches, replacePatch(root, container))
	}
	if controls := cascadia.Query(row, selItemControls); controls != nil && syncRollControl(controls, item) {
		patches = append(patches, replacePatch(root, controls))
	}

	if actor != nil {
		patches = append(patches, u.refreshAggregates(root, actor, changed)...)
	}
	return patches
}

func (u *Updater) refreshAggregates(root *html.Node, actor *models.Actor, changed []string) []Patch {
	var patches []Patch
	for _, b := range u.bindings {
		if !b.DependsOn(changed) {
			continue
		}
		value, ok := computeAggregate(b.Compute, actor, u.armourCap)
		if !ok {
			continue
		}
		for _, n := range cascadia.QueryAll(root, b.sel) {
			setText(n, strconv.Itoa(value))
			patches = append(patches, replacePatch(root, n))
		}
	}
	return patches
}

// writeItemName 写入 "{数量} 名称"，已装备时名称加粗。名称始终作为文本写入。
func writeItemName(n *html.Node, item *models.Item) {
	removeChildren(n)
	n.AppendChild(textNode(strconv.Itoa(item.System.Quantity) + " "))
	if item.System.Equipped {
		b := element(atom.B)
		b.AppendChild(textNode(item.Name))
		n.AppendChild(b)
		return
	}
	n.AppendChild(textNode(item.Name))
}

// badgeLabels 徽标固定顺序：BULKY, BLAST, 护甲, 伤害
func badgeLabels(s models.ItemSystem) []string {
	var labels []string
	if s.Bulky {
		labels = append(labels, "BULKY")
	}
	if s.Blast {
		labels = append(labels, "BLAST")
	}
	if s.Armour != 0 {
		labels = append(labels, "Armour "+strconv.Itoa(s.Armour))
	}
	if s.HasDamage() {
		labels = append(labels, s.DamageFormula+" damage")
	}
	return labels
}

func badge(label string) *html.Node {
	n := element(atom.Span, html.Attribute{Key: "class", Val: "item-info"})
	n.AppendChild(textNode(label))
	return n
}

// syncRollControl 让掷骰按钮与伤害公式一致：有公式时存在且 data-roll/data-label 为当前值，
// 没有公式时移除。返回是否修改了节点。
func syncRollControl(controls *html.Node, item *models.Item) bool {
	existing := cascadia.Query(controls, selRollControl)
	if !item.System.HasDamage() {
		if existing == nil {
			return false
		}
		detach(existing)
		return true
	}

	if existing == nil {
		controls.InsertBefore(rollControl(item), controls.FirstChild)
		return true
	}
	roll, _ := attr(existing, "data-roll")
	label, _ := attr(existing, "data-label")
	if roll == item.System.DamageFormula && label == item.Name {
		return false
	}
	setAttr(existing, "data-roll", item.System.DamageFormula)
	setAttr(existing, "data-label", item.Name)
	return true
}

// rollControl 与模板中的掷骰按钮结构相同
func rollControl(item *models.Item) *html.Node {
	n := element(atom.A,
		html.Attribute{Key: "class", Val: "item-control"},
		html.Attribute{Key: "data-action", Val: "rollItem"},
		html.Attribute{Key: "data-roll", Val: item.System.DamageFormula},
		html.Attribute{Key: "data-label", Val: item.Name},
		html.Attribute{Key: "title", Val: "Roll"},
	)
	n.AppendChild(textNode("\U0001F3B2"))
	return n
}
