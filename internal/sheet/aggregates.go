// internal/sheet/aggregates.go
package sheet

import (
	"strconv"

	"github.com/Corphon/BastionSheet/internal/config"
	"github.com/Corphon/BastionSheet/internal/models"
)

// computeAggregate 按规则中的计算名从角色的全部物品计算汇总值
func computeAggregate(compute string, actor *models.Actor, armourCap int) (int, bool) {
	switch compute {
	case config.ComputeArmourTotal:
		return actor.EquippedArmour(armourCap), true
	case config.ComputeEquippedCount:
		n := 0
		for _, it := range actor.Items {
			if it.System.Equipped {
				n++
			}
		}
		return n, true
	case config.ComputeBulkyCount:
		n := 0
		for _, it := range actor.Items {
			if it.System.Bulky {
				n += it.System.Quantity
			}
		}
		return n, true
	case config.ComputeItemCount:
		return len(actor.Items), true
	}
	return 0, false
}

// AggregateView 模板中展示的汇总值
type AggregateView struct {
	Name  string
	Value string
}

func aggregateViews(bindings []config.AggregateBinding, actor *models.Actor, armourCap int) []AggregateView {
	out := make([]AggregateView, 0, len(bindings))
	for _, b := range bindings {
		v, ok := computeAggregate(b.Compute, actor, armourCap)
		if !ok {
			continue
		}
		out = append(out, AggregateView{Name: b.Name, Value: strconv.Itoa(v)})
	}
	return out
}
