// internal/sheet/commands.go
package sheet

import (
	"context"
	"fmt"

	"github.com/Corphon/BastionSheet/internal/chat"
	"github.com/Corphon/BastionSheet/internal/dice"
	"github.com/Corphon/BastionSheet/internal/errors"
	"github.com/Corphon/BastionSheet/internal/models"
	"github.com/Corphon/BastionSheet/internal/services"
	"github.com/Corphon/BastionSheet/internal/utils"
)

// 以下操作同时供角色表视图和 MCP 工具使用

// RollSave 能力豁免：掷 saveDie，结果不高于当前能力值即成功
func RollSave(ctx context.Context, roller *dice.Roller, log *chat.Log, actor *models.Actor, saveDie, ability string) (chat.Message, error) {
	score, ok := actor.System.Abilities[ability]
	if !ok {
		return chat.Message{}, errors.NewValidationError(fmt.Sprintf("角色没有能力: %q", ability), nil)
	}
	res, err := roller.Roll(saveDie, systemJSON(actor))
	if err != nil {
		return chat.Message{}, err
	}
	utils.GetMetricsCollector().IncrementCounter(utils.MetricRolls)

	msg := chat.FromRoll(actor.ID, actor.Name, ability+" save", res)
	success := res.Total <= score.Value
	msg.Success = &success
	return log.Post(ctx, msg)
}

// RollFormula 按公式掷骰，@ 引用解析自角色 system 数据
func RollFormula(ctx context.Context, roller *dice.Roller, log *chat.Log, actor *models.Actor, formula, flavor string) (chat.Message, error) {
	res, err := roller.Roll(formula, systemJSON(actor))
	if err != nil {
		return chat.Message{}, err
	}
	utils.GetMetricsCollector().IncrementCounter(utils.MetricRolls)
	return log.Post(ctx, chat.FromRoll(actor.ID, actor.Name, flavor, res))
}

// RollLuck 运气骰
func RollLuck(ctx context.Context, roller *dice.Roller, log *chat.Log, actor *models.Actor, luckDie string) (chat.Message, error) {
	return RollFormula(ctx, roller, log, actor, luckDie, "Luck")
}

// Rest 休息：未处于匮乏状态时生命值回满，返回是否实际恢复
func Rest(ctx context.Context, docs *services.DocumentService, actorID string) (bool, error) {
	actor, err := docs.GetActor(ctx, actorID)
	if err != nil {
		return false, err
	}
	if actor.System.Deprived {
		return false, nil
	}
	_, err = docs.UpdateActor(ctx, actorID, map[string]any{"system.hp.value": actor.System.HP.Max})
	return err == nil, err
}

// Restore 所有能力值恢复到上限
func Restore(ctx context.Context, docs *services.DocumentService, actorID string) (*models.Actor, error) {
	actor, err := docs.GetActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]any)
	for _, key := range docs.Ruleset().Abilities {
		if res, ok := actor.System.Abilities[key]; ok {
			fields["system.abilities."+key+".value"] = res.Max
		}
	}
	return docs.UpdateActor(ctx, actorID, fields)
}
