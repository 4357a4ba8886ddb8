package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Corphon/BastionSheet/internal/chat"
	"github.com/Corphon/BastionSheet/internal/models"
	"github.com/Corphon/BastionSheet/internal/sheet"
)

type ListActorsInput struct{}

type ActorInput struct {
	ActorID string `json:"actor_id" jsonschema:"character id"`
}

type RollAbilityInput struct {
	ActorID string `json:"actor_id" jsonschema:"character id"`
	Ability string `json:"ability" jsonschema:"ability key such as STR, DEX or CHA"`
}

type RollFormulaInput struct {
	ActorID string `json:"actor_id" jsonschema:"character id"`
	Formula string `json:"formula" jsonschema:"dice formula such as 2d6+1 or d8+@gold"`
	Flavor  string `json:"flavor,omitempty" jsonschema:"label shown in the chat log"`
}

type ResourceOutput struct {
	Value int `json:"value"`
	Max   int `json:"max"`
}

type ActorSummaryOutput struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	HP       ResourceOutput `json:"hp"`
	Armour   int            `json:"armour"`
	Deprived bool           `json:"deprived"`
}

type ListActorsOutput struct {
	Actors []ActorSummaryOutput `json:"actors"`
}

type ItemOutput struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	Quantity      int    `json:"quantity"`
	Equipped      bool   `json:"equipped"`
	Bulky         bool   `json:"bulky,omitempty"`
	Blast         bool   `json:"blast,omitempty"`
	Armour        int    `json:"armour,omitempty"`
	DamageFormula string `json:"damage_formula,omitempty"`
}

type AbilityOutput struct {
	Key   string `json:"key"`
	Value int    `json:"value"`
	Max   int    `json:"max"`
}

type ActorOutput struct {
	ActorSummaryOutput
	Abilities []AbilityOutput `json:"abilities"`
	Gold      int             `json:"gold"`
	Items     []ItemOutput    `json:"items"`
}

type RollOutput struct {
	ID      string `json:"id"`
	Flavor  string `json:"flavor,omitempty"`
	Formula string `json:"formula"`
	Total   int    `json:"total"`
	Dice    []int  `json:"dice,omitempty"`
	Success *bool  `json:"success,omitempty"`
}

type RestOutput struct {
	Rested bool           `json:"rested"`
	HP     ResourceOutput `json:"hp"`
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_actors",
		Description: "List all characters with HP and armour",
	}, s.handleListActors)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_actor",
		Description: "Retrieve a character with abilities and inventory",
	}, s.handleGetActor)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "roll_ability",
		Description: "Roll an ability save; success when the roll is at or under the current score",
	}, s.handleRollAbility)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "roll_luck",
		Description: "Roll the luck die for a character",
	}, s.handleRollLuck)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "roll_formula",
		Description: "Roll an arbitrary dice formula for a character",
	}, s.handleRollFormula)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "rest",
		Description: "Rest: restore HP to max unless the character is deprived",
	}, s.handleRest)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "restore",
		Description: "Restore every ability to its max",
	}, s.handleRestore)
}

func (s *Server) handleListActors(ctx context.Context, req *sdk.CallToolRequest, input ListActorsInput) (*sdk.CallToolResult, ListActorsOutput, error) {
	actors, err := s.docs.ListActors(ctx)
	if err != nil {
		return nil, ListActorsOutput{}, err
	}
	out := make([]ActorSummaryOutput, 0, len(actors))
	for _, a := range actors {
		out = append(out, actorSummaryOutput(a))
	}
	return nil, ListActorsOutput{Actors: out}, nil
}

func (s *Server) handleGetActor(ctx context.Context, req *sdk.CallToolRequest, input ActorInput) (*sdk.CallToolResult, ActorOutput, error) {
	actor, err := s.actor(ctx, input.ActorID)
	if err != nil {
		return nil, ActorOutput{}, err
	}
	return nil, actorOutput(actor), nil
}

func (s *Server) handleRollAbility(ctx context.Context, req *sdk.CallToolRequest, input RollAbilityInput) (*sdk.CallToolResult, RollOutput, error) {
	if input.Ability == "" {
		return nil, RollOutput{}, fmt.Errorf("ability is required")
	}
	actor, err := s.actor(ctx, input.ActorID)
	if err != nil {
		return nil, RollOutput{}, err
	}
	msg, err := sheet.RollSave(ctx, s.roller, s.chat, actor, s.docs.Ruleset().SaveDie, strings.ToUpper(input.Ability))
	if err != nil {
		return nil, RollOutput{}, err
	}
	return nil, rollOutput(msg), nil
}

func (s *Server) handleRollLuck(ctx context.Context, req *sdk.CallToolRequest, input ActorInput) (*sdk.CallToolResult, RollOutput, error) {
	actor, err := s.actor(ctx, input.ActorID)
	if err != nil {
		return nil, RollOutput{}, err
	}
	msg, err := sheet.RollLuck(ctx, s.roller, s.chat, actor, s.docs.Ruleset().LuckDie)
	if err != nil {
		return nil, RollOutput{}, err
	}
	return nil, rollOutput(msg), nil
}

func (s *Server) handleRollFormula(ctx context.Context, req *sdk.CallToolRequest, input RollFormulaInput) (*sdk.CallToolResult, RollOutput, error) {
	if strings.TrimSpace(input.Formula) == "" {
		return nil, RollOutput{}, fmt.Errorf("formula is required")
	}
	actor, err := s.actor(ctx, input.ActorID)
	if err != nil {
		return nil, RollOutput{}, err
	}
	msg, err := sheet.RollFormula(ctx, s.roller, s.chat, actor, input.Formula, input.Flavor)
	if err != nil {
		return nil, RollOutput{}, err
	}
	return nil, rollOutput(msg), nil
}

func (s *Server) handleRest(ctx context.Context, req *sdk.CallToolRequest, input ActorInput) (*sdk.CallToolResult, RestOutput, error) {
	if input.ActorID == "" {
		return nil, RestOutput{}, fmt.Errorf("actor_id is required")
	}
	rested, err := sheet.Rest(ctx, s.docs, input.ActorID)
	if err != nil {
		return nil, RestOutput{}, err
	}
	actor, err := s.docs.GetActor(ctx, input.ActorID)
	if err != nil {
		return nil, RestOutput{}, err
	}
	return nil, RestOutput{Rested: rested, HP: ResourceOutput(actor.System.HP)}, nil
}

func (s *Server) handleRestore(ctx context.Context, req *sdk.CallToolRequest, input ActorInput) (*sdk.CallToolResult, ActorOutput, error) {
	if input.ActorID == "" {
		return nil, ActorOutput{}, fmt.Errorf("actor_id is required")
	}
	actor, err := sheet.Restore(ctx, s.docs, input.ActorID)
	if err != nil {
		return nil, ActorOutput{}, err
	}
	return nil, actorOutput(actor), nil
}

func (s *Server) actor(ctx context.Context, id string) (*models.Actor, error) {
	if id == "" {
		return nil, fmt.Errorf("actor_id is required")
	}
	return s.docs.GetActor(ctx, id)
}

func actorSummaryOutput(a *models.Actor) ActorSummaryOutput {
	return ActorSummaryOutput{
		ID:       a.ID,
		Name:     a.Name,
		HP:       ResourceOutput(a.System.HP),
		Armour:   a.System.Armour,
		Deprived: a.System.Deprived,
	}
}

func actorOutput(a *models.Actor) ActorOutput {
	out := ActorOutput{
		ActorSummaryOutput: actorSummaryOutput(a),
		Abilities:          make([]AbilityOutput, 0, len(a.System.Abilities)),
		Gold:               a.System.Gold,
		Items:              make([]ItemOutput, 0, len(a.Items)),
	}
	for key, res := range a.System.Abilities {
		out.Abilities = append(out.Abilities, AbilityOutput{Key: key, Value: res.Value, Max: res.Max})
	}
	sort.Slice(out.Abilities, func(i, j int) bool { return out.Abilities[i].Key < out.Abilities[j].Key })

	for _, it := range a.Items {
		out.Items = append(out.Items, ItemOutput{
			ID:            it.ID,
			Name:          it.Name,
			Type:          it.Type,
			Quantity:      it.System.Quantity,
			Equipped:      it.System.Equipped,
			Bulky:         it.System.Bulky,
			Blast:         it.System.Blast,
			Armour:        it.System.Armour,
			DamageFormula: it.System.DamageFormula,
		})
	}
	return out
}

func rollOutput(msg chat.Message) RollOutput {
	return RollOutput{
		ID:      msg.ID,
		Flavor:  msg.Flavor,
		Formula: msg.Formula,
		Total:   msg.Total,
		Dice:    msg.Dice,
		Success: msg.Success,
	}
}
