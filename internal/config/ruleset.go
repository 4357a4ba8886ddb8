package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed ruleset.yaml
var defaultRuleset []byte

// Aggregate compute functions understood by the sheet renderer.
const (
	ComputeArmourTotal   = "armour_total"
	ComputeEquippedCount = "equipped_count"
	ComputeBulkyCount    = "bulky_count"
	ComputeItemCount     = "item_count"
)

var knownComputes = map[string]struct{}{
	ComputeArmourTotal:   {},
	ComputeEquippedCount: {},
	ComputeBulkyCount:    {},
	ComputeItemCount:     {},
}

type Ruleset struct {
	Version    int                `yaml:"version"`
	System     string             `yaml:"system"`
	Abilities  []string           `yaml:"abilities"`
	SaveDie    string             `yaml:"save_die"`
	LuckDie    string             `yaml:"luck_die"`
	ArmourCap  int                `yaml:"armour_cap"`
	ItemTypes  []string           `yaml:"item_types"`
	Aggregates []AggregateBinding `yaml:"aggregates"`
}

// AggregateBinding ties item field paths to a summary display elsewhere on the sheet.
type AggregateBinding struct {
	Name     string   `yaml:"name"`
	Selector string   `yaml:"selector"`
	Compute  string   `yaml:"compute"`
	Fields   []string `yaml:"fields"`
}

// DependsOn reports whether any changed path feeds this aggregate.
// An empty change set means "unknown" and matches everything.
func (b AggregateBinding) DependsOn(changed []string) bool {
	if len(changed) == 0 {
		return true
	}
	for _, c := range changed {
		for _, f := range b.Fields {
			if c == f || strings.HasPrefix(c, f+".") {
				return true
			}
		}
	}
	return false
}

func (r *Ruleset) HasItemType(t string) bool {
	for _, it := range r.ItemTypes {
		if it == t {
			return true
		}
	}
	return false
}

func (r *Ruleset) HasAbility(a string) bool {
	for _, ab := range r.Abilities {
		if ab == a {
			return true
		}
	}
	return false
}

// DefaultRuleset returns the embedded Electric Bastionland rules.
func DefaultRuleset() *Ruleset {
	rs, err := ParseRuleset(defaultRuleset)
	if err != nil {
		panic(fmt.Sprintf("embedded ruleset is invalid: %v", err))
	}
	return rs
}

func LoadRuleset(path string) (*Ruleset, error) {
	if path == "" {
		return DefaultRuleset(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading ruleset: %w", err)
	}
	rs, err := ParseRuleset(data)
	if err != nil {
		return nil, fmt.Errorf("loading ruleset: %w", err)
	}
	return rs, nil
}

func ParseRuleset(data []byte) (*Ruleset, error) {
	var rs Ruleset
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, err
	}
	if err := validateRuleset(&rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

func validateRuleset(rs *Ruleset) error {
	if rs.Version != 1 {
		return fmt.Errorf("unsupported version: %d", rs.Version)
	}
	if strings.TrimSpace(rs.System) == "" {
		return fmt.Errorf("system name is required")
	}
	if len(rs.Abilities) == 0 {
		return fmt.Errorf("at least one ability is required")
	}
	if len(rs.ItemTypes) == 0 {
		return fmt.Errorf("at least one item type is required")
	}
	if rs.SaveDie == "" {
		rs.SaveDie = "d20"
	}
	if rs.LuckDie == "" {
		rs.LuckDie = "1d6"
	}
	if rs.ArmourCap < 0 {
		return fmt.Errorf("armour_cap must not be negative")
	}

	seen := make(map[string]struct{})
	for i, agg := range rs.Aggregates {
		if strings.TrimSpace(agg.Name) == "" {
			return fmt.Errorf("aggregate %d name is required", i)
		}
		if strings.TrimSpace(agg.Selector) == "" {
			return fmt.Errorf("aggregate %s selector is required", agg.Name)
		}
		if _, ok := knownComputes[agg.Compute]; !ok {
			return fmt.Errorf("aggregate %s: unknown compute %q", agg.Name, agg.Compute)
		}
		if _, dup := seen[agg.Name]; dup {
			return fmt.Errorf("duplicate aggregate name: %s", agg.Name)
		}
		seen[agg.Name] = struct{}{}
	}
	return nil
}

// KnownComputes lists the compute names a binding may reference.
func KnownComputes() []string {
	names := make([]string, 0, len(knownComputes))
	for name := range knownComputes {
		names = append(names, name)
	}
	return names
}
