// internal/sheet/renderer.go
package sheet

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Corphon/BastionSheet/internal/config"
	"github.com/Corphon/BastionSheet/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

// TitleCase 首字母大写，例如 weapon -> Weapon
func TitleCase(s string) string {
	// Caser 有状态，不能在 goroutine 间共享
	return cases.Title(language.English).String(s)
}

// Renderer 整页渲染器
type Renderer struct {
	tmpl    *template.Template
	ruleset *config.Ruleset
}

type abilityView struct {
	Key   string
	Value int
	Max   int
}

type actorSheetData struct {
	Actor      *models.Actor
	Abilities  []abilityView
	Aggregates []AggregateView
	ItemTypes  []string
	Tabs       []Tab
}

type itemSheetData struct {
	ActorID string
	Item    *models.Item
	Types   []string
}

type pageData struct {
	Title   string
	System  string
	ActorID string
	Actors  []*models.Actor
}

// NewRenderer 解析内嵌模板
func NewRenderer(rs *config.Ruleset) (*Renderer, error) {
	tmpl, err := template.New("sheet").Funcs(template.FuncMap{
		"title": TitleCase,
		"lower": strings.ToLower,
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("解析模板失败: %w", err)
	}
	return &Renderer{tmpl: tmpl, ruleset: rs}, nil
}

// ActorSheet 渲染角色表并解析为视图容器，同时激活指定标签页
func (r *Renderer) ActorSheet(actor *models.Actor, tab Tab) (*html.Node, error) {
	data := actorSheetData{
		Actor:      actor,
		Aggregates: aggregateViews(r.ruleset.Aggregates, actor, r.ruleset.ArmourCap),
		ItemTypes:  r.ruleset.ItemTypes,
		Tabs:       Tabs,
	}
	for _, key := range r.ruleset.Abilities {
		res := actor.System.Abilities[key]
		data.Abilities = append(data.Abilities, abilityView{Key: key, Value: res.Value, Max: res.Max})
	}

	root, err := r.executeToRoot("actor-sheet", data)
	if err != nil {
		return nil, err
	}
	activateTab(root, tab)
	return root, nil
}

// ItemSheet 渲染物品编辑器
func (r *Renderer) ItemSheet(actorID string, item *models.Item) (*html.Node, error) {
	return r.executeToRoot("item-sheet", itemSheetData{ActorID: actorID, Item: item, Types: r.ruleset.ItemTypes})
}

// Page 角色表页面外壳，表单内容由 websocket 推送
func (r *Renderer) Page(w io.Writer, actor *models.Actor) error {
	return r.tmpl.ExecuteTemplate(w, "page", pageData{Title: actor.Name, System: r.ruleset.System, ActorID: actor.ID})
}

// Index 角色列表页面
func (r *Renderer) Index(w io.Writer, actors []*models.Actor) error {
	return r.tmpl.ExecuteTemplate(w, "index", pageData{Title: "Characters", System: r.ruleset.System, Actors: actors})
}

func (r *Renderer) executeToRoot(name string, data any) (*html.Node, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("渲染模板 %s 失败: %w", name, err)
	}
	return parseIntoRoot(buf.String())
}
