// internal/sheet/tabs.go
package sheet

import (
	"fmt"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/Corphon/BastionSheet/internal/errors"
)

// Tab 角色表的标签页
type Tab string

const (
	TabDescription Tab = "description"
	TabItems       Tab = "items"
	TabBiography   Tab = "biography"
)

// Tabs 全部标签页，按显示顺序
var Tabs = []Tab{TabDescription, TabItems, TabBiography}

var (
	selTabPanes = cascadia.MustCompile(`.tab[data-group="primary"]`)
	selTabLinks = cascadia.MustCompile(`[data-group="primary"][data-tab]`)
)

// ParseTab 校验标签页名称
func ParseTab(s string) (Tab, error) {
	for _, t := range Tabs {
		if string(t) == s {
			return t, nil
		}
	}
	return "", errors.NewValidationError(fmt.Sprintf("未知的标签页: %q", s), nil)
}

// activateTab 切换标签页与标签链接的 active class，返回发生变化的节点补丁
func activateTab(root *html.Node, tab Tab) []Patch {
	if root == nil {
		return nil
	}

	seen := make(map[*html.Node]struct{})
	var patches []Patch
	toggle := func(nodes []*html.Node) {
		for _, n := range nodes {
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			v, _ := attr(n, "data-tab")
			on := v == string(tab)
			if toggleClass(n, "active", on) {
				patches = append(patches, Patch{Op: PatchToggleClass, Selector: selectorFor(root, n), Class: "active", On: on})
			}
		}
	}
	toggle(cascadia.QueryAll(root, selTabPanes))
	toggle(cascadia.QueryAll(root, selTabLinks))
	return patches
}
