// internal/sheet/dom.go
package sheet

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// RootID 视图容器的 id，浏览器端使用同一个 id 挂载渲染结果
const RootID = "sheet"

var (
	selItemName     = cascadia.MustCompile(".item-name")
	selItemInfo     = cascadia.MustCompile(".item-info")
	selItemControls = cascadia.MustCompile(".item-controls")
	selRollControl  = cascadia.MustCompile(`[data-action="rollItem"]`)
)

// newRoot 创建视图容器节点
func newRoot() *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr:     []html.Attribute{{Key: "id", Val: RootID}},
	}
}

// parseIntoRoot 解析 HTML 片段并挂到新的容器节点下
func parseIntoRoot(fragment string) (*html.Node, error) {
	root := newRoot()
	nodes, err := html.ParseFragment(strings.NewReader(fragment), root)
	if err != nil {
		return nil, fmt.Errorf("解析HTML失败: %w", err)
	}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root, nil
}

// OuterHTML 节点自身的 HTML
func OuterHTML(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

// InnerHTML 子节点的 HTML
func InnerHTML(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return ""
		}
	}
	return buf.String()
}

// TextContent 节点的纯文本内容
func TextContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func hasClass(n *html.Node, class string) bool {
	v, _ := attr(n, "class")
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

// toggleClass 设置或移除 class，返回是否有变化
func toggleClass(n *html.Node, class string, on bool) bool {
	if hasClass(n, class) == on {
		return false
	}
	v, _ := attr(n, "class")
	fields := strings.Fields(v)
	if on {
		fields = append(fields, class)
	} else {
		kept := fields[:0]
		for _, c := range fields {
			if c != class {
				kept = append(kept, c)
			}
		}
		fields = kept
	}
	setAttr(n, "class", strings.Join(fields, " "))
	return true
}

// findFirst 深度优先查找第一个满足条件的后代节点
func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n == nil {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && match(c) {
			return c
		}
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

// findItemRow 按物品ID定位条目行
func findItemRow(root *html.Node, itemID string) *html.Node {
	return findFirst(root, func(n *html.Node) bool {
		v, ok := attr(n, "data-item-id")
		return ok && v == itemID
	})
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

func detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

func textNode(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func element(tag atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: tag.String(), DataAtom: tag, Attr: attrs}
}

// setText 用一个文本节点替换全部子节点
func setText(n *html.Node, s string) {
	removeChildren(n)
	n.AppendChild(textNode(s))
}

// cssString 以 CSS 字符串字面量形式转义
func cssString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\a `)
	return `"` + r.Replace(s) + `"`
}

// elementIndex 节点在兄弟元素中的序号（从 1 开始）
func elementIndex(n *html.Node) int {
	i := 1
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode {
			i++
		}
	}
	return i
}

// selectorFor 为节点生成可在浏览器中唯一定位的选择器。
// 以最近的 data-item-id 或 id 祖先为锚点，其余部分用 :nth-child 路径表示。
func selectorFor(root, n *html.Node) string {
	var steps []string
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == root {
			steps = append(steps, "#"+RootID)
			break
		}
		if v, ok := attr(cur, "data-item-id"); ok {
			steps = append(steps, "[data-item-id="+cssString(v)+"]")
			break
		}
		if v, ok := attr(cur, "id"); ok && v != "" {
			steps = append(steps, "[id="+cssString(v)+"]")
			break
		}
		steps = append(steps, fmt.Sprintf(":nth-child(%d)", elementIndex(cur)))
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return strings.Join(steps, " > ")
}
