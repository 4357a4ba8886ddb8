// internal/sheet/patch.go
package sheet

import (
	"golang.org/x/net/html"

	"github.com/Corphon/BastionSheet/internal/chat"
)

// PatchOp 补丁操作
type PatchOp string

const (
	PatchReplace     PatchOp = "replace"      // 用 HTML 替换整个节点
	PatchToggleClass PatchOp = "toggle_class" // 只切换 class
)

// Patch 浏览器端需要镜像执行的一次 DOM 修改
type Patch struct {
	Op       PatchOp `json:"op"`
	Selector string  `json:"selector"`
	HTML     string  `json:"html,omitempty"`
	Class    string  `json:"class,omitempty"`
	On       bool    `json:"on,omitempty"`
}

func replacePatch(root, n *html.Node) Patch {
	return Patch{Op: PatchReplace, Selector: selectorFor(root, n), HTML: OuterHTML(n)}
}

// MessageType 推送给浏览器的消息类型
type MessageType string

const (
	MsgRender MessageType = "render"
	MsgPatch  MessageType = "patch"
	MsgDialog MessageType = "dialog"
	MsgChat   MessageType = "chat"
	MsgNotify MessageType = "notify"
)

// Outbound 推送消息
type Outbound struct {
	Type    MessageType   `json:"type"`
	HTML    string        `json:"html,omitempty"`
	Tab     string        `json:"tab,omitempty"`
	Scroll  int           `json:"scroll"`
	Patches []Patch       `json:"patches,omitempty"`
	ItemID  string        `json:"item_id,omitempty"`
	Chat    *chat.Message `json:"chat,omitempty"`
	Level   string        `json:"level,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Sink 视图的推送出口
type Sink func(Outbound)
