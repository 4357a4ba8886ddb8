// internal/api/websocket_handlers.go
package api

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Corphon/BastionSheet/internal/errors"
	"github.com/Corphon/BastionSheet/internal/sheet"
)

// WebSocketHandler 把 WebSocket 连接接到角色表视图上
type WebSocketHandler struct {
	manager  *WebSocketManager
	registry *sheet.Registry
	response *ResponseHelper
}

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler(manager *WebSocketManager, registry *sheet.Registry) *WebSocketHandler {
	return &WebSocketHandler{
		manager:  manager,
		registry: registry,
		response: NewResponseHelper(),
	}
}

// inboundMessage 浏览器发来的消息
type inboundMessage struct {
	Type   string             `json:"type"`
	Action string             `json:"action,omitempty"`
	Target sheet.ActionTarget `json:"target"`
	Form   sheet.FormInput    `json:"form"`
	Tab    string             `json:"tab,omitempty"`
	Scroll int                `json:"scroll,omitempty"`
	ItemID string             `json:"item_id,omitempty"`
	Name   string             `json:"name,omitempty"`
	Value  string             `json:"value,omitempty"`
}

// ActorWebSocket 处理角色表 WebSocket 连接：每个连接一个视图和一个事件循环
func (wh *WebSocketHandler) ActorWebSocket(c *gin.Context) {
	actorID := c.Param("id")
	if _, err := wh.registry.Deps().Docs.GetActor(c.Request.Context(), actorID); err != nil {
		wh.response.HandleError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ WebSocket 升级失败: %v", err)
		return
	}

	client := NewWebSocketClient(conn, uuid.NewString(), actorID)
	wh.manager.Register(client)

	ctx, cancel := context.WithCancel(context.Background())
	view := wh.registry.Open(actorID, func(msg sheet.Outbound) {
		client.SendMessage(msg)
	})

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		view.Run(ctx)
	}()
	go client.writePump()

	defer func() {
		cancel()
		<-loopDone
		wh.registry.Close(view)
		wh.manager.Unregister(client)
	}()

	view.Post(view.Refresh)
	wh.readPump(client, view)
}

// readPump 读取客户端消息直到连接断开
func (wh *WebSocketHandler) readPump(client *WebSocketClient, view *sheet.ActorSheet) {
	client.conn.SetReadLimit(maxInbound)
	client.conn.SetReadDeadline(time.Now().Add(readTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return client.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for !client.IsClosed() {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("❌ WebSocket 读取错误: %v", err)
			}
			return
		}
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("⚠️ JSON解析失败: %v", err)
			client.SendMessage(notifyError("消息格式错误"))
			continue
		}
		wh.handleMessage(client, view, msg)
	}
}

// handleMessage 把消息投递到视图的事件循环
func (wh *WebSocketHandler) handleMessage(client *WebSocketClient, view *sheet.ActorSheet, msg inboundMessage) {
	switch msg.Type {
	case "action":
		view.Post(func(ctx context.Context) {
			view.Dispatch(ctx, msg.Action, msg.Target)
		})
	case "form":
		view.Post(func(ctx context.Context) {
			view.FormChange(ctx, msg.Form)
		})
	case "tab":
		view.Post(func(context.Context) {
			if err := view.ChangeTab(msg.Tab); err != nil {
				view.Notify("error", errors.MessageOf(err))
			}
		})
	case "scroll":
		view.Post(func(context.Context) {
			view.SetScroll(msg.Scroll)
		})
	case "item_form":
		view.Post(func(ctx context.Context) {
			if ed := editorFor(view, msg.ItemID); ed != nil {
				ed.FormChange(ctx, msg.Form)
			}
		})
	case "item_input":
		view.Post(func(context.Context) {
			if ed := editorFor(view, msg.ItemID); ed != nil {
				ed.Input(msg.Name, msg.Value)
			}
		})
	case "item_close":
		view.Post(func(ctx context.Context) {
			if ed := editorFor(view, msg.ItemID); ed != nil {
				ed.Close(ctx)
			}
		})
	case "ping":
		client.SendMessage(gin.H{"type": "pong", "timestamp": time.Now().Format(time.RFC3339)})
	default:
		log.Printf("⚠️ 未知的消息类型: %s", msg.Type)
		client.SendMessage(notifyError("未知的消息类型: " + msg.Type))
	}
}

// editorFor 返回正在编辑该物品的编辑器
func editorFor(view *sheet.ActorSheet, itemID string) *sheet.ItemSheet {
	ed := view.Editor()
	if ed == nil || ed.ItemID() != itemID {
		return nil
	}
	return ed
}

func notifyError(message string) sheet.Outbound {
	return sheet.Outbound{Type: sheet.MsgNotify, Level: "error", Message: message}
}
