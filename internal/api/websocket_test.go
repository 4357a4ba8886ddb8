package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/BastionSheet/internal/sheet"
)

// fakeConn 记录写入的消息
type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, data)
	return nil
}
func (f *fakeConn) ReadMessage() (int, []byte, error) { select {} }
func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
func (f *fakeConn) SetReadDeadline(time.Time) error         { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error        { return nil }
func (f *fakeConn) SetPongHandler(func(appData string) error) {}
func (f *fakeConn) SetReadLimit(int64)                      {}

func TestWebSocketClientDropsWhenQueueFull(t *testing.T) {
	client := NewWebSocketClient(&fakeConn{}, "c1", "a1")

	for i := 0; i < sendQueueSize; i++ {
		if err := client.SendMessage(gin.H{"n": i}); err != nil {
			t.Fatalf("发送失败: %v", err)
		}
	}
	if client.Dropped() != 0 {
		t.Fatalf("队列未满时不应丢弃消息, 实际 %d", client.Dropped())
	}

	client.SendMessage(gin.H{"n": "overflow"})
	if client.Dropped() != 1 {
		t.Errorf("队列已满时应丢弃消息, 实际丢弃 %d", client.Dropped())
	}
	if len(client.send) != sendQueueSize {
		t.Errorf("队列长度应保持 %d, 实际 %d", sendQueueSize, len(client.send))
	}
}

func TestWebSocketClientCloseIsIdempotent(t *testing.T) {
	conn := &fakeConn{}
	client := NewWebSocketClient(conn, "c1", "a1")

	client.Close()
	client.Close()
	if !client.IsClosed() || !conn.closed {
		t.Error("关闭后连接应被关闭")
	}
	if err := client.SendMessage(gin.H{"x": 1}); err != nil || len(client.send) != 0 {
		t.Error("关闭后的发送应被忽略")
	}
}

func TestWebSocketManagerRegisterUnregister(t *testing.T) {
	manager := NewWebSocketManager()
	client := NewWebSocketClient(&fakeConn{}, "c1", "a1")

	manager.registerClient(client)
	if manager.Count("a1") != 1 || manager.Count("") != 1 {
		t.Fatalf("注册后应有 1 个连接, 实际 %d", manager.Count(""))
	}
	status := manager.GetStatus()
	if status["total_connections"] != 1 {
		t.Errorf("状态中的连接数不正确: %v", status["total_connections"])
	}

	manager.unregisterClient(client)
	manager.unregisterClient(client)
	if manager.Count("") != 0 || !client.IsClosed() {
		t.Error("注销后连接应被移除并关闭")
	}
}

func TestWebSocketManagerCleanupExpired(t *testing.T) {
	manager := NewWebSocketManager()
	stale := NewWebSocketClient(&fakeConn{}, "old", "a1")
	fresh := NewWebSocketClient(&fakeConn{}, "new", "a1")
	manager.registerClient(stale)
	manager.registerClient(fresh)

	stale.lastPing.Store(time.Now().Add(-2 * manager.pingTimeout).UnixNano())
	manager.cleanupExpiredConnections()

	if manager.Count("a1") != 1 || !stale.IsClosed() || fresh.IsClosed() {
		t.Error("只有超时的连接应被清理")
	}
}

// ----------------------------------------
// 端到端
// ----------------------------------------

type wsSession struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialSheet(t *testing.T, env *testEnv, actorID string) *wsSession {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/actors/" + actorID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("连接失败: %v (状态码 %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsSession{t: t, conn: conn}
}

func (s *wsSession) send(msg inboundMessage) {
	s.t.Helper()
	if err := s.conn.WriteJSON(msg); err != nil {
		s.t.Fatalf("发送失败: %v", err)
	}
}

// waitFor 读取消息直到 match 返回 true
func (s *wsSession) waitFor(what string, match func(sheet.Outbound) bool) sheet.Outbound {
	s.t.Helper()
	s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.t.Fatalf("等待 %s 时读取失败: %v", what, err)
		}
		var msg sheet.Outbound
		if err := json.Unmarshal(data, &msg); err != nil {
			s.t.Fatalf("解析消息失败: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func TestActorWebSocketSession(t *testing.T) {
	env := newTestEnv(t)
	actor := env.createActor(t, "Ada")
	ws := dialSheet(t, env, actor.ID)

	first := ws.waitFor("初次渲染", func(m sheet.Outbound) bool { return m.Type == sheet.MsgRender })
	if !strings.Contains(first.HTML, `data-actor-id="`+actor.ID+`"`) || first.Scroll != 0 {
		t.Errorf("初次渲染不正确: scroll=%d", first.Scroll)
	}

	ws.send(inboundMessage{Type: "action", Action: "createItem", Target: sheet.ActionTarget{Type: "weapon"}})
	ws.waitFor("新物品", func(m sheet.Outbound) bool {
		return m.Type == sheet.MsgRender && strings.Contains(m.HTML, "New Weapon")
	})

	ws.send(inboundMessage{Type: "action", Action: "rollLuck"})
	luck := ws.waitFor("运气骰", func(m sheet.Outbound) bool { return m.Type == sheet.MsgChat })
	if luck.Chat == nil || luck.Chat.Flavor != "Luck" || luck.Chat.ActorID != actor.ID {
		t.Errorf("聊天消息不正确: %+v", luck.Chat)
	}

	ws.send(inboundMessage{Type: "tab", Tab: "items"})
	tab := ws.waitFor("标签切换", func(m sheet.Outbound) bool { return m.Type == sheet.MsgPatch })
	for _, p := range tab.Patches {
		if p.Op != sheet.PatchToggleClass {
			t.Errorf("标签切换只应修改 class: %+v", p)
		}
	}

	ws.send(inboundMessage{Type: "action", Action: "fly"})
	note := ws.waitFor("错误提示", func(m sheet.Outbound) bool { return m.Type == sheet.MsgNotify })
	if note.Level != "error" || !strings.Contains(note.Message, "fly") {
		t.Errorf("未知动作应提示错误: %+v", note)
	}

	if env.manager.Count(actor.ID) != 1 {
		t.Errorf("管理器中应有 1 个连接, 实际 %d", env.manager.Count(actor.ID))
	}
}

func TestActorWebSocketItemEditor(t *testing.T) {
	env := newTestEnv(t)
	actor := env.createActor(t, "Ada")
	w, resp := env.do(t, http.MethodPost, "/api/actors/"+actor.ID+"/items", map[string]any{
		"items": []map[string]any{{"name": "Lantern", "type": "item"}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("创建物品失败: %d", w.Code)
	}
	var items []struct{ ID string }
	json.Unmarshal(resp.Data, &items)
	itemID := items[0].ID

	ws := dialSheet(t, env, actor.ID)
	ws.waitFor("初次渲染", func(m sheet.Outbound) bool { return m.Type == sheet.MsgRender })

	ws.send(inboundMessage{Type: "action", Action: "editItem", Target: sheet.ActionTarget{ItemID: itemID}})
	dialog := ws.waitFor("编辑器", func(m sheet.Outbound) bool { return m.Type == sheet.MsgDialog })
	if dialog.ItemID != itemID {
		t.Fatalf("编辑器物品不正确: %s", dialog.ItemID)
	}

	ws.send(inboundMessage{Type: "item_form", ItemID: itemID, Form: sheet.FormInput{Name: "system.equipped", Type: "checkbox", Checked: true}})
	ws.send(inboundMessage{Type: "item_close", ItemID: itemID})

	// 编辑期间的变更不触发整页渲染，关闭后只推送局部补丁
	msg := ws.waitFor("局部更新", func(m sheet.Outbound) bool {
		if m.Type == sheet.MsgRender {
			t.Error("编辑器打开期间不应整页渲染")
		}
		return m.Type == sheet.MsgPatch
	})
	if len(msg.Patches) == 0 || !strings.Contains(msg.Patches[0].HTML, "<b>Lantern</b>") {
		t.Errorf("局部更新应加粗已装备物品: %+v", msg.Patches)
	}
}

func TestActorWebSocketUnknownActor(t *testing.T) {
	env := newTestEnv(t)
	w, resp := env.do(t, http.MethodGet, "/ws/actors/nobody", nil)
	if w.Code != http.StatusNotFound || resp.Error == nil {
		t.Errorf("不存在的角色应返回 404, 实际 %d", w.Code)
	}
}
