package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/BastionSheet/internal/app"
	"github.com/Corphon/BastionSheet/internal/chat"
	"github.com/Corphon/BastionSheet/internal/config"
	"github.com/Corphon/BastionSheet/internal/di"
	"github.com/Corphon/BastionSheet/internal/models"
)

type testEnv struct {
	router    *gin.Engine
	container *di.Container
	manager   *WebSocketManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Port:        "0",
		DataDir:     filepath.Join(dir, "data"),
		LogDir:      filepath.Join(dir, "logs"),
		StoreDriver: "file",
	}

	container := di.NewContainer()
	if err := app.InitServices(context.Background(), cfg, container); err != nil {
		t.Fatalf("初始化服务失败: %v", err)
	}
	manager := NewWebSocketManager()
	manager.Start()
	container.Register(di.ServiceWebSocket, manager)
	t.Cleanup(func() {
		manager.Stop()
		app.Shutdown(container)
	})

	router, err := SetupRouter(container)
	if err != nil {
		t.Fatalf("设置路由失败: %v", err)
	}
	return &testEnv{router: router, container: container, manager: manager}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("解析响应失败: %v\n%s", err, w.Body.String())
		}
	}
	return w, env
}

func (e *testEnv) createActor(t *testing.T, name string) *models.Actor {
	t.Helper()
	w, env := e.do(t, http.MethodPost, "/api/actors", CreateActorRequest{Name: name})
	if w.Code != http.StatusCreated || !env.Success {
		t.Fatalf("创建角色失败: %d %s", w.Code, w.Body.String())
	}
	var actor models.Actor
	if err := json.Unmarshal(env.Data, &actor); err != nil {
		t.Fatal(err)
	}
	return &actor
}

func TestActorCRUD(t *testing.T) {
	env := newTestEnv(t)
	actor := env.createActor(t, "Ada")
	if actor.ID == "" || actor.Name != "Ada" {
		t.Fatalf("角色数据不正确: %+v", actor)
	}

	w, resp := env.do(t, http.MethodGet, "/api/actors/"+actor.ID, nil)
	if w.Code != http.StatusOK || !resp.Success {
		t.Fatalf("获取角色失败: %d", w.Code)
	}

	w, resp = env.do(t, http.MethodPatch, "/api/actors/"+actor.ID, UpdateFieldsRequest{
		Fields: map[string]any{"system.hp.max": 6, "system.hp.value": 4},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("更新角色失败: %d %s", w.Code, w.Body.String())
	}
	var updated models.Actor
	json.Unmarshal(resp.Data, &updated)
	if updated.System.HP.Value != 4 || updated.System.HP.Max != 6 {
		t.Errorf("生命值未更新: %+v", updated.System.HP)
	}

	w, resp = env.do(t, http.MethodGet, "/api/actors", nil)
	var list []models.Actor
	json.Unmarshal(resp.Data, &list)
	if w.Code != http.StatusOK || len(list) != 1 {
		t.Errorf("列表应有 1 个角色, 实际 %d", len(list))
	}

	w, _ = env.do(t, http.MethodDelete, "/api/actors/"+actor.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("删除角色失败: %d", w.Code)
	}
	w, resp = env.do(t, http.MethodGet, "/api/actors/"+actor.ID, nil)
	if w.Code != http.StatusNotFound || resp.Error == nil || resp.Error.Code != "NOT_FOUND" {
		t.Errorf("删除后应返回 404 NOT_FOUND, 实际 %d %+v", w.Code, resp.Error)
	}
}

func TestActorValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	actor := env.createActor(t, "Ada")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"empty name", http.MethodPost, "/api/actors", CreateActorRequest{Name: " "}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown path", http.MethodPatch, "/api/actors/" + actor.ID, UpdateFieldsRequest{Fields: map[string]any{"system.mana": 3}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"derived path", http.MethodPatch, "/api/actors/" + actor.ID, UpdateFieldsRequest{Fields: map[string]any{"system.armour": 3}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"type mismatch", http.MethodPatch, "/api/actors/" + actor.ID, UpdateFieldsRequest{Fields: map[string]any{"system.hp.value": "lots"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing actor", http.MethodPatch, "/api/actors/nobody", UpdateFieldsRequest{Fields: map[string]any{"name": "x"}}, http.StatusNotFound, "NOT_FOUND"},
		{"no items", http.MethodPost, "/api/actors/" + actor.ID + "/items", CreateItemsRequest{}, http.StatusBadRequest, ErrorBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := env.do(t, tt.method, tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("状态码应为 %d, 实际 %d: %s", tt.status, w.Code, w.Body.String())
			}
			if resp.Success || resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("错误代码应为 %s, 实际 %+v", tt.code, resp.Error)
			}
		})
	}
}

func TestItemEndpoints(t *testing.T) {
	env := newTestEnv(t)
	actor := env.createActor(t, "Ada")
	base := "/api/actors/" + actor.ID + "/items"

	w, resp := env.do(t, http.MethodPost, base, CreateItemsRequest{Items: []models.ItemTemplate{
		{Name: "Plate Armor", Type: "armour", System: &models.ItemSystem{Quantity: 1, Armour: 4}},
		{Name: "Lantern", Type: "item"},
	}})
	if w.Code != http.StatusCreated {
		t.Fatalf("创建物品失败: %d %s", w.Code, w.Body.String())
	}
	var items []models.Item
	json.Unmarshal(resp.Data, &items)
	if len(items) != 2 || items[1].System.Quantity != 1 {
		t.Fatalf("物品数据不正确: %+v", items)
	}

	w, _ = env.do(t, http.MethodPatch, base+"/"+items[0].ID, UpdateFieldsRequest{Fields: map[string]any{"system.equipped": true}})
	if w.Code != http.StatusOK {
		t.Fatalf("更新物品失败: %d %s", w.Code, w.Body.String())
	}

	_, resp = env.do(t, http.MethodGet, "/api/actors/"+actor.ID, nil)
	var got models.Actor
	json.Unmarshal(resp.Data, &got)
	if got.System.Armour != 3 {
		t.Errorf("装备护甲后总护甲应受上限 3 限制, 实际 %d", got.System.Armour)
	}

	w, _ = env.do(t, http.MethodPatch, base+"/"+items[1].ID, UpdateFieldsRequest{Fields: map[string]any{"system.quantity": -1}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("负数数量应返回 400, 实际 %d", w.Code)
	}

	w, _ = env.do(t, http.MethodDelete, base+"/"+items[1].ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("删除物品失败: %d", w.Code)
	}
	w, _ = env.do(t, http.MethodDelete, base+"/"+items[1].ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("重复删除应返回 404, 实际 %d", w.Code)
	}
}

func TestRollEndpoint(t *testing.T) {
	env := newTestEnv(t)
	actor := env.createActor(t, "Ada")
	path := "/api/actors/" + actor.ID + "/rolls"

	w, resp := env.do(t, http.MethodPost, path, RollRequest{Ability: "str"})
	if w.Code != http.StatusCreated {
		t.Fatalf("能力豁免失败: %d %s", w.Code, w.Body.String())
	}
	var msg chat.Message
	json.Unmarshal(resp.Data, &msg)
	if msg.Flavor != "STR save" || msg.Success == nil || msg.Total < 1 || msg.Total > 20 {
		t.Errorf("豁免结果不正确: %+v", msg)
	}

	w, resp = env.do(t, http.MethodPost, path, RollRequest{Formula: "2d6+@gold", Flavor: "Pistol"})
	if w.Code != http.StatusCreated {
		t.Fatalf("公式掷骰失败: %d %s", w.Code, w.Body.String())
	}
	json.Unmarshal(resp.Data, &msg)
	if msg.Total < 2 || msg.Total > 12 || len(msg.Dice) != 2 {
		t.Errorf("公式结果不正确: %+v", msg)
	}

	if w, _ = env.do(t, http.MethodPost, path, RollRequest{Luck: true}); w.Code != http.StatusCreated {
		t.Errorf("运气骰失败: %d", w.Code)
	}
	if w, _ = env.do(t, http.MethodPost, path, RollRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("空请求应返回 400, 实际 %d", w.Code)
	}
	if w, _ = env.do(t, http.MethodPost, path, RollRequest{Formula: "2d"}); w.Code != http.StatusBadRequest {
		t.Errorf("无效公式应返回 400, 实际 %d", w.Code)
	}

	w, resp = env.do(t, http.MethodGet, "/api/actors/"+actor.ID+"/chat", nil)
	var history []chat.Message
	json.Unmarshal(resp.Data, &history)
	if w.Code != http.StatusOK || len(history) != 3 {
		t.Errorf("聊天记录应有 3 条, 实际 %d", len(history))
	}
}

func TestPagesAndStatic(t *testing.T) {
	env := newTestEnv(t)
	actor := env.createActor(t, "Ada <Lovelace>")

	w, _ := env.do(t, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/actors/"+actor.ID) {
		t.Errorf("首页应列出角色: %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "<Lovelace>") {
		t.Error("角色名应被转义")
	}

	w, _ = env.do(t, http.MethodGet, "/actors/"+actor.ID, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `data-actor-id="`+actor.ID+`"`) {
		t.Errorf("角色页不正确: %d", w.Code)
	}

	if w, _ = env.do(t, http.MethodGet, "/actors/nobody", nil); w.Code != http.StatusNotFound {
		t.Errorf("不存在的角色页应返回 404, 实际 %d", w.Code)
	}

	for _, asset := range []string{"/static/sheet.js", "/static/sheet.css", "/static/mystery-man.svg"} {
		if w, _ = env.do(t, http.MethodGet, asset, nil); w.Code != http.StatusOK {
			t.Errorf("静态文件 %s 返回 %d", asset, w.Code)
		}
	}

	w, _ = env.do(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("健康检查失败: %d", w.Code)
	}
}

func TestRequestIDAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	req.Header.Set(requestIDHeader, "req-42")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Header().Get(requestIDHeader) != "req-42" {
		t.Errorf("应沿用客户端的请求ID, 实际 %q", w.Header().Get(requestIDHeader))
	}
	var resp envelope
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.RequestID != "req-42" || !resp.Success {
		t.Errorf("响应中的请求ID不正确: %+v", resp)
	}

	w, resp = env.do(t, http.MethodGet, "/api/ws/status", nil)
	if w.Code != http.StatusOK || w.Header().Get(requestIDHeader) == "" {
		t.Errorf("应生成请求ID: %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "100" {
		t.Errorf("API 应带限流头, 实际 %q", w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.do(t, http.MethodOptions, "/api/actors", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("预检请求应返回 204, 实际 %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), "PATCH") {
		t.Error("应允许 PATCH")
	}
}
