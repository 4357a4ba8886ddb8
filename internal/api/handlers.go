// internal/api/handlers.go
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/BastionSheet/internal/chat"
	"github.com/Corphon/BastionSheet/internal/errors"
	"github.com/Corphon/BastionSheet/internal/models"
	"github.com/Corphon/BastionSheet/internal/services"
	"github.com/Corphon/BastionSheet/internal/sheet"
	"github.com/Corphon/BastionSheet/internal/utils"
)

// Handler 处理API请求
type Handler struct {
	Docs             *services.DocumentService // 角色文档
	Registry         *sheet.Registry           // 打开的视图
	WebSocketHandler *WebSocketHandler         // WebSocket 处理器
	Response         *ResponseHelper           // 响应助手
}

// NewHandler 创建API处理器
func NewHandler(registry *sheet.Registry, manager *WebSocketManager) *Handler {
	return &Handler{
		Docs:             registry.Deps().Docs,
		Registry:         registry,
		WebSocketHandler: NewWebSocketHandler(manager, registry),
		Response:         NewResponseHelper(),
	}
}

// CreateActorRequest 创建角色
type CreateActorRequest struct {
	Name string `json:"name"`
}

// UpdateFieldsRequest 按字段路径更新，例如 {"fields": {"system.hp.value": 3}}
type UpdateFieldsRequest struct {
	Fields map[string]any `json:"fields"`
}

// CreateItemsRequest 批量创建物品
type CreateItemsRequest struct {
	Items []models.ItemTemplate `json:"items"`
}

// RollRequest 掷骰请求。Ability 非空时为能力豁免，Luck 为运气骰，否则按 Formula 掷骰。
type RollRequest struct {
	Ability string `json:"ability,omitempty"`
	Luck    bool   `json:"luck,omitempty"`
	Formula string `json:"formula,omitempty"`
	Flavor  string `json:"flavor,omitempty"`
}

// ========================================
// 页面
// ========================================

// IndexPage 角色列表页
func (h *Handler) IndexPage(c *gin.Context) {
	actors, err := h.Docs.ListActors(c.Request.Context())
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := h.Registry.Deps().Renderer.Index(c.Writer, actors); err != nil {
		utils.GetLogger().Error("渲染首页失败", utils.Fields{"error": err.Error()})
	}
}

// ActorPage 角色表页面，内容由 WebSocket 推送
func (h *Handler) ActorPage(c *gin.Context) {
	actor, err := h.Docs.GetActor(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := h.Registry.Deps().Renderer.Page(c.Writer, actor); err != nil {
		utils.GetLogger().Error("渲染角色页失败", utils.Fields{"actor_id": actor.ID, "error": err.Error()})
	}
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"open_views": h.Registry.Count(""),
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

// ========================================
// 角色
// ========================================

// ListActors 列出全部角色
func (h *Handler) ListActors(c *gin.Context) {
	actors, err := h.Docs.ListActors(c.Request.Context())
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, actors)
}

// CreateActor 创建角色
func (h *Handler) CreateActor(c *gin.Context) {
	var req CreateActorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}
	actor, err := h.Docs.CreateActor(c.Request.Context(), req.Name)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Created(c, actor)
}

// GetActor 获取角色（含推导数据）
func (h *Handler) GetActor(c *gin.Context) {
	actor, err := h.Docs.GetActor(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, actor)
}

// UpdateActor 按字段路径更新角色
func (h *Handler) UpdateActor(c *gin.Context) {
	var req UpdateFieldsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}
	actor, err := h.Docs.UpdateActor(c.Request.Context(), c.Param("id"), req.Fields)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, actor)
}

// DeleteActor 删除角色
func (h *Handler) DeleteActor(c *gin.Context) {
	if err := h.Docs.DeleteActor(c.Request.Context(), c.Param("id")); err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, nil, "角色已删除")
}

// ========================================
// 物品
// ========================================

// CreateItems 为角色创建物品
func (h *Handler) CreateItems(c *gin.Context) {
	var req CreateItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}
	if len(req.Items) == 0 {
		h.Response.BadRequest(c, "至少需要一个物品")
		return
	}
	items, err := h.Docs.CreateItems(c.Request.Context(), c.Param("id"), req.Items)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Created(c, items)
}

// UpdateItem 按字段路径更新物品
func (h *Handler) UpdateItem(c *gin.Context) {
	var req UpdateFieldsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}
	item, err := h.Docs.UpdateItem(c.Request.Context(), c.Param("id"), c.Param("itemId"), req.Fields)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, item)
}

// DeleteItem 删除物品
func (h *Handler) DeleteItem(c *gin.Context) {
	if err := h.Docs.DeleteItems(c.Request.Context(), c.Param("id"), []string{c.Param("itemId")}); err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, nil, "物品已删除")
}

// ========================================
// 掷骰与聊天
// ========================================

// Roll 为角色掷骰，结果写入聊天记录并推送到打开的视图
func (h *Handler) Roll(c *gin.Context) {
	var req RollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}

	ctx := c.Request.Context()
	actor, err := h.Docs.GetActor(ctx, c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	deps := h.Registry.Deps()
	rs := h.Docs.Ruleset()
	var msg chat.Message
	switch {
	case req.Ability != "":
		msg, err = sheet.RollSave(ctx, deps.Roller, deps.Chat, actor, rs.SaveDie, strings.ToUpper(req.Ability))
	case req.Luck:
		msg, err = sheet.RollLuck(ctx, deps.Roller, deps.Chat, actor, rs.LuckDie)
	case strings.TrimSpace(req.Formula) != "":
		msg, err = sheet.RollFormula(ctx, deps.Roller, deps.Chat, actor, req.Formula, req.Flavor)
	default:
		err = errors.NewValidationError("需要 ability、luck 或 formula", nil)
	}
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Created(c, msg, "掷骰完成")
}

// ChatHistory 角色的聊天记录
func (h *Handler) ChatHistory(c *gin.Context) {
	actorID := c.Param("id")
	if _, err := h.Docs.GetActor(c.Request.Context(), actorID); err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, h.Registry.Deps().Chat.History(actorID))
}

// ========================================
// 运行状态
// ========================================

// Metrics 指标快照
func (h *Handler) Metrics(c *gin.Context) {
	h.Response.Success(c, utils.GetMetricsCollector().GetMetrics())
}

// WebSocketStatus WebSocket 连接状态（调试用）
func (h *Handler) WebSocketStatus(c *gin.Context) {
	status := h.WebSocketHandler.manager.GetStatus()
	status["open_views"] = h.Registry.Count("")
	status["timestamp"] = time.Now().Format(time.RFC3339)
	h.Response.Success(c, status)
}

// ActorWebSocket 角色表 WebSocket
func (h *Handler) ActorWebSocket(c *gin.Context) {
	h.WebSocketHandler.ActorWebSocket(c)
}
