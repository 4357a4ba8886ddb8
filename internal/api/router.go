// internal/api/router.go
package api

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/BastionSheet/internal/config"
	"github.com/Corphon/BastionSheet/internal/di"
	"github.com/Corphon/BastionSheet/internal/sheet"
)

//go:embed static
var staticFS embed.FS

// SetupRouter 配置HTTP路由，服务只从容器获取
func SetupRouter(container *di.Container) (*gin.Engine, error) {
	cfg, err := di.Resolve[*config.Config](container, di.ServiceConfig)
	if err != nil {
		return nil, err
	}
	registry, err := di.Resolve[*sheet.Registry](container, di.ServiceSheets)
	if err != nil {
		return nil, err
	}
	manager, err := di.Resolve[*WebSocketManager](container, di.ServiceWebSocket)
	if err != nil {
		return nil, err
	}

	handler := NewHandler(registry, manager)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.DebugMode {
		r.Use(gin.Logger())
	}
	r.Use(requestIDMiddleware())
	r.Use(corsMiddleware())
	r.Use(metricsMiddleware())

	// 静态文件服务
	assets, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("加载静态文件失败: %w", err)
	}
	r.StaticFS("/static", http.FS(assets))

	// ===============================
	// 页面路由
	// ===============================
	r.GET("/", handler.IndexPage)
	r.GET("/actors/:id", handler.ActorPage)
	r.GET("/healthz", handler.Health)

	// WebSocket 支持
	r.GET("/ws/actors/:id", handler.ActorWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(DefaultRateLimit())
	{
		// ===============================
		// 角色相关路由
		// ===============================
		actorsGroup := api.Group("/actors")
		{
			actorsGroup.GET("", handler.ListActors)
			actorsGroup.POST("", handler.CreateActor)
			actorsGroup.GET("/:id", handler.GetActor)
			actorsGroup.PATCH("/:id", handler.UpdateActor)
			actorsGroup.DELETE("/:id", handler.DeleteActor)

			// 物品
			actorsGroup.POST("/:id/items", handler.CreateItems)
			actorsGroup.PATCH("/:id/items/:itemId", handler.UpdateItem)
			actorsGroup.DELETE("/:id/items/:itemId", handler.DeleteItem)

			// 掷骰与聊天
			actorsGroup.POST("/:id/rolls", RollRateLimit(), handler.Roll)
			actorsGroup.GET("/:id/chat", handler.ChatHistory)
		}

		// 运行状态
		api.GET("/metrics", handler.Metrics)
		api.GET("/ws/status", handler.WebSocketStatus)
	}

	return r, nil
}
