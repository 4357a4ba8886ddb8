// cmd/bastionsheet/serve.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Corphon/BastionSheet/internal/api"
	"github.com/Corphon/BastionSheet/internal/app"
	"github.com/Corphon/BastionSheet/internal/config"
	"github.com/Corphon/BastionSheet/internal/di"
)

func serveCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动网页角色表服务器",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "监听端口，默认读取 PORT")
	return cmd
}

func runServe(port string) error {
	log.Println("🚀 启动 BastionSheet 服务器...")

	cfg, container, err := bootstrap(context.Background(), port)
	if err != nil {
		return err
	}
	defer app.Shutdown(container)

	router, manager, err := setupWeb(container)
	if err != nil {
		return err
	}
	defer manager.Stop()

	log.Printf("🌐 服务器启动在端口 %s", cfg.Port)
	log.Printf("🔗 访问地址: http://localhost:%s", cfg.Port)

	return setupGracefulShutdown(router, cfg.Port)
}

// bootstrap 加载配置并按依赖顺序初始化服务
func bootstrap(ctx context.Context, port string) (*config.Config, *di.Container, error) {
	// 1. 加载基础配置
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if port != "" {
		cfg.Port = port
	}
	log.Printf("✅ 基础配置加载完成，存储驱动: %s", cfg.StoreDriver)

	// 2. 日志
	if err := app.InitLogging(cfg); err != nil {
		return nil, nil, err
	}

	// 3. 初始化所有服务（按依赖顺序）
	container := di.GetContainer()
	if err := app.InitServices(ctx, cfg, container); err != nil {
		return nil, nil, fmt.Errorf("初始化服务失败: %w", err)
	}
	log.Printf("✅ 所有服务初始化完成，服务数量: %d", len(container.GetNames()))

	if err := performHealthCheck(container); err != nil {
		log.Printf("⚠️ 服务健康检查警告: %v", err)
	}
	return cfg, container, nil
}

// setupWeb 启动 WebSocket 管理器并设置路由
func setupWeb(container *di.Container) (*gin.Engine, *api.WebSocketManager, error) {
	manager := api.NewWebSocketManager()
	manager.Start()
	container.Register(di.ServiceWebSocket, manager)

	router, err := api.SetupRouter(container)
	if err != nil {
		manager.Stop()
		return nil, nil, fmt.Errorf("❌ 设置路由失败: %w", err)
	}
	log.Println("✅ 路由设置完成")
	return router, manager, nil
}

// 健康检查函数
func performHealthCheck(container *di.Container) error {
	criticalServices := []string{di.ServiceConfig, di.ServiceStore, di.ServiceDocuments, di.ServiceChat, di.ServiceSheets}

	for _, serviceName := range criticalServices {
		if !container.Has(serviceName) {
			return fmt.Errorf("关键服务未注册: %s", serviceName)
		}
	}

	log.Println("✅ 服务健康检查通过")
	return nil
}

// 优雅关闭函数
func setupGracefulShutdown(router *gin.Engine, port string) error {
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 等待中断信号以进行优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("❌ 启动服务器失败: %w", err)
	case <-quit:
	}

	log.Println("🛑 正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("❌ 服务器强制关闭: %w", err)
	}

	log.Println("✅ 服务器优雅关闭完成")
	return nil
}
