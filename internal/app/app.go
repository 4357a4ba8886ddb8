// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/Corphon/BastionSheet/internal/chat"
	"github.com/Corphon/BastionSheet/internal/config"
	"github.com/Corphon/BastionSheet/internal/di"
	"github.com/Corphon/BastionSheet/internal/dice"
	"github.com/Corphon/BastionSheet/internal/services"
	"github.com/Corphon/BastionSheet/internal/sheet"
	"github.com/Corphon/BastionSheet/internal/storage"
	"github.com/Corphon/BastionSheet/internal/storage/postgres"
	"github.com/Corphon/BastionSheet/internal/storage/sqlite"
	"github.com/Corphon/BastionSheet/internal/utils"
)

// OpenBackend 按配置的驱动打开文档存储
func OpenBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.StoreDriver {
	case "file", "":
		return storage.NewFileStorage(cfg.DataDir)
	case "sqlite":
		return sqlite.New(ctx, cfg.StoreDSN)
	case "postgres":
		return postgres.New(ctx, cfg.StoreDSN)
	default:
		return nil, fmt.Errorf("不支持的存储驱动: %s", cfg.StoreDriver)
	}
}

// InitLogging 按配置设置全局日志级别和日志文件
func InitLogging(cfg *config.Config) error {
	level := utils.INFO
	if cfg.DebugMode {
		level = utils.DEBUG
	}
	if err := utils.InitLogger(cfg.LogFile(), level); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	return nil
}

// InitServices 按依赖顺序创建服务并注册到容器
func InitServices(ctx context.Context, cfg *config.Config, container *di.Container) error {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}
	container.Register(di.ServiceConfig, cfg)

	// 1. 规则
	rs, err := config.LoadRuleset(cfg.RulesetFile)
	if err != nil {
		return err
	}
	container.Register(di.ServiceRuleset, rs)

	// 2. 存储
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	container.Register(di.ServiceStore, backend)

	// 3. 文档、掷骰、聊天
	docs := services.NewDocumentService(backend, rs)
	roller := dice.NewRoller(nil)
	chatLog := chat.NewLog(0)
	container.Register(di.ServiceDocuments, docs)
	container.Register(di.ServiceDice, roller)
	container.Register(di.ServiceChat, chatLog)

	// 4. 角色表视图
	renderer, err := sheet.NewRenderer(rs)
	if err != nil {
		return err
	}
	updater, err := sheet.NewUpdater(rs)
	if err != nil {
		return err
	}
	container.Register(di.ServiceSheets, sheet.NewRegistry(sheet.Deps{
		Docs:     docs,
		Renderer: renderer,
		Updater:  updater,
		Roller:   roller,
		Chat:     chatLog,
	}))

	utils.GetLogger().Info("服务初始化完成", utils.Fields{
		"store":    cfg.StoreDriver,
		"system":   rs.System,
		"services": len(container.GetNames()),
	})
	return nil
}

// Shutdown 关闭存储并清空容器，之后可以重新 InitServices
func Shutdown(container *di.Container) error {
	defer container.Clear()

	backend, err := di.Resolve[storage.Backend](container, di.ServiceStore)
	if err != nil {
		return nil
	}
	return backend.Close()
}
