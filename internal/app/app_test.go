package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Corphon/BastionSheet/internal/config"
	"github.com/Corphon/BastionSheet/internal/di"
	"github.com/Corphon/BastionSheet/internal/services"
	"github.com/Corphon/BastionSheet/internal/sheet"
	"github.com/Corphon/BastionSheet/internal/storage"
	"github.com/Corphon/BastionSheet/internal/storage/sqlite"
)

// 测试前的设置工作
func setupTest(t *testing.T, driver string) *config.Config {
	t.Helper()
	tempDir := t.TempDir()
	cfg := &config.Config{
		Port:        "0",
		DataDir:     filepath.Join(tempDir, "data"),
		LogDir:      filepath.Join(tempDir, "logs"),
		StoreDriver: driver,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("配置无效: %v", err)
	}
	return cfg
}

// TestInitServices 测试服务按依赖顺序注册
func TestInitServices(t *testing.T) {
	cfg := setupTest(t, "file")
	container := di.NewContainer()

	if err := InitServices(context.Background(), cfg, container); err != nil {
		t.Fatalf("初始化服务失败: %v", err)
	}
	defer Shutdown(container)

	for _, name := range []string{
		di.ServiceConfig, di.ServiceRuleset, di.ServiceStore, di.ServiceDocuments,
		di.ServiceDice, di.ServiceChat, di.ServiceSheets,
	} {
		if !container.Has(name) {
			t.Errorf("服务未注册: %s", name)
		}
	}

	docs, err := di.Resolve[*services.DocumentService](container, di.ServiceDocuments)
	if err != nil {
		t.Fatalf("获取文档服务失败: %v", err)
	}
	registry, err := di.Resolve[*sheet.Registry](container, di.ServiceSheets)
	if err != nil {
		t.Fatalf("获取视图注册表失败: %v", err)
	}
	if registry.Deps().Docs != docs {
		t.Error("视图与 API 应共享同一个文档服务")
	}

	actor, err := docs.CreateActor(context.Background(), "Ada")
	if err != nil {
		t.Fatalf("创建角色失败: %v", err)
	}
	if len(actor.System.Abilities) != 3 {
		t.Errorf("默认规则应有 3 项能力, 实际 %d", len(actor.System.Abilities))
	}
}

// TestInitServicesSQLite 测试 sqlite 驱动
func TestInitServicesSQLite(t *testing.T) {
	cfg := setupTest(t, "sqlite")
	container := di.NewContainer()

	if err := InitServices(context.Background(), cfg, container); err != nil {
		t.Fatalf("初始化服务失败: %v", err)
	}
	defer Shutdown(container)

	backend, err := di.Resolve[storage.Backend](container, di.ServiceStore)
	if err != nil {
		t.Fatalf("获取存储失败: %v", err)
	}
	if _, ok := backend.(*sqlite.Client); !ok {
		t.Errorf("应使用 sqlite 存储, 实际 %T", backend)
	}
}

// TestInitServicesBadRuleset 测试规则文件不存在
func TestInitServicesBadRuleset(t *testing.T) {
	cfg := setupTest(t, "file")
	cfg.RulesetFile = filepath.Join(t.TempDir(), "missing.yaml")

	if err := InitServices(context.Background(), cfg, di.NewContainer()); err == nil {
		t.Error("规则文件不存在时应返回错误")
	}
}

// TestOpenBackendUnknownDriver 测试未知驱动
func TestOpenBackendUnknownDriver(t *testing.T) {
	cfg := &config.Config{StoreDriver: "mongo", DataDir: t.TempDir()}
	if _, err := OpenBackend(context.Background(), cfg); err == nil {
		t.Error("未知驱动应返回错误")
	}
}

// TestResolveTypeMismatch 测试容器类型检查
func TestResolveTypeMismatch(t *testing.T) {
	container := di.NewContainer()
	container.Register(di.ServiceDocuments, "not a service")

	if _, err := di.Resolve[*services.DocumentService](container, di.ServiceDocuments); err == nil {
		t.Error("类型不匹配应返回错误")
	}
	if _, err := di.Resolve[*services.DocumentService](container, "missing"); err == nil {
		t.Error("未注册的服务应返回错误")
	}
}

// TestShutdownClearsContainer 测试关闭后容器被清空
func TestShutdownClearsContainer(t *testing.T) {
	cfg := setupTest(t, "file")
	container := di.NewContainer()

	if err := InitServices(context.Background(), cfg, container); err != nil {
		t.Fatalf("初始化服务失败: %v", err)
	}
	if err := Shutdown(container); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}
	if names := container.GetNames(); len(names) != 0 {
		t.Errorf("关闭后容器应为空, 实际 %v", names)
	}
	if err := Shutdown(container); err != nil {
		t.Errorf("重复关闭不应报错: %v", err)
	}
}
