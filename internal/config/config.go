// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Config 存储应用配置
type Config struct {
	Port        string
	DataDir     string
	LogDir      string
	DebugMode   bool
	StoreDriver string // file, sqlite, postgres
	StoreDSN    string
	RulesetFile string // 为空时使用内置规则
}

// Load 从环境变量加载配置（.env 文件可选）
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DataDir:     getEnv("DATA_DIR", "data"),
		LogDir:      getEnv("LOG_DIR", "logs"),
		DebugMode:   getEnvBool("DEBUG_MODE", false),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "file")),
		StoreDSN:    getEnv("STORE_DSN", ""),
		RulesetFile: getEnv("RULESET_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	return cfg, nil
}

// Validate 校验存储驱动与 DSN 组合
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "file":
	case "sqlite":
		if c.StoreDSN == "" {
			c.StoreDSN = "sqlite://" + filepath.ToSlash(filepath.Join(c.DataDir, "bastionsheet.db"))
		}
	case "postgres":
		if c.StoreDSN == "" {
			return fmt.Errorf("postgres 存储需要设置 STORE_DSN")
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.StoreDriver)
	}
	if strings.TrimSpace(c.Port) == "" {
		return fmt.Errorf("端口不能为空")
	}
	return nil
}

// LogFile 返回日志文件路径
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, "bastionsheet.log")
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}
