// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"github.com/multi-agent/session-bridge/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// HTTP / WebSocket 服务
	ListenAddr string `env:"LISTEN_ADDR" default:":8787"`

	// Runtime (coding-agent 进程) 的 WebSocket 地址
	RuntimeWSURL string `env:"RUNTIME_WS_URL" default:"ws://127.0.0.1:4500"`

	// PostgreSQL (会话转录持久化; 为空时禁用持久化)
	PostgresConnStr        string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema         string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize    int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize    int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`
	PostgresPoolTimeoutSec int    `env:"POSTGRES_POOL_TIMEOUT_SEC" default:"10" min:"1"`

	// 日志 (LOG_ENV: development/production)
	LogEnv string `env:"LOG_ENV" default:"production"`
	LogDir string `env:"LOG_DIR"`

	// 运行时
	GinMode string `env:"GIN_MODE" default:"release"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}
