// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfigFile 把 YAML 内容写到临时目录并返回路径
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, 2250*time.Millisecond, cfg.Debounce.QuietWindow)

	assert.Equal(t, 20, cfg.Engine.HistoryWindow)
	assert.Equal(t, 3, cfg.Engine.RetrievalLimit)

	assert.Equal(t, "America/Sao_Paulo", cfg.Calendar.Timezone)
	assert.Equal(t, "-03:00", cfg.Calendar.UTCOffset)
	assert.Equal(t, 45*time.Minute, cfg.Calendar.MeetingDuration)
	assert.Equal(t, 10, cfg.Calendar.DefaultHour)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)

	assert.Equal(t, "openai", cfg.LLM.DefaultProvider)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 2250*time.Millisecond, cfg.Debounce.QuietWindow)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http_port: 8888
  read_timeout: 60s

debounce:
  quiet_window: 3s

calendar:
  timezone: "America/Fortaleza"
  default_hour: 14

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, 3*time.Second, cfg.Debounce.QuietWindow)
	assert.Equal(t, "America/Fortaleza", cfg.Calendar.Timezone)
	assert.Equal(t, 14, cfg.Calendar.DefaultHour)
	// 未在 YAML 中出现的字段保持默认值
	assert.Equal(t, 45*time.Minute, cfg.Calendar.MeetingDuration)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("STAGEFLOW_SERVER_HTTP_PORT", "7777")
	t.Setenv("STAGEFLOW_DEBOUNCE_QUIET_WINDOW", "5s")
	t.Setenv("STAGEFLOW_CALENDAR_TIMEZONE", "America/Recife")
	t.Setenv("STAGEFLOW_LLM_DEFAULT_PROVIDER", "anthropic")
	t.Setenv("STAGEFLOW_REDIS_ADDR", "env-redis:6379")
	t.Setenv("STAGEFLOW_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.Debounce.QuietWindow)
	assert.Equal(t, "America/Recife", cfg.Calendar.Timezone)
	assert.Equal(t, "anthropic", cfg.LLM.DefaultProvider)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http_port: 8888
calendar:
  timezone: "America/Bahia"
  default_hour: 9
`)
	t.Setenv("STAGEFLOW_SERVER_HTTP_PORT", "9999")
	t.Setenv("STAGEFLOW_CALENDAR_TIMEZONE", "America/Manaus")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	// 环境变量压过 YAML，YAML 未被覆盖的字段保留
	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "America/Manaus", cfg.Calendar.Timezone)
	assert.Equal(t, 9, cfg.Calendar.DefaultHour)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	t.Setenv("MYAPP_LOG_LEVEL", "error")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("STAGEFLOW_SERVER_HTTP_PORT", "80")

	_, err := NewLoader().
		WithValidator(func(cfg *Config) error {
			if cfg.Server.HTTPPort < 1024 {
				return assert.AnError
			}
			return nil
		}).
		Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	// 文件不存在不算错误，退回默认值
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/config.yaml").
		Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http_port: [invalid
  this is not valid yaml
`)
	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid default config", func(c *Config) {}, false},
		{"invalid HTTP port (negative)", func(c *Config) { c.Server.HTTPPort = -1 }, true},
		{"invalid HTTP port (too large)", func(c *Config) { c.Server.HTTPPort = 70000 }, true},
		{"invalid quiet window", func(c *Config) { c.Debounce.QuietWindow = 0 }, true},
		{"invalid history window", func(c *Config) { c.Engine.HistoryWindow = 0 }, true},
		{"invalid default hour", func(c *Config) { c.Calendar.DefaultHour = 25 }, true},
		{"invalid meeting duration", func(c *Config) { c.Calendar.MeetingDuration = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	postgres := DatabaseConfig{
		Driver:   "postgres",
		Host:     "localhost",
		Port:     5432,
		User:     "user",
		Password: "pass",
		Name:     "dbname",
		SSLMode:  "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		postgres.DSN())

	sqlite := DatabaseConfig{Driver: "sqlite", Name: "/path/to/db.sqlite"}
	assert.Equal(t, "/path/to/db.sqlite", sqlite.DSN())

	unknown := DatabaseConfig{Driver: "unknown"}
	assert.Equal(t, "", unknown.DSN())
}

func TestMustLoad_Success(t *testing.T) {
	path := writeConfigFile(t, "server:\n  http_port: 8080\n")

	assert.NotPanics(t, func() {
		cfg := MustLoad(path)
		assert.Equal(t, 8080, cfg.Server.HTTPPort)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	path := writeConfigFile(t, "invalid: [yaml")

	assert.Panics(t, func() {
		MustLoad(path)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("STAGEFLOW_LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}
