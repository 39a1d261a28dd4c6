// =============================================================================
// 📦 Stageflow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("STAGEFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 Stageflow 的完整配置结构
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`       // 服务器
	Engine    EngineConfig    `yaml:"engine" env:"ENGINE"`       // 会话引擎
	Debounce  DebounceConfig  `yaml:"debounce" env:"DEBOUNCE"`   // 入站消息防抖
	Calendar  CalendarConfig  `yaml:"calendar" env:"CALENDAR"`   // 日程预约
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`         // 缓存
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`   // 数据库
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`             // 大语言模型
	Log       LogConfig       `yaml:"log" env:"LOG"`             // 日志
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"` // 遥测
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 限流 RPS
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// CORS 允许的来源（空则拒绝跨域请求）
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// API Key 列表（空则不启用认证）
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// JWT 签名密钥（空则不启用 JWT）
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// EngineConfig 会话引擎配置
type EngineConfig struct {
	// 对话历史窗口大小（最近 N 条消息）
	HistoryWindow int `yaml:"history_window" env:"HISTORY_WINDOW"`
	// 单轮处理超时
	TurnTimeout time.Duration `yaml:"turn_timeout" env:"TURN_TIMEOUT"`
	// 知识检索返回条数
	RetrievalLimit int `yaml:"retrieval_limit" env:"RETRIEVAL_LIMIT"`
}

// DebounceConfig 入站消息防抖配置
type DebounceConfig struct {
	// 静默窗口：自最后一条消息起等待多久才触发处理
	QuietWindow time.Duration `yaml:"quiet_window" env:"QUIET_WINDOW"`
}

// CalendarConfig 日程预约配置
type CalendarConfig struct {
	// IANA 时区标识，用于会议时间标注
	Timezone string `yaml:"timezone" env:"TIMEZONE"`
	// 固定 UTC 偏移标签（如 "-03:00"），按原样写入事件时间
	UTCOffset string `yaml:"utc_offset" env:"UTC_OFFSET"`
	// 会议时长
	MeetingDuration time.Duration `yaml:"meeting_duration" env:"MEETING_DURATION"`
	// 未指定时间时的默认开始时刻（24 小时制小时数）
	DefaultHour int `yaml:"default_hour" env:"DEFAULT_HOUR"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置。Driver 取 postgres 或 sqlite，
// sqlite 时 Name 即文件路径，其余连接字段忽略。
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	DefaultProvider string        `yaml:"default_provider" env:"DEFAULT_PROVIDER"`
	APIKey          string        `yaml:"api_key" env:"API_KEY"`
	BaseURL         string        `yaml:"base_url" env:"BASE_URL"`
	Timeout         time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries      int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format           string   `yaml:"format" env:"FORMAT"` // json, console
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "STAGEFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 按优先级加载配置: 默认值 → YAML 文件 → 环境变量 → 验证器
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.mergeYAMLFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := l.applyEnvOverrides(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation: %w", err)
		}
	}
	return cfg, nil
}

// mergeYAMLFile 把 YAML 文件叠加到 cfg 上，文件不存在时静默跳过
func (l *Loader) mergeYAMLFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", l.configPath, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", l.configPath, err)
	}
	return nil
}

// applyEnvOverrides 按 env tag 递归覆盖结构体字段。
// 嵌套结构体的键名逐层拼接，如 STAGEFLOW_SERVER_HTTP_PORT。
func (l *Loader) applyEnvOverrides(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag

		if field.Kind() == reflect.Struct {
			if err := l.applyEnvOverrides(field, key); err != nil {
				return err
			}
			continue
		}

		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		if err := assignFromString(field, raw); err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
	}
	return nil
}

// assignFromString 把环境变量字符串解析成字段类型。
// Duration 按 time.ParseDuration，字符串切片按逗号分隔。
func assignFromString(field reflect.Value, raw string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(raw, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic，仅限程序启动路径使用
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 只用默认值与环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 做基础的配置健全性检查
func (c *Config) Validate() error {
	var errs []string
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	check(c.Server.HTTPPort > 0 && c.Server.HTTPPort <= 65535, "invalid HTTP port")
	check(c.Debounce.QuietWindow > 0, "debounce quiet_window must be positive")
	check(c.Engine.HistoryWindow > 0, "history_window must be positive")
	check(c.Calendar.DefaultHour >= 0 && c.Calendar.DefaultHour <= 23, "default_hour must be between 0 and 23")
	check(c.Calendar.MeetingDuration > 0, "meeting_duration must be positive")

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
