package config

import "time"

// DefaultConfig 返回全部配置项的合理默认值。
// 默认面向巴西市场部署：圣保罗时区、UTC-3 报价时间。
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9091,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    100,
			RateLimitBurst:  200,
		},
		Engine: EngineConfig{
			HistoryWindow:  20,
			TurnTimeout:    2 * time.Minute,
			RetrievalLimit: 3,
		},
		// 静默窗口 2.25 秒：足以聚合碎片化输入，又不至于让用户等待过久
		Debounce: DebounceConfig{
			QuietWindow: 2250 * time.Millisecond,
		},
		Calendar: CalendarConfig{
			Timezone:        "America/Sao_Paulo",
			UTCOffset:       "-03:00",
			MeetingDuration: 45 * time.Minute,
			DefaultHour:     10,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "stageflow",
			Name:            "stageflow",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Timeout:         2 * time.Minute,
			MaxRetries:      3,
		},
		Log: LogConfig{
			Level:            "info",
			Format:           "json",
			OutputPaths:      []string{"stdout"},
			EnableCaller:     true,
			EnableStacktrace: false,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "stageflow",
			SampleRate:   0.1,
		},
	}
}
