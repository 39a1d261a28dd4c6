package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/stageflow/api/handlers"
	"github.com/BaSui01/stageflow/calendar"
	"github.com/BaSui01/stageflow/config"
	"github.com/BaSui01/stageflow/debounce"
	"github.com/BaSui01/stageflow/engine"
	"github.com/BaSui01/stageflow/internal/cache"
	"github.com/BaSui01/stageflow/internal/database"
	"github.com/BaSui01/stageflow/internal/metrics"
	"github.com/BaSui01/stageflow/internal/server"
	"github.com/BaSui01/stageflow/internal/telemetry"
	llmfactory "github.com/BaSui01/stageflow/llm/factory"
	"github.com/BaSui01/stageflow/messaging"
	"github.com/BaSui01/stageflow/rag"
	"github.com/BaSui01/stageflow/store"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装并运行完整服务：存储、引擎、防抖器、HTTP 与指标端口
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 基础设施
	pool         *database.PoolManager
	cacheManager *cache.Manager
	telemetry    *telemetry.Providers
	collector    *metrics.Collector

	// 领域组件
	store     *store.Store
	engine    *engine.Engine
	debouncer *debounce.Debouncer
	sender    messaging.Sender

	// Handlers
	healthHandler  *handlers.HealthHandler
	webhookHandler *handlers.WebhookHandler
	messageHandler *handlers.MessageHandler
	agentHandler   *handlers.AgentHandler

	// 生命周期
	group             *server.Group
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers, db *gorm.DB) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		telemetry: otelProviders,
	}
	if err := s.init(db); err != nil {
		return nil, err
	}
	return s, nil
}

// init 按依赖顺序组装全部组件
func (s *Server) init(db *gorm.DB) error {
	s.collector = metrics.NewCollector("stageflow", s.logger)

	pool, err := database.NewPoolManager(db, database.PoolConfig{
		MaxIdleConns:        s.cfg.Database.MaxIdleConns,
		MaxOpenConns:        s.cfg.Database.MaxOpenConns,
		ConnMaxLifetime:     s.cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:     database.DefaultPoolConfig().ConnMaxIdleTime,
		HealthCheckInterval: database.DefaultPoolConfig().HealthCheckInterval,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("init database pool: %w", err)
	}
	s.pool = pool
	s.store = store.NewStore(pool.DB(), s.logger)

	// Redis 可选：不可达时检索退化为直查数据库
	if s.cfg.Redis.Addr != "" {
		manager, err := cache.NewManager(cache.Config{
			Addr:     s.cfg.Redis.Addr,
			Password: s.cfg.Redis.Password,
			DB:       s.cfg.Redis.DB,
		}, s.logger)
		if err != nil {
			s.logger.Warn("redis not available, retrieval cache disabled", zap.Error(err))
		} else {
			s.cacheManager = manager
		}
	}

	registry, err := llmfactory.NewRegistryFromConfig(llmfactory.RegistryConfig{
		Default: s.cfg.LLM.DefaultProvider,
		Providers: map[string]llmfactory.ProviderConfig{
			s.cfg.LLM.DefaultProvider: {
				APIKey:  s.cfg.LLM.APIKey,
				BaseURL: s.cfg.LLM.BaseURL,
				Timeout: s.cfg.LLM.Timeout,
			},
		},
	}, s.logger)
	if err != nil {
		return fmt.Errorf("init provider registry: %w", err)
	}

	var retriever engine.Retriever = rag.NewKeywordRetriever(s.store, s.cfg.Engine.RetrievalLimit, s.logger)
	if s.cacheManager != nil {
		retriever = rag.NewCachedRetriever(retriever, s.cacheManager, s.collector, 0, s.logger)
	}

	eng, err := engine.New(engine.Options{
		Store:     s.store,
		Registry:  registry,
		Retriever: retriever,
		Calendar:  calendar.NewInMemoryService(s.logger),
		Metrics:   s.collector,
		Logger:    s.logger,
		Config: engine.Config{
			Engine:   s.cfg.Engine,
			Calendar: s.cfg.Calendar,
		},
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	s.engine = eng

	s.sender = messaging.NewLogSender(s.logger)
	s.debouncer = debounce.New(debounce.Config{
		QuietWindow:  s.cfg.Debounce.QuietWindow,
		FlushTimeout: s.cfg.Engine.TurnTimeout,
	}, eng, s.sender, s.collector, s.logger)

	s.initHandlers()
	return nil
}

// initHandlers 初始化全部 handlers 与健康检查
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	if s.cacheManager != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", s.cacheManager.Ping))
	}

	s.webhookHandler = handlers.NewWebhookHandler(s.debouncer, s.logger)
	s.messageHandler = handlers.NewMessageHandler(s.engine, s.logger)
	s.agentHandler = handlers.NewAgentHandler(s.store, s.logger)
}

// =============================================================================
// 🌐 路由与启动
// =============================================================================

// buildRoutes 注册全部 HTTP 路由
func (s *Server) buildRoutes() http.Handler {
	mux := http.NewServeMux()

	// 健康检查与版本
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 入站消息（防抖缓冲，异步回复）
	mux.HandleFunc("POST /webhook/messages", s.webhookHandler.HandleInbound)

	// 同步处理（测试与内部工具）
	mux.HandleFunc("POST /api/v1/messages/process", s.messageHandler.HandleProcess)

	// 代理管理
	mux.HandleFunc("POST /api/v1/agents", s.agentHandler.HandleCreate)
	mux.HandleFunc("GET /api/v1/agents", s.agentHandler.HandleList)
	mux.HandleFunc("GET /api/v1/agents/{id}", s.agentHandler.HandleGet)
	mux.HandleFunc("POST /api/v1/agents/{id}/knowledge", s.agentHandler.HandleCreateKnowledge)
	mux.HandleFunc("GET /api/v1/agents/{id}/knowledge", s.agentHandler.HandleListKnowledge)
	mux.HandleFunc("GET /api/v1/agents/{id}/sessions/{thread}", s.agentHandler.HandleGetSession)

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version"}
	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	}
	if len(s.cfg.Server.APIKeys) > 0 {
		middlewares = append(middlewares, APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger))
	}
	if s.cfg.Server.JWTSecret != "" {
		middlewares = append(middlewares, JWTAuth(s.cfg.Server.JWTSecret, skipAuthPaths, s.logger))
	}

	return Chain(mux, middlewares...)
}

// Run 启动业务端口与指标端口并阻塞到退出
func (s *Server) Run(ctx context.Context) error {
	base := server.DefaultConfig()
	appConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  base.MaxHeaderBytes,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	appManager := server.NewManager("app", s.buildRoutes(), appConfig, s.logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsConfig := appConfig
	metricsConfig.Addr = fmt.Sprintf(":%d", s.cfg.Server.MetricsPort)
	metricsManager := server.NewManager("metrics", metricsMux, metricsConfig, s.logger)

	s.group = server.NewGroup(s.logger, appManager, metricsManager)

	s.logger.Info("all servers starting",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort))

	err := s.group.Run(ctx)
	s.shutdownComponents()
	return err
}

// shutdownComponents 关闭 HTTP 之外的组件：防抖器先排空在途批次，
// 然后释放缓存、数据库与遥测资源。
func (s *Server) shutdownComponents() {
	s.logger.Info("draining in-flight work")

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.debouncer != nil {
		s.debouncer.Close()
	}
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("cache shutdown error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("database shutdown error", zap.Error(err))
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(context.Background()); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}
