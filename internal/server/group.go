package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 👥 服务器编组
// =============================================================================

// Group 把多个服务器管理器编组运行：任意一个出错或收到终止信号时,
// 整组一起优雅关闭。
type Group struct {
	managers []*Manager
	logger   *zap.Logger
}

// NewGroup 创建服务器编组
func NewGroup(logger *zap.Logger, managers ...*Manager) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{
		managers: managers,
		logger:   logger.With(zap.String("component", "server_group")),
	}
}

// Run 启动全部服务器并阻塞，直到收到 SIGINT/SIGTERM、ctx 取消
// 或任意服务器异步出错，然后关闭整组。返回触发退出的错误（信号
// 触发时为 nil）。
func (g *Group) Run(ctx context.Context) error {
	for _, m := range g.managers {
		if err := m.Start(); err != nil {
			g.shutdownAll(context.Background())
			return fmt.Errorf("start server %s: %w", m.name, err)
		}
	}

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(signalCtx)
	for _, m := range g.managers {
		m := m
		eg.Go(func() error {
			select {
			case err := <-m.Errors():
				return fmt.Errorf("server %s: %w", m.name, err)
			case <-egCtx.Done():
				return nil
			}
		})
	}

	err := eg.Wait()
	if err != nil {
		g.logger.Error("server group exiting on error", zap.Error(err))
	} else {
		g.logger.Info("server group exiting on shutdown signal")
	}

	g.shutdownAll(context.Background())
	return err
}

func (g *Group) shutdownAll(ctx context.Context) {
	for _, m := range g.managers {
		if shutdownErr := m.Shutdown(ctx); shutdownErr != nil {
			g.logger.Error("server shutdown failed",
				zap.String("server", m.name),
				zap.Error(shutdownErr))
		}
	}
}
