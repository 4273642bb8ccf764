// Package app 负责应用级编排：加载配置→组装依赖→启动 API 服务。
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"solfolio/internal/config"
	"solfolio/internal/ledger"
	"solfolio/internal/logger"
	"solfolio/internal/store/runlog"
	apihttp "solfolio/internal/transport/http"
)

// App 持有全部长生命周期组件。
type App struct {
	cfg    *config.Config
	server *apihttp.Server
	ledger *ledger.Store
	runlog *runlog.Store
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return build(cfg)
}

// Run 启动 API 服务并等待退出。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("api server error: %w", err)
		}
		return nil
	})
	return group.Wait()
}

func (a *App) close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			logger.Warnf("关闭账本数据库失败: %v", err)
		}
	}
	if a.runlog != nil {
		if err := a.runlog.Close(); err != nil {
			logger.Warnf("关闭运行日志数据库失败: %v", err)
		}
	}
}
