package app

import (
	"fmt"

	"solfolio/internal/allocation"
	"solfolio/internal/batch"
	"solfolio/internal/config"
	"solfolio/internal/executor"
	"solfolio/internal/gateway/aggregator"
	"solfolio/internal/gateway/chain"
	"solfolio/internal/ledger"
	"solfolio/internal/logger"
	"solfolio/internal/market"
	"solfolio/internal/store/runlog"
	apihttp "solfolio/internal/transport/http"
)

// build 组装全部依赖。构建失败时已打开的资源就地回收。
func build(cfg *config.Config) (*App, error) {
	engine := allocation.NewEngine()
	if path := cfg.Allocation.ProfilePath; path != "" {
		table, err := allocation.LoadProfile(path)
		if err != nil {
			return nil, fmt.Errorf("加载权重覆盖失败: %w", err)
		}
		engine = allocation.NewEngineWithTable(table)
		logger.Infof("已加载权重覆盖文件: %s（覆盖 %d 档）", path, len(table))
	}

	aggClient, err := aggregator.NewClient(cfg.Aggregator)
	if err != nil {
		return nil, fmt.Errorf("初始化聚合器客户端失败: %w", err)
	}
	chainClient, err := chain.NewClient(cfg.Chain)
	if err != nil {
		return nil, fmt.Errorf("初始化链客户端失败: %w", err)
	}
	prices := market.NewService(cfg.Market)

	signer, err := executor.NewLocalSigner(cfg.Chain.KeypairPath)
	if err != nil {
		return nil, fmt.Errorf("加载签名者失败: %w", err)
	}
	logger.Infof("签名者地址: %s", signer.PublicKey())

	ledgerStore, err := ledger.NewStore(cfg.Ledger.DBPath)
	if err != nil {
		return nil, fmt.Errorf("打开账本数据库失败: %w", err)
	}
	runlogStore, err := runlog.Open(cfg.Ledger.RunLogPath)
	if err != nil {
		ledgerStore.Close()
		return nil, fmt.Errorf("打开运行日志数据库失败: %w", err)
	}

	exec := executor.New(aggClient, chainClient, cfg.Execution)
	ctrl := batch.NewController(aggClient, exec, ledgerStore, chainClient, runlogStore, batch.Policy{
		InterLegDelay:      cfg.Execution.InterLegDelay(),
		QuoteTimeout:       cfg.Execution.QuoteTimeout(),
		FeeReserveLamports: cfg.Execution.FeeReserveLamports,
	})
	batchSvc := batch.NewService(ctrl, runlogStore)
	reconciler := ledger.NewReconciler(ledgerStore, prices)

	router := apihttp.NewRouter(engine, aggClient, batchSvc, reconciler, ledgerStore, signer)
	server, err := apihttp.NewServer(cfg.App.HTTPAddr, router)
	if err != nil {
		ledgerStore.Close()
		runlogStore.Close()
		return nil, fmt.Errorf("初始化 API 服务失败: %w", err)
	}

	return &App{
		cfg:    cfg,
		server: server,
		ledger: ledgerStore,
		runlog: runlogStore,
	}, nil
}
