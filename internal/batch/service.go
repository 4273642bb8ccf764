package batch

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"solfolio/internal/executor"
	"solfolio/internal/logger"
	"solfolio/internal/store/runlog"
)

// ErrPortfolioBusy 表示同一签名者或同一组合已有批次在执行。
var ErrPortfolioBusy = errors.New("同一签名者或组合已有批次在执行中，拒绝并发提交")

// Service 把批量执行包装成异步任务：立即返回 runID，逐腿进度走 runlog。
// 并发只存在于相互独立的签名者之间；同一签名者同一时刻只有一个批次在跑，
// 保证串行出账和逐腿余额复核不被并行批次打穿。组合维度再加一层互斥。
type Service struct {
	ctrl *Controller
	runs *runlog.Store

	mu   sync.Mutex
	busy map[string]bool
}

// NewService constructs the async batch service.
func NewService(ctrl *Controller, runs *runlog.Store) *Service {
	return &Service{ctrl: ctrl, runs: runs, busy: make(map[string]bool)}
}

// Validate 同步校验请求，不占用执行槽。调用方可在产生持久化副作用之前先行校验。
func (s *Service) Validate(req Request) error {
	return s.ctrl.Validate(req)
}

// Start 校验请求并异步启动批次。返回的 runID 可立即用于轮询进度。
func (s *Service) Start(ctx context.Context, req Request, signer executor.Signer) (string, error) {
	if err := s.ctrl.Validate(req); err != nil {
		return "", err
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	keys := []string{"signer:" + signer.PublicKey()}
	if req.PortfolioID != "" {
		keys = append(keys, "portfolio:"+req.PortfolioID)
	}
	s.mu.Lock()
	for _, k := range keys {
		if s.busy[k] {
			s.mu.Unlock()
			return "", ErrPortfolioBusy
		}
	}
	for _, k := range keys {
		s.busy[k] = true
	}
	s.mu.Unlock()

	// 批次生命周期独立于 HTTP 请求：请求断开不中止已启动的执行。
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			s.mu.Lock()
			for _, k := range keys {
				delete(s.busy, k)
			}
			s.mu.Unlock()
		}()
		if _, err := s.ctrl.ExecuteBatch(runCtx, req, signer); err != nil {
			logger.Errorf("批次执行失败 run=%s: %v", req.RunID, err)
		}
	}()
	return req.RunID, nil
}

// GetRun 返回一次运行的进度快照。
func (s *Service) GetRun(ctx context.Context, runID string) (*runlog.RunStatus, error) {
	return s.runs.GetRun(ctx, runID)
}
