// Package batch 顺序驱动多条腿的报价与执行，隔离单腿失败，保证逐腿结果完整。
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"solfolio/internal/executor"
	"solfolio/internal/ledger"
	"solfolio/internal/logger"
	"solfolio/internal/pkg/symbol"
	"solfolio/internal/store/runlog"
	"solfolio/internal/types"
)

// QuoteAPI 是控制器需要的报价接口。
type QuoteAPI interface {
	Quote(ctx context.Context, inputAsset, outputAsset string, amount decimal.Decimal, slippageBps int) (types.Quote, error)
}

// SwapExecutor 是控制器需要的执行接口。
type SwapExecutor interface {
	Execute(ctx context.Context, quote types.Quote, signer executor.Signer) types.LegResult
}

// Ledger 是控制器需要的账本子集。
type Ledger interface {
	BeginLeg(ctx context.Context, a ledger.LegAttempt) error
	FinalizeLeg(ctx context.Context, attemptID string, res types.LegResult) error
	HasSettled(ctx context.Context, portfolioID, sym, runID string) (bool, error)
	SetTargets(ctx context.Context, portfolioID string, targets []types.AllocationLeg) error
}

// BalanceAPI 查询签名者余额。批内前腿会消耗余额，所以每腿提交前都重查。
type BalanceAPI interface {
	Balance(ctx context.Context, address string) (int64, error)
}

// RunLog 逐腿落进度，供调用方轮询。
type RunLog interface {
	StartRun(ctx context.Context, runID, portfolioID string, legCount int) error
	AppendEvent(ctx context.Context, runID string, ev runlog.RunEvent) error
	FinishRun(ctx context.Context, runID string, succeeded, failed, skipped int) error
}

// Policy 是批量执行的策略参数，显式可调，不埋在循环里。
type Policy struct {
	InterLegDelay      time.Duration
	QuoteTimeout       time.Duration
	FeeReserveLamports int64
}

// Request 描述一次批量执行。
type Request struct {
	RunID       string
	PortfolioID string
	Type        types.TransactionType
	SlippageBps int
	Legs        []types.AllocationLeg
}

// Controller 顺序执行批次内的每条腿。同一 signer 上绝不并发提交。
type Controller struct {
	quotes  QuoteAPI
	exec    SwapExecutor
	ledger  Ledger
	balance BalanceAPI
	runs    RunLog
	policy  Policy
}

// NewController constructs a batch Controller.
func NewController(quotes QuoteAPI, exec SwapExecutor, led Ledger, balance BalanceAPI, runs RunLog, policy Policy) *Controller {
	return &Controller{
		quotes:  quotes,
		exec:    exec,
		ledger:  led,
		balance: balance,
		runs:    runs,
		policy:  policy,
	}
}

// Validate 对请求做同步校验，异步执行前必须通过。
func (c *Controller) Validate(req Request) error {
	if len(req.Legs) == 0 {
		return fmt.Errorf("批次至少包含一条腿")
	}
	if req.SlippageBps <= 0 {
		return types.ErrInvalidSlippage
	}
	for _, leg := range req.Legs {
		if !symbol.Known(leg.Symbol) {
			return fmt.Errorf("批次包含未注册资产: %s", leg.Symbol)
		}
		if leg.Notional.Sign() <= 0 {
			return fmt.Errorf("腿 %s 名义金额必须大于 0", leg.Symbol)
		}
	}
	return nil
}

// ExecuteBatch 逐腿执行。单腿失败不中止批次：部分建仓好过全无，
// 剩余腿照常尝试，调用方拿到与腿数一致的完整结果集。
func (c *Controller) ExecuteBatch(ctx context.Context, req Request, signer executor.Signer) (types.BatchResult, error) {
	if err := c.Validate(req); err != nil {
		return types.BatchResult{}, err
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.Type == "" {
		req.Type = types.TxBuy
	}
	if err := c.runs.StartRun(ctx, req.RunID, req.PortfolioID, len(req.Legs)); err != nil {
		return types.BatchResult{}, fmt.Errorf("登记运行失败: %w", err)
	}
	if req.PortfolioID != "" {
		if err := c.ledger.SetTargets(ctx, req.PortfolioID, req.Legs); err != nil {
			return types.BatchResult{}, fmt.Errorf("写入目标权重失败: %w", err)
		}
	}

	result := types.BatchResult{RunID: req.RunID, PortfolioID: req.PortfolioID}
	var ledgerRetries []pendingWrite

	for i, leg := range req.Legs {
		res := c.executeLeg(ctx, req, leg, signer, &ledgerRetries)
		result.PerLeg = append(result.PerLeg, res)
		switch res.Status {
		case types.LegSettled:
			result.SucceededCount++
		case types.LegFailed:
			result.FailedCount++
		default:
			result.SkippedCount++
		}
		c.appendEvent(ctx, req.RunID, i, res)

		// 腿间节奏：尊重上游限流。取消会提前打断等待，但绝不打断腿内执行。
		if i < len(req.Legs)-1 && ctx.Err() == nil {
			select {
			case <-ctx.Done():
			case <-time.After(c.policy.InterLegDelay):
			}
		}
	}

	c.retryLedgerWrites(ctx, ledgerRetries)
	if err := c.runs.FinishRun(ctx, req.RunID, result.SucceededCount, result.FailedCount, result.SkippedCount); err != nil {
		logger.Errorf("收尾运行记录失败 run=%s: %v", req.RunID, err)
	}
	logger.Infof("批次完成 run=%s: settled=%d failed=%d skipped=%d",
		req.RunID, result.SucceededCount, result.FailedCount, result.SkippedCount)
	return result, nil
}

func (c *Controller) executeLeg(ctx context.Context, req Request, leg types.AllocationLeg, signer executor.Signer, retries *[]pendingWrite) types.LegResult {
	skipped := func(reason string) types.LegResult {
		return types.LegResult{Symbol: leg.Symbol, Status: types.LegSkipped, Reason: reason}
	}
	failed := func(reason string, retryable bool) types.LegResult {
		return types.LegResult{Symbol: leg.Symbol, Status: types.LegFailed, Reason: reason, Retryable: retryable}
	}

	// 取消只在腿间生效：已开始的腿会跑到终态，未开始的腿整体跳过。
	if ctx.Err() != nil {
		return skipped(types.ReasonCancelled)
	}

	settled, err := c.ledger.HasSettled(ctx, req.PortfolioID, leg.Symbol, req.RunID)
	if err != nil {
		logger.Warnf("幂等检查失败 leg=%s: %v", leg.Symbol, err)
	} else if settled {
		logger.Infof("腿 %s 在 run=%s 已结算，跳过重放", leg.Symbol, req.RunID)
		return skipped(types.ReasonAlreadySettled)
	}

	// 批内前腿消耗余额，不能信任批次开始时的快照。
	lamports, err := c.balance.Balance(ctx, signer.PublicKey())
	if err != nil {
		logger.Warnf("腿 %s 余额检查失败: %v", leg.Symbol, err)
		return failed(types.ReasonSubmitFailed, true)
	}
	if lamports < c.policy.FeeReserveLamports {
		return failed(types.ReasonInsufficientBalance, false)
	}

	quoteCtx, cancel := context.WithTimeout(ctx, c.policy.QuoteTimeout)
	quote, err := c.quotes.Quote(quoteCtx, symbol.USDC, leg.Symbol, leg.Notional, req.SlippageBps)
	cancel()
	if err != nil {
		logger.Warnf("腿 %s 报价失败: %v", leg.Symbol, err)
		return failed(types.ReasonQuoteFailed, true)
	}

	attemptID := fmt.Sprintf("%s:%s", req.RunID, leg.Symbol)
	if err := c.ledger.BeginLeg(ctx, ledger.LegAttempt{
		AttemptID:   attemptID,
		RunID:       req.RunID,
		PortfolioID: req.PortfolioID,
		Type:        req.Type,
		InputAsset:  symbol.USDC,
		Leg:         leg,
		RawQuote:    quote.Raw,
	}); err != nil {
		// 起笔失败宁可不交易：没有 pending 记录的提交无法对账。
		logger.Errorf("腿 %s 账本起笔失败: %v", leg.Symbol, err)
		return failed(types.ReasonSubmitFailed, true)
	}

	res := c.exec.Execute(ctx, quote, signer)
	res.Symbol = leg.Symbol

	if err := c.ledger.FinalizeLeg(ctx, attemptID, res); err != nil {
		// 账本写失败不改变链上事实：交易已经发生，只能排队补账，绝不装作没发生。
		logger.Errorf("腿 %s 账本落账失败（待补账）: %v", leg.Symbol, err)
		*retries = append(*retries, pendingWrite{attemptID: attemptID, result: res})
	}
	return res
}

type pendingWrite struct {
	attemptID string
	result    types.LegResult
}

func (c *Controller) retryLedgerWrites(ctx context.Context, writes []pendingWrite) {
	for _, w := range writes {
		if err := c.ledger.FinalizeLeg(ctx, w.attemptID, w.result); err != nil {
			logger.Errorf("补账仍然失败 attempt=%s signature=%s: %v（需人工对账）",
				w.attemptID, w.result.Signature, err)
		}
	}
}

func (c *Controller) appendEvent(ctx context.Context, runID string, seq int, res types.LegResult) {
	err := c.runs.AppendEvent(ctx, runID, runlog.RunEvent{
		Seq:       seq,
		Symbol:    res.Symbol,
		Status:    string(res.Status),
		Reason:    res.Reason,
		Signature: res.Signature,
		Retryable: res.Retryable,
	})
	if err != nil {
		logger.Warnf("写入运行事件失败 run=%s seq=%d: %v", runID, seq, err)
	}
}
