// Package types 定义组合配置与交易执行共享的领域模型。
package types

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AllocationLeg 是目标配置中的一条腿：资产 + 目标权重 + 名义金额。
type AllocationLeg struct {
	Symbol          string          `json:"symbol"`
	TargetWeightPct decimal.Decimal `json:"target_weight_pct"`
	Notional        decimal.Decimal `json:"notional"`
}

// Quote 是聚合器返回的一次性报价快照。过期或已消费的报价不允许复用。
type Quote struct {
	InputAsset     string          `json:"input_asset"`
	OutputAsset    string          `json:"output_asset"`
	InputAmount    decimal.Decimal `json:"input_amount"`
	OutputAmount   decimal.Decimal `json:"output_amount"`
	PriceImpactPct decimal.Decimal `json:"price_impact_pct"`
	RouteID        string          `json:"route_id"`
	SlippageBps    int             `json:"slippage_bps"`
	ExpiresAt      time.Time       `json:"expires_at"`
	Raw            json.RawMessage `json:"-"`
}

// Expired reports whether the quote is no longer safe to submit.
func (q Quote) Expired(now time.Time) bool {
	return !q.ExpiresAt.IsZero() && now.After(q.ExpiresAt)
}

// LegStatus 标记单腿执行的最终状态。
type LegStatus string

const (
	LegSettled LegStatus = "settled"
	LegFailed  LegStatus = "failed"
	LegSkipped LegStatus = "skipped"
)

// Failure reason codes surfaced to callers. Retry eligibility is carried
// separately on LegResult.
const (
	ReasonStaleQuote          = "stale_quote"
	ReasonQuoteConsumed       = "quote_consumed"
	ReasonQuoteFailed         = "quote_failed"
	ReasonBuildFailed         = "build_failed"
	ReasonSignFailed          = "sign_failed"
	ReasonSubmitFailed        = "submit_failed"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonConfirmationTimeout = "confirmation_timeout"
	ReasonOnChainRejected     = "onchain_rejected"
	ReasonAlreadySettled      = "already_settled"
	ReasonCancelled           = "cancelled"
)

// LegResult 是一条腿的执行结果。每条被尝试的腿恰好产生一条结果，绝不丢弃。
type LegResult struct {
	Symbol       string          `json:"symbol"`
	Status       LegStatus       `json:"status"`
	AttemptID    string          `json:"attempt_id"`
	Signature    string          `json:"signature,omitempty"`
	OutputAmount decimal.Decimal `json:"output_amount,omitempty"`
	SettledAt    time.Time       `json:"settled_at,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Retryable    bool            `json:"retryable"`
}

// Settled reports whether the leg reached on-chain finality.
func (r LegResult) Settled() bool { return r.Status == LegSettled }

// BatchResult 汇总一次批量执行的全部单腿结果。
type BatchResult struct {
	RunID          string      `json:"run_id"`
	PortfolioID    string      `json:"portfolio_id,omitempty"`
	PerLeg         []LegResult `json:"per_leg"`
	SucceededCount int         `json:"succeeded_count"`
	FailedCount    int         `json:"failed_count"`
	SkippedCount   int         `json:"skipped_count"`
}

// TransactionStatus 对应账本记录的生命周期，只允许 pending→confirmed/failed 单向迁移。
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxConfirmed TransactionStatus = "confirmed"
	TxFailed    TransactionStatus = "failed"
)

// TransactionType 区分建仓、减仓与再平衡产生的交易。
type TransactionType string

const (
	TxBuy       TransactionType = "buy"
	TxSell      TransactionType = "sell"
	TxRebalance TransactionType = "rebalance"
)

// Position 是组合内单一资产的聚合视图，由账本全量重算得出，禁止手工修改。
type Position struct {
	Symbol           string          `json:"symbol"`
	Amount           decimal.Decimal `json:"amount"`
	AvgCost          decimal.Decimal `json:"avg_cost"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	Value            decimal.Decimal `json:"value"`
	PnL              decimal.Decimal `json:"pnl"`
	CurrentWeightPct decimal.Decimal `json:"current_weight_pct"`
	TargetWeightPct  decimal.Decimal `json:"target_weight_pct"`
	DriftPct         decimal.Decimal `json:"drift_pct"`
}

// Portfolio 聚合一组 Position。totalValue = Σ amount × currentPrice。
type Portfolio struct {
	ID         string          `json:"id"`
	Owner      string          `json:"owner"`
	RiskScore  int             `json:"risk_score"`
	Active     bool            `json:"active"`
	TotalValue decimal.Decimal `json:"total_value"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	PnL        decimal.Decimal `json:"pnl"`
	Positions  []Position      `json:"positions"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DriftReport 列出超过阈值的持仓，是触发再平衡的唯一信号。
type DriftReport struct {
	PortfolioID    string     `json:"portfolio_id"`
	ThresholdPct   string     `json:"threshold_pct"`
	NeedsRebalance bool       `json:"needs_rebalance"`
	Exceeding      []Position `json:"exceeding"`
}
