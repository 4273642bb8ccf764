package apihttp

import (
	"github.com/shopspring/decimal"

	"solfolio/internal/types"
)

// AllocateRequest 请求一次风险配置计算。principal 建议传字符串以保留精度。
type AllocateRequest struct {
	RiskScore int             `json:"risk_score"`
	Principal decimal.Decimal `json:"principal"`
}

// AllocateResponse 返回目标腿集合。
type AllocateResponse struct {
	RiskScore int                   `json:"risk_score"`
	Principal decimal.Decimal       `json:"principal"`
	Legs      []types.AllocationLeg `json:"legs"`
}

// PreviewRequest 对一组腿逐一询价。滑点必须显式给出。
type PreviewRequest struct {
	Legs        []types.AllocationLeg `json:"legs"`
	SlippageBps int                   `json:"slippage_bps"`
}

// PreviewLeg 是带预估产出的腿。
type PreviewLeg struct {
	types.AllocationLeg
	EstimatedOutput decimal.Decimal `json:"estimated_output"`
	PriceImpactPct  decimal.Decimal `json:"price_impact_pct"`
	QuoteError      string          `json:"quote_error,omitempty"`
}

// PreviewResponse 返回逐腿预估。
type PreviewResponse struct {
	Legs []PreviewLeg `json:"legs"`
}

// CreatePortfolioRequest 建立组合并启动首次建仓批次。
type CreatePortfolioRequest struct {
	Owner       string          `json:"owner"`
	RiskScore   int             `json:"risk_score"`
	Principal   decimal.Decimal `json:"principal"`
	SlippageBps int             `json:"slippage_bps"`
}

// CreatePortfolioResponse 返回组合与运行标识。
type CreatePortfolioResponse struct {
	PortfolioID string                `json:"portfolio_id"`
	RunID       string                `json:"run_id"`
	Legs        []types.AllocationLeg `json:"legs"`
}

// ExecuteRequest 直接执行一组腿（独立交易或再平衡）。
type ExecuteRequest struct {
	PortfolioID string                `json:"portfolio_id,omitempty"`
	Type        string                `json:"type,omitempty"`
	SlippageBps int                   `json:"slippage_bps"`
	Legs        []types.AllocationLeg `json:"legs"`
}

// ExecuteResponse 返回运行标识，进度用 GET /runs/:id 轮询。
type ExecuteResponse struct {
	RunID string `json:"run_id"`
}

type errorResponse struct {
	Error string `json:"error"`
	// 建仓失败但组合已落库时回传，调用方可据此重试建仓。
	PortfolioID string `json:"portfolio_id,omitempty"`
}
