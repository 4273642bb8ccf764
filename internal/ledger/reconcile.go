package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"solfolio/internal/logger"
	"solfolio/internal/market"
	"solfolio/internal/pkg/symbol"
	"solfolio/internal/types"
)

var hundred = decimal.NewFromInt(100)

// Reconciler 从全量已确认记录 + 最新行情重算组合视图。
// 账本是唯一事实来源：持仓永远重算，绝不增量修补。
type Reconciler struct {
	store  *Store
	prices market.PriceSource
}

// NewReconciler constructs a Reconciler.
func NewReconciler(store *Store, prices market.PriceSource) *Reconciler {
	return &Reconciler{store: store, prices: prices}
}

// Reconcile 重算每个持仓的数量、成本、现值、盈亏与当前权重，并物化到 positions 表。
func (r *Reconciler) Reconcile(ctx context.Context, portfolioID string) (*types.Portfolio, error) {
	model, err := r.store.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	records, err := r.store.ConfirmedRecords(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	targets, err := parseTargets(model.TargetsJSON)
	if err != nil {
		return nil, err
	}

	type acc struct {
		amount decimal.Decimal
		cost   decimal.Decimal
	}
	holdings := make(map[string]*acc)
	get := func(sym string) *acc {
		if h, ok := holdings[sym]; ok {
			return h
		}
		h := &acc{}
		holdings[sym] = h
		return h
	}

	for _, rec := range records {
		inAmount, err := decimal.NewFromString(rec.InputAmount)
		if err != nil {
			return nil, fmt.Errorf("账本记录 #%d input_amount 非法: %w", rec.ID, err)
		}
		outAmount, err := decimal.NewFromString(rec.OutputAmount)
		if err != nil {
			return nil, fmt.Errorf("账本记录 #%d output_amount 非法: %w", rec.ID, err)
		}
		if rec.InputAsset == symbol.USDC {
			// 买入：本金换入目标资产。
			h := get(rec.OutputAsset)
			h.amount = h.amount.Add(outAmount)
			h.cost = h.cost.Add(inAmount)
			continue
		}
		if rec.OutputAsset == symbol.USDC {
			// 卖出：按均价释放成本。
			h := get(rec.InputAsset)
			if h.amount.Sign() > 0 {
				avg := h.cost.Div(h.amount)
				h.cost = h.cost.Sub(avg.Mul(inAmount))
			}
			h.amount = h.amount.Sub(inAmount)
			continue
		}
		logger.Warnf("账本记录 #%d 非 USDC 腿（%s→%s），跳过折算", rec.ID, rec.InputAsset, rec.OutputAsset)
	}

	positions := make([]types.Position, 0, len(holdings))
	totalValue := decimal.Zero
	totalCost := decimal.Zero
	for sym, h := range holdings {
		if h.amount.Sign() <= 0 {
			continue
		}
		price, err := r.prices.Price(ctx, sym)
		if err != nil {
			return nil, fmt.Errorf("获取 %s 行情失败: %w", sym, err)
		}
		value := h.amount.Mul(price)
		avgCost := decimal.Zero
		if h.amount.Sign() > 0 {
			avgCost = h.cost.Div(h.amount)
		}
		positions = append(positions, types.Position{
			Symbol:          sym,
			Amount:          h.amount,
			AvgCost:         avgCost,
			CurrentPrice:    price,
			Value:           value,
			PnL:             value.Sub(h.cost),
			TargetWeightPct: targets[sym],
		})
		totalValue = totalValue.Add(value)
		totalCost = totalCost.Add(h.cost)
	}

	for i := range positions {
		if totalValue.Sign() > 0 {
			positions[i].CurrentWeightPct = positions[i].Value.Div(totalValue).Mul(hundred)
		}
		positions[i].DriftPct = positions[i].CurrentWeightPct.Sub(positions[i].TargetWeightPct).Abs()
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

	if err := r.store.UpsertPositions(ctx, portfolioID, positions); err != nil {
		return nil, fmt.Errorf("物化持仓失败: %w", err)
	}

	return &types.Portfolio{
		ID:         model.ID,
		Owner:      model.Owner,
		RiskScore:  model.RiskScore,
		Active:     model.Active,
		TotalValue: totalValue,
		TotalCost:  totalCost,
		PnL:        totalValue.Sub(totalCost),
		Positions:  positions,
		CreatedAt:  time.Unix(model.CreatedAtUnix, 0),
	}, nil
}

// Drift 给出漂移报告。超阈值持仓列表是触发再平衡的唯一信号。
func (r *Reconciler) Drift(ctx context.Context, portfolioID string, thresholdPct decimal.Decimal) (*types.DriftReport, error) {
	if thresholdPct.Sign() <= 0 {
		return nil, fmt.Errorf("漂移阈值必须大于 0")
	}
	portfolio, err := r.Reconcile(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	report := &types.DriftReport{
		PortfolioID:  portfolioID,
		ThresholdPct: thresholdPct.String(),
	}
	for _, pos := range portfolio.Positions {
		if pos.DriftPct.GreaterThan(thresholdPct) {
			report.Exceeding = append(report.Exceeding, pos)
		}
	}
	report.NeedsRebalance = len(report.Exceeding) > 0
	return report, nil
}

func parseTargets(raw []byte) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	if len(raw) == 0 {
		return out, nil
	}
	var weights map[string]string
	if err := json.Unmarshal(raw, &weights); err != nil {
		return nil, fmt.Errorf("解析目标权重失败: %w", err)
	}
	for sym, w := range weights {
		d, err := decimal.NewFromString(w)
		if err != nil {
			return nil, fmt.Errorf("目标权重 %s=%q 非法: %w", sym, w, err)
		}
		out[sym] = d
	}
	return out, nil
}
