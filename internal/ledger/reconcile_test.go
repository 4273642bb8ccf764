package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solfolio/internal/types"
)

// fakePrices 固定价格表，稳定币恒为 1。
type fakePrices struct {
	prices map[string]string
}

func (f fakePrices) Price(_ context.Context, sym string) (decimal.Decimal, error) {
	if sym == "USDT" || sym == "USDC" {
		return decimal.NewFromInt(1), nil
	}
	raw, ok := f.prices[sym]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", sym)
	}
	return decimal.RequireFromString(raw), nil
}

func settleBuy(t *testing.T, store *Store, runID, pid, sym, inUSDC, outAmount string) {
	t.Helper()
	attempt := LegAttempt{
		AttemptID:   runID + ":" + sym,
		RunID:       runID,
		PortfolioID: pid,
		Type:        types.TxBuy,
		InputAsset:  "USDC",
		Leg: types.AllocationLeg{
			Symbol:   sym,
			Notional: decimal.RequireFromString(inUSDC),
		},
	}
	require.NoError(t, store.BeginLeg(context.Background(), attempt))
	require.NoError(t, store.FinalizeLeg(context.Background(), attempt.AttemptID, types.LegResult{
		Status:       types.LegSettled,
		Signature:    "sig-" + runID + "-" + sym,
		OutputAmount: decimal.RequireFromString(outAmount),
	}))
}

func TestReconcile_RecomputesFromLedger(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pid, err := store.CreatePortfolio(ctx, "alice", 5, []types.AllocationLeg{
		{Symbol: "USDT", TargetWeightPct: decimal.NewFromInt(50), Notional: decimal.NewFromInt(500)},
		{Symbol: "SOL", TargetWeightPct: decimal.NewFromInt(50), Notional: decimal.NewFromInt(500)},
	})
	require.NoError(t, err)

	settleBuy(t, store, "run-1", pid, "USDT", "500", "500")
	settleBuy(t, store, "run-1", pid, "SOL", "500", "5")

	// SOL 涨到 128：现值 640，权重漂移。
	rec := NewReconciler(store, fakePrices{prices: map[string]string{"SOL": "128"}})
	portfolio, err := rec.Reconcile(ctx, pid)
	require.NoError(t, err)

	require.Len(t, portfolio.Positions, 2)
	assert.True(t, portfolio.TotalValue.Equal(decimal.RequireFromString("1140")),
		"total=%s", portfolio.TotalValue)
	assert.True(t, portfolio.TotalCost.Equal(decimal.NewFromInt(1000)))
	assert.True(t, portfolio.PnL.Equal(decimal.NewFromInt(140)))

	// 按符号排序：SOL 在前。
	sol := portfolio.Positions[0]
	require.Equal(t, "SOL", sol.Symbol)
	assert.True(t, sol.Amount.Equal(decimal.NewFromInt(5)))
	assert.True(t, sol.AvgCost.Equal(decimal.NewFromInt(100)))
	assert.True(t, sol.Value.Equal(decimal.NewFromInt(640)))
	assert.True(t, sol.PnL.Equal(decimal.NewFromInt(140)))
	// 640/1140 ≈ 56.14%，目标 50%，漂移 ≈ 6.14。
	assert.True(t, sol.DriftPct.GreaterThan(decimal.NewFromInt(6)))
	assert.True(t, sol.DriftPct.LessThan(decimal.NewFromInt(7)))
}

func TestReconcile_PartialFillOnlyCountsConfirmed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pid, err := store.CreatePortfolio(ctx, "bob", 5, targetLegs())
	require.NoError(t, err)

	settleBuy(t, store, "run-1", pid, "USDT", "400", "400")

	// SOL 腿 pending：不计入持仓。
	require.NoError(t, store.BeginLeg(ctx, solAttempt("run-1", pid)))

	rec := NewReconciler(store, fakePrices{prices: map[string]string{"SOL": "100"}})
	portfolio, err := rec.Reconcile(ctx, pid)
	require.NoError(t, err)

	require.Len(t, portfolio.Positions, 1)
	assert.Equal(t, "USDT", portfolio.Positions[0].Symbol)
	assert.True(t, portfolio.TotalValue.Equal(decimal.NewFromInt(400)))
}

func TestReconcile_SellReleasesCostAtAverage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pid, err := store.CreatePortfolio(ctx, "carol", 5, targetLegs())
	require.NoError(t, err)

	settleBuy(t, store, "run-1", pid, "SOL", "1000", "10")

	// 卖出 4 SOL 回 USDC：按均价 100 释放 400 成本。
	sellAttempt := LegAttempt{
		AttemptID:   "run-2:SOL",
		RunID:       "run-2",
		PortfolioID: pid,
		Type:        types.TxSell,
		InputAsset:  "SOL",
		Leg:         types.AllocationLeg{Symbol: "USDC", Notional: decimal.NewFromInt(4)},
	}
	require.NoError(t, store.BeginLeg(ctx, sellAttempt))
	require.NoError(t, store.FinalizeLeg(ctx, sellAttempt.AttemptID, types.LegResult{
		Status:       types.LegSettled,
		Signature:    "sig-sell",
		OutputAmount: decimal.NewFromInt(480),
	}))

	rec := NewReconciler(store, fakePrices{prices: map[string]string{"SOL": "120"}})
	portfolio, err := rec.Reconcile(ctx, pid)
	require.NoError(t, err)

	require.Len(t, portfolio.Positions, 1)
	sol := portfolio.Positions[0]
	assert.True(t, sol.Amount.Equal(decimal.NewFromInt(6)), "amount=%s", sol.Amount)
	assert.True(t, sol.AvgCost.Equal(decimal.NewFromInt(100)), "avgCost=%s", sol.AvgCost)
	assert.True(t, portfolio.TotalCost.Equal(decimal.NewFromInt(600)))
}

func TestDrift(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pid, err := store.CreatePortfolio(ctx, "dave", 5, []types.AllocationLeg{
		{Symbol: "USDT", TargetWeightPct: decimal.NewFromInt(50), Notional: decimal.NewFromInt(500)},
		{Symbol: "SOL", TargetWeightPct: decimal.NewFromInt(50), Notional: decimal.NewFromInt(500)},
	})
	require.NoError(t, err)
	settleBuy(t, store, "run-1", pid, "USDT", "500", "500")
	settleBuy(t, store, "run-1", pid, "SOL", "500", "5")

	rec := NewReconciler(store, fakePrices{prices: map[string]string{"SOL": "128"}})

	t.Run("ExceedsThreshold5", func(t *testing.T) {
		report, err := rec.Drift(ctx, pid, decimal.NewFromInt(5))
		require.NoError(t, err)
		assert.True(t, report.NeedsRebalance)
		require.Len(t, report.Exceeding, 2)
	})

	t.Run("WithinThreshold10", func(t *testing.T) {
		report, err := rec.Drift(ctx, pid, decimal.NewFromInt(10))
		require.NoError(t, err)
		assert.False(t, report.NeedsRebalance)
		assert.Empty(t, report.Exceeding)
	})

	t.Run("RejectsNonPositiveThreshold", func(t *testing.T) {
		_, err := rec.Drift(ctx, pid, decimal.Zero)
		assert.Error(t, err)
	})
}
