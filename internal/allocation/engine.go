// Package allocation 将风险评分映射为目标配置腿。纯函数，无 I/O。
package allocation

import (
	"github.com/shopspring/decimal"

	"solfolio/internal/pkg/symbol"
	"solfolio/internal/types"
)

// WeightEntry 是权重表中的一行：资产 + 整数权重（百分比）。
type WeightEntry struct {
	Symbol string
	Weight int
}

// MinRiskScore/MaxRiskScore 界定合法评分区间。评分不做插值：
// 不同评分的成分资产数量不同，两档策略的部分混合没有定义。
const (
	MinRiskScore = 1
	MaxRiskScore = 10
)

// defensiveSymbol 是每档策略的防御性资产。
const defensiveSymbol = "USDT"

// defaultTable: 每档一个离散策略。防御性资产（USDT）权重随评分单调下降。
// 所有腿都是真实换币（本金 USDC 换入目标资产），防御腿也不例外。
var defaultTable = map[int][]WeightEntry{
	1:  {{"USDT", 70}, {"SOL", 20}, {"BTC", 10}},
	2:  {{"USDT", 60}, {"SOL", 25}, {"BTC", 15}},
	3:  {{"USDT", 50}, {"SOL", 25}, {"BTC", 15}, {"ETH", 10}},
	4:  {{"USDT", 45}, {"SOL", 20}, {"BTC", 15}, {"ETH", 15}, {"JUP", 5}},
	5:  {{"USDT", 40}, {"SOL", 15}, {"BTC", 15}, {"ETH", 15}, {"JUP", 15}},
	6:  {{"USDT", 30}, {"SOL", 20}, {"BTC", 15}, {"ETH", 15}, {"JUP", 20}},
	7:  {{"USDT", 25}, {"SOL", 20}, {"BTC", 15}, {"ETH", 15}, {"JUP", 15}, {"BONK", 10}},
	8:  {{"USDT", 15}, {"SOL", 25}, {"BTC", 15}, {"ETH", 15}, {"JUP", 20}, {"BONK", 10}},
	9:  {{"USDT", 10}, {"SOL", 25}, {"BTC", 15}, {"ETH", 10}, {"JUP", 20}, {"BONK", 20}},
	10: {{"USDT", 5}, {"SOL", 25}, {"BTC", 10}, {"ETH", 10}, {"JUP", 25}, {"BONK", 25}},
}

var hundred = decimal.NewFromInt(100)

// Engine 持有一张权重表。零值不可用，必须经 NewEngine 构造。
type Engine struct {
	table map[int][]WeightEntry
}

// NewEngine 返回使用内置权重表的引擎。
func NewEngine() *Engine {
	return &Engine{table: defaultTable}
}

// NewEngineWithTable 使用外部校验过的权重表（见 LoadProfile）。
func NewEngineWithTable(table map[int][]WeightEntry) *Engine {
	merged := make(map[int][]WeightEntry, len(defaultTable))
	for score, entries := range defaultTable {
		merged[score] = entries
	}
	for score, entries := range table {
		merged[score] = entries
	}
	return &Engine{table: merged}
}

// Allocate 把 (风险评分, 本金) 映射为一组目标腿。
// 同样的输入总是产生同样的输出；权重表按构造保证每档之和恰为 100。
func (e *Engine) Allocate(riskScore int, principal decimal.Decimal) ([]types.AllocationLeg, error) {
	if riskScore < MinRiskScore || riskScore > MaxRiskScore {
		return nil, types.ErrInvalidRiskScore
	}
	if principal.Sign() <= 0 {
		return nil, types.ErrInvalidPrincipal
	}
	entries := e.table[riskScore]
	legs := make([]types.AllocationLeg, 0, len(entries))
	for _, entry := range entries {
		weight := decimal.NewFromInt(int64(entry.Weight))
		legs = append(legs, types.AllocationLeg{
			Symbol:          entry.Symbol,
			TargetWeightPct: weight,
			Notional:        principal.Mul(weight).Div(hundred),
		})
	}
	return legs, nil
}

// Weights 返回某一评分档的权重表（只读副本），用于再平衡时回查目标权重。
func (e *Engine) Weights(riskScore int) ([]WeightEntry, error) {
	if riskScore < MinRiskScore || riskScore > MaxRiskScore {
		return nil, types.ErrInvalidRiskScore
	}
	src := e.table[riskScore]
	out := make([]WeightEntry, len(src))
	copy(out, src)
	return out, nil
}

func init() {
	// 启动即验证内置表：权重和为 100，资产全部已注册，防御性权重单调递减。
	prevDefensive := 101
	for score := MinRiskScore; score <= MaxRiskScore; score++ {
		entries, ok := defaultTable[score]
		if !ok {
			panic("allocation: 内置权重表缺少评分档")
		}
		sum := 0
		for _, e := range entries {
			sum += e.Weight
			symbol.MustLookup(e.Symbol)
		}
		if sum != 100 {
			panic("allocation: 内置权重表权重之和不为 100")
		}
		if entries[0].Symbol != defensiveSymbol || entries[0].Weight >= prevDefensive {
			panic("allocation: 防御性权重必须随评分单调下降")
		}
		prevDefensive = entries[0].Weight
	}
}
