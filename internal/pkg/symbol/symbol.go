// Package symbol 维护可交易资产注册表：符号、链上 mint、精度与行情代码的映射。
package symbol

import (
	"fmt"
	"strings"
)

// Asset 描述一个可配置资产。
type Asset struct {
	Symbol        string
	Mint          string
	Decimals      int
	BinanceTicker string
	Stable        bool
}

// USDC 是所有买入腿的出资资产。
const USDC = "USDC"

var registry = map[string]Asset{
	"USDC": {Symbol: "USDC", Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6, Stable: true},
	"USDT": {Symbol: "USDT", Mint: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Decimals: 6, Stable: true},
	"SOL":  {Symbol: "SOL", Mint: "So11111111111111111111111111111111111111112", Decimals: 9, BinanceTicker: "SOLUSDT"},
	"BTC":  {Symbol: "BTC", Mint: "3NZ9JMVBmGAqocybic2c7LQCJScmgsAZ6vQqTDzcqmJh", Decimals: 8, BinanceTicker: "BTCUSDT"},
	"ETH":  {Symbol: "ETH", Mint: "7vfCXTUXx5WJV5JADk17DUJ4ksgau7utNKj4b963voxs", Decimals: 8, BinanceTicker: "ETHUSDT"},
	"JUP":  {Symbol: "JUP", Mint: "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN", Decimals: 6, BinanceTicker: "JUPUSDT"},
	"BONK": {Symbol: "BONK", Mint: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263", Decimals: 5, BinanceTicker: "BONKUSDT"},
}

// Lookup 按符号查找资产（大小写不敏感）。
func Lookup(sym string) (Asset, error) {
	a, ok := registry[strings.ToUpper(strings.TrimSpace(sym))]
	if !ok {
		return Asset{}, fmt.Errorf("未注册的资产符号: %s", sym)
	}
	return a, nil
}

// MustLookup panics on unknown symbols. Only for static tables validated at init.
func MustLookup(sym string) Asset {
	a, err := Lookup(sym)
	if err != nil {
		panic(err)
	}
	return a
}

// Known reports whether the symbol is registered.
func Known(sym string) bool {
	_, ok := registry[strings.ToUpper(strings.TrimSpace(sym))]
	return ok
}

// All 返回全部已注册资产符号（无固定顺序）。
func All() []string {
	out := make([]string, 0, len(registry))
	for s := range registry {
		out = append(out, s)
	}
	return out
}
