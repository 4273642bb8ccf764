// Package market 提供对账用的最新现货价格。行情走独立的只读通道，
// 与交易路径的 RPC 限流预算完全隔离。
package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"solfolio/internal/config"
	"solfolio/internal/logger"
	"solfolio/internal/pkg/symbol"
)

// PriceSource 是对账器需要的最小行情接口。
type PriceSource interface {
	Price(ctx context.Context, sym string) (decimal.Decimal, error)
}

// Service 基于 go-binance 现货行情实现 PriceSource，带 TTL 缓存。
type Service struct {
	client *binance.Client
	ttl    time.Duration
	nowFn  func() time.Time

	mu        sync.Mutex
	cache     map[string]decimal.Decimal
	fetchedAt time.Time
}

// NewService constructs a price service from configuration.
func NewService(cfg config.MarketConfig) *Service {
	client := binance.NewClient("", "")
	if base := strings.TrimSpace(cfg.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Service{
		client: client,
		ttl:    ttl,
		nowFn:  time.Now,
		cache:  make(map[string]decimal.Decimal),
	}
}

// Price 返回资产的 USD 价格。稳定币恒为 1，其余取现货 ticker。
func (s *Service) Price(ctx context.Context, sym string) (decimal.Decimal, error) {
	asset, err := symbol.Lookup(sym)
	if err != nil {
		return decimal.Zero, err
	}
	if asset.Stable {
		return decimal.NewFromInt(1), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nowFn().Sub(s.fetchedAt) > s.ttl {
		if err := s.refreshLocked(ctx); err != nil {
			// 缓存里有旧值时容忍一次刷新失败，但不能拿空数据对账。
			if len(s.cache) == 0 {
				return decimal.Zero, err
			}
			logger.Warnf("行情刷新失败，沿用缓存价格: %v", err)
		}
	}
	price, ok := s.cache[asset.BinanceTicker]
	if !ok {
		return decimal.Zero, fmt.Errorf("缺少 %s 的行情数据", asset.Symbol)
	}
	return price, nil
}

func (s *Service) refreshLocked(ctx context.Context) error {
	tickers := make([]string, 0, len(symbol.All()))
	for _, sym := range symbol.All() {
		asset := symbol.MustLookup(sym)
		if asset.BinanceTicker != "" {
			tickers = append(tickers, asset.BinanceTicker)
		}
	}
	prices, err := s.client.NewListPricesService().Symbols(tickers).Do(ctx)
	if err != nil {
		return fmt.Errorf("拉取行情失败: %w", err)
	}
	for _, p := range prices {
		value, err := decimal.NewFromString(p.Price)
		if err != nil || value.Sign() <= 0 {
			logger.Warnf("忽略非法行情 %s=%q", p.Symbol, p.Price)
			continue
		}
		s.cache[p.Symbol] = value
	}
	s.fetchedAt = s.nowFn()
	return nil
}
