package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solfolio/internal/config"
)

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func newTestService(t *testing.T, hits *atomic.Int32, prices []tickerPrice) *Service {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(prices)
	}))
	t.Cleanup(server.Close)
	return NewService(config.MarketConfig{RESTBaseURL: server.URL, CacheTTLSeconds: 60})
}

func TestPrice_StableIsAlwaysOne(t *testing.T) {
	var hits atomic.Int32
	svc := newTestService(t, &hits, nil)

	for _, sym := range []string{"USDC", "USDT"} {
		price, err := svc.Price(context.Background(), sym)
		require.NoError(t, err)
		assert.True(t, price.Equal(decimal.NewFromInt(1)))
	}
	// 稳定币不触发行情请求。
	assert.Zero(t, hits.Load())
}

func TestPrice_FetchesAndCaches(t *testing.T) {
	var hits atomic.Int32
	svc := newTestService(t, &hits, []tickerPrice{
		{Symbol: "SOLUSDT", Price: "128.5"},
		{Symbol: "BTCUSDT", Price: "97000"},
	})

	price, err := svc.Price(context.Background(), "SOL")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("128.5")))

	// TTL 内第二次查询走缓存。
	price, err = svc.Price(context.Background(), "BTC")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(97000)))
	assert.Equal(t, int32(1), hits.Load())
}

func TestPrice_UnknownSymbol(t *testing.T) {
	var hits atomic.Int32
	svc := newTestService(t, &hits, nil)
	_, err := svc.Price(context.Background(), "DOGE")
	assert.Error(t, err)
}

func TestPrice_MissingTickerAfterRefresh(t *testing.T) {
	var hits atomic.Int32
	svc := newTestService(t, &hits, []tickerPrice{{Symbol: "SOLUSDT", Price: "128.5"}})
	_, err := svc.Price(context.Background(), "BTC")
	assert.Error(t, err)
}

func TestPrice_ToleratesRefreshFailureWithWarmCache(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]tickerPrice{{Symbol: "SOLUSDT", Price: "128.5"}})
	}))
	defer server.Close()

	svc := NewService(config.MarketConfig{RESTBaseURL: server.URL, CacheTTLSeconds: 1})
	now := time.Now()
	svc.nowFn = func() time.Time { return now }

	_, err := svc.Price(context.Background(), "SOL")
	require.NoError(t, err)

	// 缓存过期且下游故障：沿用旧价格而不是报错。
	fail.Store(true)
	now = now.Add(time.Hour)
	price, err := svc.Price(context.Background(), "SOL")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("128.5")))
}
