package config

import "time"

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9982"
	defaultAggregatorURL   = "https://quote-api.jup.ag/v6"
	defaultAggTimeout      = 10
	defaultAggRatePerSec   = 1.0
	defaultAggRateBurst    = 1
	defaultAggBreakerN     = 5
	defaultAggBreakerCool  = 30
	defaultAggQuoteTTL     = 20
	defaultChainTimeout    = 20
	defaultMarketREST      = "https://api.binance.com"
	defaultMarketCacheTTL  = 10
	defaultLedgerDB        = "/data/db/solfolio.db"
	defaultRunLogDB        = "/data/db/runs.db"
	defaultInterLegDelay   = 1200
	defaultConfirmAttempts = 8
	defaultConfirmBaseMS   = 500
	defaultQuoteTimeout    = 10
	defaultSubmitTimeout   = 30
	defaultFeeReserve      = 10_000_000 // 0.01 SOL
)

// applyDefaults 为所有子配置补齐零值字段。
func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Aggregator.applyDefaults()
	c.Chain.applyDefaults()
	c.Market.applyDefaults()
	c.Ledger.applyDefaults()
	c.Execution.applyDefaults()
}

func (a *AppConfig) applyDefaults() {
	if a.Env == "" {
		a.Env = defaultAppEnv
	}
	if a.LogLevel == "" {
		a.LogLevel = defaultAppLogLevel
	}
	if a.HTTPAddr == "" {
		a.HTTPAddr = defaultAppHTTPAddr
	}
}

func (a *AggregatorConfig) applyDefaults() {
	if a.BaseURL == "" {
		a.BaseURL = defaultAggregatorURL
	}
	if a.TimeoutSeconds <= 0 {
		a.TimeoutSeconds = defaultAggTimeout
	}
	if a.RateLimitPerSec <= 0 {
		a.RateLimitPerSec = defaultAggRatePerSec
	}
	if a.RateBurst <= 0 {
		a.RateBurst = defaultAggRateBurst
	}
	if a.BreakerThreshold <= 0 {
		a.BreakerThreshold = defaultAggBreakerN
	}
	if a.BreakerCooldownSeconds <= 0 {
		a.BreakerCooldownSeconds = defaultAggBreakerCool
	}
	if a.QuoteTTLSeconds <= 0 {
		a.QuoteTTLSeconds = defaultAggQuoteTTL
	}
}

func (c *ChainConfig) applyDefaults() {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = defaultChainTimeout
	}
	// 只读端点缺省复用交易端点；反向不成立，交易端点必须显式配置。
	if c.ReadRPCURL == "" {
		c.ReadRPCURL = c.TradeRPCURL
	}
}

func (m *MarketConfig) applyDefaults() {
	if m.RESTBaseURL == "" {
		m.RESTBaseURL = defaultMarketREST
	}
	if m.CacheTTLSeconds <= 0 {
		m.CacheTTLSeconds = defaultMarketCacheTTL
	}
}

func (l *LedgerConfig) applyDefaults() {
	if l.DBPath == "" {
		l.DBPath = defaultLedgerDB
	}
	if l.RunLogPath == "" {
		l.RunLogPath = defaultRunLogDB
	}
}

func (e *ExecutionConfig) applyDefaults() {
	if e.InterLegDelayMS <= 0 {
		e.InterLegDelayMS = defaultInterLegDelay
	}
	if e.ConfirmMaxAttempts <= 0 {
		e.ConfirmMaxAttempts = defaultConfirmAttempts
	}
	if e.ConfirmBaseDelayMS <= 0 {
		e.ConfirmBaseDelayMS = defaultConfirmBaseMS
	}
	if e.QuoteTimeoutSeconds <= 0 {
		e.QuoteTimeoutSeconds = defaultQuoteTimeout
	}
	if e.SubmitTimeoutSeconds <= 0 {
		e.SubmitTimeoutSeconds = defaultSubmitTimeout
	}
	if e.FeeReserveLamports <= 0 {
		e.FeeReserveLamports = defaultFeeReserve
	}
}

// InterLegDelay 返回腿间节奏延迟。
func (e ExecutionConfig) InterLegDelay() time.Duration {
	return time.Duration(e.InterLegDelayMS) * time.Millisecond
}

// ConfirmBaseDelay 返回确认轮询的初始退避间隔。
func (e ExecutionConfig) ConfirmBaseDelay() time.Duration {
	return time.Duration(e.ConfirmBaseDelayMS) * time.Millisecond
}

// QuoteTimeout 返回单次报价的超时。
func (e ExecutionConfig) QuoteTimeout() time.Duration {
	return time.Duration(e.QuoteTimeoutSeconds) * time.Second
}
