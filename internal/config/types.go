package config

// Config 是 solfolio 的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	Aggregator AggregatorConfig `toml:"aggregator"`
	Chain      ChainConfig      `toml:"chain"`
	Market     MarketConfig     `toml:"market"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Execution  ExecutionConfig  `toml:"execution"`
	Allocation AllocationConfig `toml:"allocation"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// AggregatorConfig 描述外部报价/换币聚合器的访问方式与保护参数。
type AggregatorConfig struct {
	BaseURL                string  `toml:"base_url"`
	TimeoutSeconds         int     `toml:"timeout_seconds"`
	RateLimitPerSec        float64 `toml:"rate_limit_per_sec"`
	RateBurst              int     `toml:"rate_burst"`
	BreakerThreshold       int     `toml:"breaker_threshold"`
	BreakerCooldownSeconds int     `toml:"breaker_cooldown_seconds"`
	QuoteTTLSeconds        int     `toml:"quote_ttl_seconds"`
}

// ChainConfig 区分交易路径与只读路径的 RPC 端点，隔离限流预算。
type ChainConfig struct {
	TradeRPCURL    string `toml:"trade_rpc_url"`
	ReadRPCURL     string `toml:"read_rpc_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	KeypairPath    string `toml:"keypair_path"`
}

type MarketConfig struct {
	RESTBaseURL     string `toml:"rest_base_url"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
}

type LedgerConfig struct {
	DBPath     string `toml:"db_path"`
	RunLogPath string `toml:"runlog_path"`
}

// ExecutionConfig 是批量执行控制器的策略参数，而非散落在循环里的常量。
type ExecutionConfig struct {
	InterLegDelayMS      int   `toml:"inter_leg_delay_ms"`
	ConfirmMaxAttempts   int   `toml:"confirm_max_attempts"`
	ConfirmBaseDelayMS   int   `toml:"confirm_base_delay_ms"`
	QuoteTimeoutSeconds  int   `toml:"quote_timeout_seconds"`
	FeeReserveLamports   int64 `toml:"fee_reserve_lamports"`
	SubmitTimeoutSeconds int   `toml:"submit_timeout_seconds"`
}

type AllocationConfig struct {
	ProfilePath string `toml:"profile_path"`
}
