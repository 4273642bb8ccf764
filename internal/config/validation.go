package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Aggregator.validate(); err != nil {
		return err
	}
	if err := c.Chain.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Ledger.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AggregatorConfig) validate() error {
	if err := checkURL("aggregator.base_url", a.BaseURL); err != nil {
		return err
	}
	return nil
}

func (c *ChainConfig) validate() error {
	if strings.TrimSpace(c.TradeRPCURL) == "" {
		return fmt.Errorf("chain.trade_rpc_url 不能为空")
	}
	if err := checkURL("chain.trade_rpc_url", c.TradeRPCURL); err != nil {
		return err
	}
	if err := checkURL("chain.read_rpc_url", c.ReadRPCURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.KeypairPath) == "" {
		return fmt.Errorf("chain.keypair_path 不能为空")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	return checkURL("market.rest_base_url", m.RESTBaseURL)
}

func (l *LedgerConfig) validate() error {
	if strings.TrimSpace(l.DBPath) == "" {
		return fmt.Errorf("ledger.db_path 不能为空")
	}
	return nil
}

func checkURL(key, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s 不能为空", key)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s 不是合法 URL: %s", key, raw)
	}
	return nil
}
