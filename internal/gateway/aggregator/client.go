// Package aggregator 封装外部换币聚合器的 HTTP API（报价 + 构造未签名交易）。
// 聚合器响应视为不可信输入：先过 JSON Schema，再核对金额回显。
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"solfolio/internal/config"
	"solfolio/internal/logger"
	"solfolio/internal/pkg/circuit"
	"solfolio/internal/pkg/symbol"
	"solfolio/internal/types"
)

// Client 是无状态的聚合器客户端：除网络调用外不产生任何副作用。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuit.Breaker
	quoteTTL   time.Duration
	nowFn      func() time.Time
}

// NewClient constructs an aggregator client from configuration.
func NewClient(cfg config.AggregatorConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("aggregator.base_url 不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("解析 aggregator.base_url 失败: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateBurst),
		breaker:    circuit.NewBreaker("aggregator", cfg.BreakerThreshold, time.Duration(cfg.BreakerCooldownSeconds)*time.Second),
		quoteTTL:   time.Duration(cfg.QuoteTTLSeconds) * time.Second,
		nowFn:      time.Now,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Quote 请求一次报价。滑点必须由调用方显式给出，拒绝隐式默认值。
// 任何非 2xx、负载畸形或金额回显不一致都映射为可重试的 QuoteError。
func (c *Client) Quote(ctx context.Context, inputAsset, outputAsset string, amount decimal.Decimal, slippageBps int) (types.Quote, error) {
	if slippageBps <= 0 {
		return types.Quote{}, types.ErrInvalidSlippage
	}
	in, err := symbol.Lookup(inputAsset)
	if err != nil {
		return types.Quote{}, err
	}
	out, err := symbol.Lookup(outputAsset)
	if err != nil {
		return types.Quote{}, err
	}
	if amount.Sign() <= 0 {
		return types.Quote{}, types.ErrInvalidPrincipal
	}
	atomicIn := amount.Shift(int32(in.Decimals)).Truncate(0)

	q := url.Values{}
	q.Set("inputMint", in.Mint)
	q.Set("outputMint", out.Mint)
	q.Set("amount", atomicIn.String())
	q.Set("slippageBps", fmt.Sprintf("%d", slippageBps))

	body, err := c.get(ctx, "/quote", q)
	if err != nil {
		return types.Quote{}, &types.QuoteError{Reason: "request", Err: err}
	}
	if err := validateQuotePayload(body); err != nil {
		return types.Quote{}, &types.QuoteError{Reason: "schema", Err: err}
	}

	parsed := gjson.ParseBytes(body)
	echoedIn := parsed.Get("inAmount").String()
	if echoedIn != atomicIn.String() {
		return types.Quote{}, &types.QuoteError{
			Reason: "amount_mismatch",
			Err:    fmt.Errorf("请求 %s 回显 %s", atomicIn.String(), echoedIn),
		}
	}
	if mint := parsed.Get("inputMint").String(); mint != in.Mint {
		return types.Quote{}, &types.QuoteError{Reason: "mint_mismatch", Err: fmt.Errorf("inputMint 回显不一致: %s", mint)}
	}
	if mint := parsed.Get("outputMint").String(); mint != out.Mint {
		return types.Quote{}, &types.QuoteError{Reason: "mint_mismatch", Err: fmt.Errorf("outputMint 回显不一致: %s", mint)}
	}

	atomicOut, err := decimal.NewFromString(parsed.Get("outAmount").String())
	if err != nil || atomicOut.Sign() <= 0 {
		return types.Quote{}, &types.QuoteError{Reason: "bad_out_amount", Err: err}
	}
	impact, err := decimal.NewFromString(parsed.Get("priceImpactPct").String())
	if err != nil {
		return types.Quote{}, &types.QuoteError{Reason: "bad_price_impact", Err: err}
	}

	routeID := parsed.Get("routeId").String()
	if routeID == "" {
		// 部分聚合器版本不带 routeId，退化为响应指纹。
		routeID = fmt.Sprintf("%s-%s-%s-%d", in.Symbol, out.Symbol, atomicIn.String(), c.nowFn().UnixNano())
	}

	return types.Quote{
		InputAsset:     in.Symbol,
		OutputAsset:    out.Symbol,
		InputAmount:    amount,
		OutputAmount:   atomicOut.Shift(int32(-out.Decimals)),
		PriceImpactPct: impact.Mul(decimal.NewFromInt(100)),
		RouteID:        routeID,
		SlippageBps:    slippageBps,
		ExpiresAt:      c.nowFn().Add(c.quoteTTL),
		Raw:            json.RawMessage(body),
	}, nil
}

// BuildSwap 用原始报价负载换取未签名交易（base64 编码）。
func (c *Client) BuildSwap(ctx context.Context, quote types.Quote, signerAddress string) (string, error) {
	if strings.TrimSpace(signerAddress) == "" {
		return "", fmt.Errorf("signer address 不能为空")
	}
	if len(quote.Raw) == 0 {
		return "", fmt.Errorf("报价缺少原始负载，无法构造交易")
	}
	payload := map[string]any{
		"quoteResponse": json.RawMessage(quote.Raw),
		"userPublicKey": signerAddress,
	}
	body, err := c.post(ctx, "/swap", payload)
	if err != nil {
		return "", &types.QuoteError{Reason: "swap_build", Err: err}
	}
	if err := validateSwapPayload(body); err != nil {
		return "", &types.QuoteError{Reason: "swap_schema", Err: err}
	}
	return gjson.GetBytes(body, "swapTransaction").String(), nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + path
	endpoint.RawQuery = query.Encode()

	var body []byte
	err := c.breaker.Do(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
		if err != nil {
			return err
		}
		b, err := c.do(req)
		body = b
		return err
	})
	return body, err
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + path

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var body []byte
	err = c.breaker.Do(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(raw))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		b, err := c.do(req)
		body = b
		return err
	})
	return body, err
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warnf("聚合器返回非 2xx: %s %s -> %d", req.Method, req.URL.Path, resp.StatusCode)
		return nil, fmt.Errorf("aggregator http %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
