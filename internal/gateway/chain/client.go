// Package chain 封装链上 RPC：广播交易、轮询确认、查询余额。
// 交易路径与只读路径使用各自的端点，互不挤占限流预算。
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"solfolio/internal/config"
	"solfolio/internal/types"
)

// TxStatus 是一笔已提交交易的链上状态。
type TxStatus int

const (
	TxStatusPending TxStatus = iota
	TxStatusConfirmed
	TxStatusFailed
)

func (s TxStatus) String() string {
	switch s {
	case TxStatusPending:
		return "PENDING"
	case TxStatusConfirmed:
		return "CONFIRMED"
	case TxStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Client 是链 RPC 客户端。
type Client struct {
	tradeURL   string
	readURL    string
	httpClient *http.Client
}

// NewClient constructs a chain RPC client from configuration.
func NewClient(cfg config.ChainConfig) (*Client, error) {
	trade := strings.TrimSpace(cfg.TradeRPCURL)
	if trade == "" {
		return nil, fmt.Errorf("chain.trade_rpc_url 不能为空")
	}
	read := strings.TrimSpace(cfg.ReadRPCURL)
	if read == "" {
		read = trade
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		tradeURL:   trade,
		readURL:    read,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SendTransaction 广播一笔已签名交易（base64），返回交易签名。
// 余额不足映射为不可重试的 SubmissionError，其余失败视为瞬时。
func (c *Client) SendTransaction(ctx context.Context, signedTxBase64 string) (string, error) {
	result, err := c.call(ctx, c.tradeURL, "sendTransaction", []any{
		signedTxBase64,
		map[string]any{"encoding": "base64", "skipPreflight": false},
	})
	if err != nil {
		if isInsufficientFunds(err) {
			return "", &types.SubmissionError{Reason: types.ReasonInsufficientBalance, Transient: false, Err: types.ErrInsufficientBalance}
		}
		return "", &types.SubmissionError{Reason: types.ReasonSubmitFailed, Transient: true, Err: err}
	}
	sig := result.String()
	if sig == "" {
		return "", &types.SubmissionError{Reason: types.ReasonSubmitFailed, Transient: true, Err: fmt.Errorf("RPC 未返回签名")}
	}
	return sig, nil
}

// SignatureStatus 查询一笔交易的确认状态。查不到视为 pending。
func (c *Client) SignatureStatus(ctx context.Context, signature string) (TxStatus, error) {
	result, err := c.call(ctx, c.tradeURL, "getSignatureStatuses", []any{
		[]string{signature},
		map[string]any{"searchTransactionHistory": true},
	})
	if err != nil {
		return TxStatusPending, err
	}
	entry := result.Get("value.0")
	if !entry.Exists() || entry.Type == gjson.Null {
		return TxStatusPending, nil
	}
	if chainErr := entry.Get("err"); chainErr.Exists() && chainErr.Type != gjson.Null {
		return TxStatusFailed, nil
	}
	switch entry.Get("confirmationStatus").String() {
	case "confirmed", "finalized":
		return TxStatusConfirmed, nil
	default:
		return TxStatusPending, nil
	}
}

// Balance 返回地址的 lamports 余额（只读端点）。
func (c *Client) Balance(ctx context.Context, address string) (int64, error) {
	result, err := c.call(ctx, c.readURL, "getBalance", []any{address})
	if err != nil {
		return 0, err
	}
	value := result.Get("value")
	if !value.Exists() {
		return 0, fmt.Errorf("getBalance 响应缺少 value")
	}
	return value.Int(), nil
}

func (c *Client) call(ctx context.Context, endpoint, method string, params []any) (gjson.Result, error) {
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return gjson.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("RPC %s 请求失败: %w", method, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, fmt.Errorf("RPC %s http %d", method, resp.StatusCode)
	}
	parsed := gjson.ParseBytes(body)
	if rpcErr := parsed.Get("error"); rpcErr.Exists() {
		return gjson.Result{}, fmt.Errorf("RPC %s 错误: %s", method, rpcErr.Get("message").String())
	}
	return parsed.Get("result"), nil
}

func isInsufficientFunds(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "insufficient lamports") ||
		strings.Contains(msg, "insufficient funds")
}
