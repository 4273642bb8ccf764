package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"solfolio/internal/config"
	"solfolio/internal/gateway/chain"
	"solfolio/internal/types"
)

type MockAggregator struct {
	mock.Mock
}

func (m *MockAggregator) BuildSwap(ctx context.Context, quote types.Quote, signerAddress string) (string, error) {
	args := m.Called(ctx, quote, signerAddress)
	return args.String(0), args.Error(1)
}

type MockChain struct {
	mock.Mock
}

func (m *MockChain) SendTransaction(ctx context.Context, signedTxBase64 string) (string, error) {
	args := m.Called(ctx, signedTxBase64)
	return args.String(0), args.Error(1)
}

func (m *MockChain) SignatureStatus(ctx context.Context, signature string) (chain.TxStatus, error) {
	args := m.Called(ctx, signature)
	return args.Get(0).(chain.TxStatus), args.Error(1)
}

type fakeSigner struct{}

func (fakeSigner) PublicKey() string { return "signer-pubkey" }

func (fakeSigner) Sign(message []byte) ([]byte, error) {
	out := append([]byte{0x01}, message...)
	return out, nil
}

type failingSigner struct{}

func (failingSigner) PublicKey() string { return "signer-pubkey" }
func (failingSigner) Sign([]byte) ([]byte, error) { return nil, errors.New("hsm unavailable") }

func testQuote(routeID string) types.Quote {
	return types.Quote{
		InputAsset:   "USDC",
		OutputAsset:  "SOL",
		InputAmount:  decimal.NewFromInt(150),
		OutputAmount: decimal.RequireFromString("0.833"),
		RouteID:      routeID,
		SlippageBps:  50,
		ExpiresAt:    time.Now().Add(20 * time.Second),
		Raw:          []byte(`{"routeId":"r"}`),
	}
}

func newTestExecutor(agg AggregatorAPI, chainAPI ChainAPI) *Executor {
	e := New(agg, chainAPI, config.ExecutionConfig{
		ConfirmMaxAttempts:   3,
		ConfirmBaseDelayMS:   1,
		SubmitTimeoutSeconds: 5,
	})
	e.sleepFn = func(time.Duration) {}
	return e
}

func TestExecute_HappyPath(t *testing.T) {
	agg := new(MockAggregator)
	chainAPI := new(MockChain)
	exec := newTestExecutor(agg, chainAPI)

	blob := base64.StdEncoding.EncodeToString([]byte("unsigned-tx"))
	agg.On("BuildSwap", mock.Anything, mock.Anything, "signer-pubkey").Return(blob, nil)
	chainAPI.On("SendTransaction", mock.Anything, mock.Anything).Return("sig-1", nil)
	chainAPI.On("SignatureStatus", mock.Anything, "sig-1").Return(chain.TxStatusConfirmed, nil)

	res := exec.Execute(context.Background(), testQuote("route-1"), fakeSigner{})

	assert.Equal(t, types.LegSettled, res.Status)
	assert.Equal(t, "sig-1", res.Signature)
	assert.Equal(t, "SOL", res.Symbol)
	assert.True(t, res.OutputAmount.Equal(decimal.RequireFromString("0.833")))
	assert.NotEmpty(t, res.AttemptID)
	assert.False(t, res.SettledAt.IsZero())
	chainAPI.AssertNumberOfCalls(t, "SendTransaction", 1)
}

func TestExecute_StaleQuoteFailsFast(t *testing.T) {
	agg := new(MockAggregator)
	chainAPI := new(MockChain)
	exec := newTestExecutor(agg, chainAPI)

	quote := testQuote("route-stale")
	quote.ExpiresAt = time.Now().Add(-time.Second)

	res := exec.Execute(context.Background(), quote, fakeSigner{})

	assert.Equal(t, types.LegFailed, res.Status)
	assert.Equal(t, types.ReasonStaleQuote, res.Reason)
	assert.True(t, res.Retryable)
	// 过期报价不允许触达任何下游。
	agg.AssertNotCalled(t, "BuildSwap")
	chainAPI.AssertNotCalled(t, "SendTransaction")
}

func TestExecute_ConsumedQuoteRejectsResubmit(t *testing.T) {
	agg := new(MockAggregator)
	chainAPI := new(MockChain)
	exec := newTestExecutor(agg, chainAPI)

	blob := base64.StdEncoding.EncodeToString([]byte("unsigned-tx"))
	agg.On("BuildSwap", mock.Anything, mock.Anything, mock.Anything).Return(blob, nil)
	chainAPI.On("SendTransaction", mock.Anything, mock.Anything).Return("sig-1", nil)
	chainAPI.On("SignatureStatus", mock.Anything, "sig-1").Return(chain.TxStatusConfirmed, nil)

	quote := testQuote("route-dup")
	first := exec.Execute(context.Background(), quote, fakeSigner{})
	require.Equal(t, types.LegSettled, first.Status)

	second := exec.Execute(context.Background(), quote, fakeSigner{})
	assert.Equal(t, types.LegFailed, second.Status)
	assert.Equal(t, types.ReasonQuoteConsumed, second.Reason)
	// 同一报价绝不产生两笔广播。
	chainAPI.AssertNumberOfCalls(t, "SendTransaction", 1)
}

func TestExecute_SignFailureIsNotRetryable(t *testing.T) {
	agg := new(MockAggregator)
	chainAPI := new(MockChain)
	exec := newTestExecutor(agg, chainAPI)

	blob := base64.StdEncoding.EncodeToString([]byte("unsigned-tx"))
	agg.On("BuildSwap", mock.Anything, mock.Anything, mock.Anything).Return(blob, nil)

	res := exec.Execute(context.Background(), testQuote("route-sign"), failingSigner{})

	assert.Equal(t, types.LegFailed, res.Status)
	assert.Equal(t, types.ReasonSignFailed, res.Reason)
	assert.False(t, res.Retryable)
	chainAPI.AssertNotCalled(t, "SendTransaction")
}

func TestExecute_InsufficientBalanceIsNotRetryable(t *testing.T) {
	agg := new(MockAggregator)
	chainAPI := new(MockChain)
	exec := newTestExecutor(agg, chainAPI)

	blob := base64.StdEncoding.EncodeToString([]byte("unsigned-tx"))
	agg.On("BuildSwap", mock.Anything, mock.Anything, mock.Anything).Return(blob, nil)
	chainAPI.On("SendTransaction", mock.Anything, mock.Anything).Return("", &types.SubmissionError{
		Reason:    types.ReasonInsufficientBalance,
		Transient: false,
		Err:       types.ErrInsufficientBalance,
	})

	res := exec.Execute(context.Background(), testQuote("route-poor"), fakeSigner{})

	assert.Equal(t, types.LegFailed, res.Status)
	assert.Equal(t, types.ReasonInsufficientBalance, res.Reason)
	assert.False(t, res.Retryable)
}

func TestExecute_ConfirmationTimeout(t *testing.T) {
	agg := new(MockAggregator)
	chainAPI := new(MockChain)
	exec := newTestExecutor(agg, chainAPI)

	blob := base64.StdEncoding.EncodeToString([]byte("unsigned-tx"))
	agg.On("BuildSwap", mock.Anything, mock.Anything, mock.Anything).Return(blob, nil)
	chainAPI.On("SendTransaction", mock.Anything, mock.Anything).Return("sig-slow", nil)
	chainAPI.On("SignatureStatus", mock.Anything, "sig-slow").Return(chain.TxStatusPending, nil)

	res := exec.Execute(context.Background(), testQuote("route-slow"), fakeSigner{})

	// 轮询耗尽：结果未知，标记可重试但必须先对账。
	assert.Equal(t, types.LegFailed, res.Status)
	assert.Equal(t, types.ReasonConfirmationTimeout, res.Reason)
	assert.True(t, res.Retryable)
	chainAPI.AssertNumberOfCalls(t, "SignatureStatus", 3)
}

func TestExecute_OnChainRejection(t *testing.T) {
	agg := new(MockAggregator)
	chainAPI := new(MockChain)
	exec := newTestExecutor(agg, chainAPI)

	blob := base64.StdEncoding.EncodeToString([]byte("unsigned-tx"))
	agg.On("BuildSwap", mock.Anything, mock.Anything, mock.Anything).Return(blob, nil)
	chainAPI.On("SendTransaction", mock.Anything, mock.Anything).Return("sig-bad", nil)
	chainAPI.On("SignatureStatus", mock.Anything, "sig-bad").Return(chain.TxStatusFailed, nil)

	res := exec.Execute(context.Background(), testQuote("route-bad"), fakeSigner{})

	assert.Equal(t, types.LegFailed, res.Status)
	assert.Equal(t, types.ReasonOnChainRejected, res.Reason)
	assert.False(t, res.Retryable)
}

func TestExecute_ConfirmationSurvivesCancelledContext(t *testing.T) {
	agg := new(MockAggregator)
	chainAPI := new(MockChain)
	exec := newTestExecutor(agg, chainAPI)

	ctx, cancel := context.WithCancel(context.Background())

	blob := base64.StdEncoding.EncodeToString([]byte("unsigned-tx"))
	agg.On("BuildSwap", mock.Anything, mock.Anything, mock.Anything).Return(blob, nil)
	chainAPI.On("SendTransaction", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("sig-race", nil)
	chainAPI.On("SignatureStatus", mock.Anything, "sig-race").Return(chain.TxStatusConfirmed, nil)

	res := exec.Execute(ctx, testQuote("route-race"), fakeSigner{})

	// 广播后取消批次不丢确认：本腿仍轮询到终态。
	assert.Equal(t, types.LegSettled, res.Status)
	assert.Equal(t, "sig-race", res.Signature)
}

func TestExecute_BuildFailure(t *testing.T) {
	agg := new(MockAggregator)
	chainAPI := new(MockChain)
	exec := newTestExecutor(agg, chainAPI)

	agg.On("BuildSwap", mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("aggregator down"))

	res := exec.Execute(context.Background(), testQuote("route-build"), fakeSigner{})

	assert.Equal(t, types.LegFailed, res.Status)
	assert.Equal(t, types.ReasonBuildFailed, res.Reason)
	assert.True(t, res.Retryable)
}
