// Package executor 把一条已报价的腿变成一笔链上交易：构造、签名、广播、确认。
package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"solfolio/internal/config"
	"solfolio/internal/gateway/chain"
	"solfolio/internal/logger"
	"solfolio/internal/types"
)

// Signer 是显式传入的签名能力，绝不做全局状态。
type Signer interface {
	PublicKey() string
	Sign(message []byte) ([]byte, error)
}

// AggregatorAPI 是执行器需要的聚合器子集。
type AggregatorAPI interface {
	BuildSwap(ctx context.Context, quote types.Quote, signerAddress string) (string, error)
}

// ChainAPI 是执行器需要的链网关子集。
type ChainAPI interface {
	SendTransaction(ctx context.Context, signedTxBase64 string) (string, error)
	SignatureStatus(ctx context.Context, signature string) (chain.TxStatus, error)
}

// Executor 逐腿执行换币。每次成功的 Submit 恰好广播一笔交易，
// 同一报价（RouteID）被消费后不允许二次提交。
type Executor struct {
	agg   AggregatorAPI
	chain ChainAPI

	confirmMaxAttempts int
	confirmBaseDelay   time.Duration
	submitTimeout      time.Duration

	nowFn   func() time.Time
	sleepFn func(d time.Duration)

	consumedMu sync.Mutex
	consumed   map[string]struct{}
}

// New constructs an Executor.
func New(agg AggregatorAPI, chainClient ChainAPI, cfg config.ExecutionConfig) *Executor {
	return &Executor{
		agg:                agg,
		chain:              chainClient,
		confirmMaxAttempts: cfg.ConfirmMaxAttempts,
		confirmBaseDelay:   cfg.ConfirmBaseDelay(),
		submitTimeout:      time.Duration(cfg.SubmitTimeoutSeconds) * time.Second,
		nowFn:              time.Now,
		sleepFn:            time.Sleep,
		consumed:           make(map[string]struct{}),
	}
}

// Execute 运行状态机 Quoted→Submitting→Submitted→Confirming→Confirmed/Failed。
// 永远返回一条结果，绝不丢腿。
func (e *Executor) Execute(ctx context.Context, quote types.Quote, signer Signer) types.LegResult {
	attemptID := uuid.NewString()
	state := StateQuoted

	fail := func(reason string, retryable bool) types.LegResult {
		logger.Warnf("腿 %s 执行失败于 %s: reason=%s retryable=%v", quote.OutputAsset, state, reason, retryable)
		return types.LegResult{
			Symbol:    quote.OutputAsset,
			Status:    types.LegFailed,
			AttemptID: attemptID,
			Reason:    reason,
			Retryable: retryable,
		}
	}

	// 过期报价直接快速失败，绝不带着过时价格上链。
	if quote.Expired(e.nowFn()) {
		return fail(types.ReasonStaleQuote, true)
	}
	if !e.consume(quote.RouteID) {
		return fail(types.ReasonQuoteConsumed, true)
	}

	blob, err := e.agg.BuildSwap(ctx, quote, signer.PublicKey())
	if err != nil {
		return fail(types.ReasonBuildFailed, true)
	}
	rawTx, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return fail(types.ReasonBuildFailed, true)
	}

	signed, err := signer.Sign(rawTx)
	if err != nil {
		return fail(types.ReasonSignFailed, false)
	}

	state = StateSubmitting
	submitCtx, cancel := context.WithTimeout(ctx, e.submitTimeout)
	signature, err := e.chain.SendTransaction(submitCtx, base64.StdEncoding.EncodeToString(signed))
	cancel()
	if err != nil {
		var subErr *types.SubmissionError
		if errors.As(err, &subErr) {
			return fail(subErr.Reason, subErr.Retryable())
		}
		return fail(types.ReasonSubmitFailed, true)
	}
	state = StateSubmitted
	logger.Infof("腿 %s 已广播: signature=%s", quote.OutputAsset, signature)

	state = StateConfirming
	status := e.awaitConfirmation(ctx, signature)
	switch status {
	case chain.TxStatusConfirmed:
		state = StateConfirmed
		logger.Infof("腿 %s 确认落块: signature=%s", quote.OutputAsset, signature)
		return types.LegResult{
			Symbol:       quote.OutputAsset,
			Status:       types.LegSettled,
			AttemptID:    attemptID,
			Signature:    signature,
			OutputAmount: quote.OutputAmount,
			SettledAt:    e.nowFn(),
		}
	case chain.TxStatusFailed:
		return fail(types.ReasonOnChainRejected, false)
	default:
		// 轮询耗尽：链上结果未知，必须先对账再重试。
		return fail(types.ReasonConfirmationTimeout, true)
	}
}

// awaitConfirmation 以指数退避轮询确认。交易一旦广播就不半途而废：
// 即使批次被取消，本腿也要轮询到终态或耗尽次数。
func (e *Executor) awaitConfirmation(ctx context.Context, signature string) chain.TxStatus {
	pollCtx := context.WithoutCancel(ctx)
	delay := e.confirmBaseDelay
	for attempt := 0; attempt < e.confirmMaxAttempts; attempt++ {
		if attempt > 0 {
			e.sleepFn(delay)
			if delay < 8*time.Second {
				delay *= 2
			}
		}
		status, err := e.chain.SignatureStatus(pollCtx, signature)
		if err != nil {
			logger.Debugf("确认查询失败 (attempt=%d): %v", attempt+1, err)
			continue
		}
		if status != chain.TxStatusPending {
			return status
		}
	}
	return chain.TxStatusPending
}

func (e *Executor) consume(routeID string) bool {
	e.consumedMu.Lock()
	defer e.consumedMu.Unlock()
	if _, dup := e.consumed[routeID]; dup {
		return false
	}
	e.consumed[routeID] = struct{}{}
	return true
}
