package types

import (
	"errors"
	"fmt"
)

// 输入类错误：快速失败，不可重试，由调用方修正。
var (
	ErrInvalidRiskScore = errors.New("风险评分必须是 1-10 的整数")
	ErrInvalidPrincipal = errors.New("本金必须大于 0")
	ErrInvalidSlippage  = errors.New("滑点容忍度必须显式指定且大于 0")
)

// QuoteError 表示聚合器报价失败。报价反映瞬时流动性快照，一律视为可重试。
type QuoteError struct {
	Reason string
	Err    error
}

func (e *QuoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("quote failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("quote failed (%s)", e.Reason)
}

func (e *QuoteError) Unwrap() error { return e.Err }

// Retryable always returns true for quote errors.
func (e *QuoteError) Retryable() bool { return true }

// SubmissionError 表示链上提交失败；余额不足时不可重试，需用户介入。
type SubmissionError struct {
	Reason    string
	Transient bool
	Err       error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submit failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("submit failed (%s)", e.Reason)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func (e *SubmissionError) Retryable() bool { return e.Transient }

// ErrConfirmationTimeout: 确认轮询耗尽。真实链上结果未知，重试前必须先对账。
var ErrConfirmationTimeout = errors.New("确认轮询超时，链上结果未知")

// ErrInsufficientBalance 由链网关在余额不足时返回。
var ErrInsufficientBalance = errors.New("余额不足以覆盖本腿金额与网络费")
