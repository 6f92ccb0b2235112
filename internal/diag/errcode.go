package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"parabatch/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown      Code = "unknown"
	CodeNetwork      Code = "network"
	CodeProtocol     Code = "protocol"
	CodeSegmentation Code = "segmentation"
	CodeFatal        Code = "fatal"
	CodeInvariant    Code = "invariant"
	CodeBudget       Code = "budget"
	CodeCancel       Code = "cancel"
	CodeIO           Code = "io"
	CodeConfig       Code = "config"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
// 恢复耗尽优先于其内部的账户错误。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrRecoveryExhausted) {
		return CodeFatal
	}
	if errors.Is(err, contract.ErrRateLimited) {
		return CodeBudget
	}
	if errors.Is(err, contract.ErrModeUnknown) {
		return CodeConfig
	}
	if errors.Is(err, contract.ErrSegmentMismatch) {
		return CodeSegmentation
	}
	if errors.Is(err, contract.ErrResponseInvalid) {
		return CodeProtocol
	}
	if errors.Is(err, contract.ErrTransport) {
		return CodeNetwork
	}
	if errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrNoEligible) ||
		errors.Is(err, contract.ErrSeqInvalid) ||
		errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
