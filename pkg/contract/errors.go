package contract

import (
	"errors"
	"fmt"
	"strings"
)

// 最小错误分类（用于上层策略判定与日志分类）。
var (
	// ErrTransport: 传输失败（不可达、超时、非 2xx）。仅通过账户回退重试。
	ErrTransport = errors.New("transport failure")
	// ErrResponseInvalid: 响应形状错误（非 JSON、缺账户键、缺成功字段）。按传输错误同等回退。
	ErrResponseInvalid = errors.New("response invalid")
	// ErrSegmentMismatch: 解析段数与请求项数不一致。交由二分恢复处理。
	ErrSegmentMismatch = errors.New("segment count mismatch")
	// ErrRecoveryExhausted: 恢复失败（回退耗尽、单项空输出、无法继续二分）。终止整次运行。
	ErrRecoveryExhausted = errors.New("recovery exhausted")
	// ErrRateLimited: 上游 429。
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidInput: 输入/参数非法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoEligible: 文档中没有可改写的条目。
	ErrNoEligible = errors.New("no eligible items")
	// ErrModeUnknown: 模式缺少常量表条目（配置错误）。
	ErrModeUnknown = errors.New("mode unknown")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrSeqInvalid: 装配序列违规（ID 非严格升序等）。
	ErrSeqInvalid = errors.New("sequence invalid")
)

// AccountError: 携带账户与请求标签的单账户失败。
type AccountError struct {
	Account AccountKey
	Label   string
	Err     error
}

func (e *AccountError) Error() string {
	if e.Label == "" {
		return fmt.Sprintf("%s: %v", e.Account, e.Err)
	}
	return fmt.Sprintf("account %s failed in %s: %v", e.Account, e.Label, e.Err)
}

func (e *AccountError) Unwrap() error { return e.Err }

// FallbackError: 回退序列内全部账户均失败的聚合错误。
type FallbackError struct {
	Label    string
	Failures []AccountError
}

func (e *FallbackError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Account, f.Err))
	}
	return fmt.Sprintf("recovery failed across all accounts for %s: %s", e.Label, strings.Join(parts, " | "))
}

// Unwrap 同时暴露 ErrRecoveryExhausted 与各账户的底层错误。
func (e *FallbackError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures)+1)
	out = append(out, ErrRecoveryExhausted)
	for i := range e.Failures {
		out = append(out, &e.Failures[i])
	}
	return out
}
