package reconcile

import (
	"context"
	"time"

	"parabatch/internal/diag"
	"parabatch/internal/rate"
	"parabatch/pkg/contract"
)

// FallbackOrder 返回恢复调用的账户顺序：首选账户在前，其余按固定顺序。未知首选账户被跳过。
func FallbackOrder(preferred contract.AccountKey) []contract.AccountKey {
	out := make([]contract.AccountKey, 0, len(contract.AccountKeys))
	if preferred.Valid() {
		out = append(out, preferred)
	}
	for _, k := range contract.AccountKeys {
		if k != preferred {
			out = append(out, k)
		}
	}
	return out
}

// Extract 取账户输出；上游报告 fallbackUsed 时记 warn。
func Extract(resp contract.BatchResponse, acc contract.AccountKey, f contract.OutputField, label string, logger *diag.Logger) (string, error) {
	out, err := resp.Output(acc, f)
	if err != nil {
		return "", err
	}
	if fb := resp[acc].FallbackUsed; fb != "" {
		logger.Warn("remote", "fallback_used", "upstream used fallback", map[string]string{
			"request": label, "account": string(acc), "fallback": fb,
		})
	}
	return out, nil
}

// Caller 发起单账户恢复调用，失败时按 FallbackOrder 依次换账户。
type Caller struct {
	Remote contract.RemoteClient
	Mode   contract.Mode
	Field  contract.OutputField
	Gate   rate.Gate // 可为 nil
	Logger *diag.Logger
}

// Call 返回首个成功账户的原始输出。
// 全部账户失败时返回 *contract.FallbackError；ctx 取消立即返回 ctx 错误，不计为账户失败。
func (c *Caller) Call(ctx context.Context, preferred contract.AccountKey, items []*contract.WorkItem, label string) (string, error) {
	text := contract.JoinPayload(contract.ItemTexts(items))
	var failures []contract.AccountError
	for _, acc := range FallbackOrder(preferred) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		out, err := c.once(ctx, acc, text, label)
		if err == nil {
			return out, nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return "", cerr
		}
		failures = append(failures, contract.AccountError{Account: acc, Label: label, Err: err})
		c.Logger.Warn("reconcile", string(diag.Classify(err)), "recovery call failed", map[string]string{
			"request": label, "account": string(acc), "error": err.Error(),
		})
	}
	return "", &contract.FallbackError{Label: label, Failures: failures}
}

func (c *Caller) once(ctx context.Context, acc contract.AccountKey, text, label string) (string, error) {
	if c.Gate != nil {
		if err := c.Gate.Wait(ctx, rate.Ask{Key: rate.KeyFor(acc), Requests: 1}); err != nil {
			return "", err
		}
	}
	start := time.Now()
	resp, err := c.Remote.Call(ctx, contract.BatchRequest{Mode: c.Mode, Payload: map[contract.AccountKey]string{acc: text}})
	diag.ObserveDuration("reconcile", "call", time.Since(start).Milliseconds())
	if err != nil {
		diag.IncOp("reconcile", "call", "error")
		return "", err
	}
	out, err := Extract(resp, acc, c.Field, label, c.Logger)
	if err != nil {
		diag.IncOp("reconcile", "call", "error")
		return "", err
	}
	diag.IncOp("reconcile", "call", "success")
	return out, nil
}
