package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"parabatch/internal/diag"
	"parabatch/pkg/contract"
)

// DefaultMaxDepth: 二分深度上限，达到后逐条恢复。
const DefaultMaxDepth = 6

// Result: 单个账户分块的对账结果。
type Result struct {
	// Segments 与分块条目一一对应（同序、非空）。
	Segments []string
	// InitialErr: 首次输出不可用的原因（nil 表示首次即对齐）。
	InitialErr error
	// RecoveryCalls: 恢复阶段发起的调用次数（每次可能跨多个回退账户）。
	RecoveryCalls int
	Recovered     bool
}

// Engine 将批响应映射回条目，失配时执行回退与二分恢复。
type Engine struct {
	Caller   *Caller
	MaxDepth int // <=0 时使用 DefaultMaxDepth
	Logger   *diag.Logger
}

// frame: 恢复工作栈中的一项；offset 为其在分块内的起始位置。
type frame struct {
	items  []*contract.WorkItem
	offset int
	depth  int
	label  string
}

// Reconcile 对账一个分块。raw 为首次响应中该账户的输出；initErr 非 nil 表示首次输出不可用。
// 首次输出恰好切出 n 段时直接采用，否则进入恢复：
// - 每帧一次回退调用；段数对齐即写入；
// - 单条目取整段裁剪后的输出，空输出为致命错误；
// - 深度达到上限时逐条入栈，否则从中点二分（左半先处理）。
// 结果满足 contract.ValidateSegments，否则返回错误。
func (e *Engine) Reconcile(ctx context.Context, chunk contract.AccountChunk, raw string, initErr error, label string) (Result, error) {
	n := len(chunk.Items)
	if n == 0 {
		return Result{}, nil
	}
	if initErr == nil {
		parts := Split(raw, n)
		if len(parts) == n {
			if err := contract.ValidateSegments(chunk.Items, parts); err != nil {
				return Result{}, fmt.Errorf("reconcile: %s: %w", label, err)
			}
			return Result{Segments: parts}, nil
		}
		initErr = fmt.Errorf("expected %d segments, got %d: %w", n, len(parts), contract.ErrSegmentMismatch)
	}
	e.Logger.Warn("reconcile", string(diag.Classify(initErr)), "initial chunk failed; retrying with recovery", map[string]string{
		"request": label, "account": string(chunk.Account), "error": initErr.Error(),
	})
	diag.IncError("reconcile", string(diag.Classify(initErr)))

	res := Result{InitialErr: initErr, Recovered: true}
	segs, calls, err := e.recover(ctx, chunk, label)
	res.RecoveryCalls = calls
	if err != nil {
		return res, err
	}
	if err := contract.ValidateSegments(chunk.Items, segs); err != nil {
		return res, fmt.Errorf("reconcile: response count mismatch in %s after recovery: %w", label, err)
	}
	res.Segments = segs
	return res, nil
}

func (e *Engine) maxDepth() int {
	if e.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return e.MaxDepth
}

// recover 以显式工作栈执行恢复，避免递归深度失控。
func (e *Engine) recover(ctx context.Context, chunk contract.AccountChunk, label string) ([]string, int, error) {
	segs := make([]string, len(chunk.Items))
	stack := []frame{{items: chunk.Items, offset: 0, depth: 0, label: label}}
	calls := 0
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		out, err := e.Caller.Call(ctx, chunk.Account, f.items, f.label+":retry-d"+strconv.Itoa(f.depth))
		calls++
		if err != nil {
			return nil, calls, err
		}
		k := len(f.items)
		parts := Split(out, k)
		switch {
		case len(parts) == k:
			copy(segs[f.offset:], parts)
		case k == 1:
			single := strings.TrimSpace(out)
			if single == "" {
				return nil, calls, fmt.Errorf("reconcile: recovery failed for single item in %s: %w", f.label, contract.ErrRecoveryExhausted)
			}
			segs[f.offset] = single
		case f.depth >= e.maxDepth():
			for i := k - 1; i >= 0; i-- {
				stack = append(stack, frame{
					items:  f.items[i : i+1 : i+1],
					offset: f.offset + i,
					depth:  f.depth + 1,
					label:  f.label + ":single-" + strconv.Itoa(i),
				})
			}
		default:
			mid := k / 2
			e.Logger.Warn("reconcile", string(diag.CodeSegmentation), "delimiter mismatch; retrying in smaller batches", map[string]string{
				"request": f.label, "account": string(chunk.Account),
				"expected": strconv.Itoa(k), "got": strconv.Itoa(len(parts)),
			})
			stack = append(stack,
				frame{items: f.items[mid:], offset: f.offset + mid, depth: f.depth + 1, label: f.label + ":right"},
				frame{items: f.items[:mid:mid], offset: f.offset, depth: f.depth + 1, label: f.label + ":left"},
			)
		}
	}
	return segs, calls, nil
}
