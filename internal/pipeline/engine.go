package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"parabatch/internal/batch"
	"parabatch/internal/diag"
	"parabatch/internal/health"
	"parabatch/internal/mode"
	"parabatch/internal/plan"
	"parabatch/internal/rate"
	"parabatch/internal/reconcile"
	"parabatch/pkg/contract"
)

// Engine 串行驱动单个文档的全部批请求：
// 快照 → 取批 → 选账户（含单账户护栏）→ 分配 → 限流 → 调用 → 对账 → 写回。
// 同一时刻至多一个出站批请求；恢复调用同样串行。
type Engine struct {
	Remote   contract.RemoteClient
	Health   *health.Tracker // 可为 nil（始终按无快照规划）
	Profile  mode.Profile
	Limits   batch.Limits
	Selector plan.Selector
	Gate     rate.Gate // 可为 nil
	MaxDepth int       // 恢复二分深度上限，<=0 时取默认
	DryRun   bool
	Logger   *diag.Logger
	FileID   contract.FileID // 仅用于日志与终端
}

// Report: 单文档处理结果汇总。
type Report struct {
	Requests        []contract.RequestSummary
	Items           int
	Words           int
	InitialFailures int
	RecoveryCalls   int
}

// Process 处理 items 直至全部写回。任一账户分块恢复失败即返回错误，已完成的请求保留在 Report 中。
// DryRun 时只规划，不调用远端、不写回。
func (e *Engine) Process(ctx context.Context, items []*contract.WorkItem) (Report, error) {
	rep := Report{Items: len(items)}
	for _, it := range items {
		rep.Words += it.Words
	}
	if err := e.Limits.Validate(); err != nil {
		return rep, fmt.Errorf("pipeline: %v: %w", err, contract.ErrInvalidInput)
	}
	if !e.DryRun && e.Remote == nil {
		return rep, fmt.Errorf("pipeline: missing remote client: %w", contract.ErrInvalidInput)
	}
	rec := &reconcile.Engine{
		Caller: &reconcile.Caller{
			Remote: e.Remote,
			Mode:   e.Profile.Name,
			Field:  e.Profile.Output,
			Gate:   e.Gate,
			Logger: e.Logger,
		},
		MaxDepth: e.MaxDepth,
		Logger:   e.Logger,
	}

	q := batch.NewQueue(items)
	for q.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		snap := e.Health.Refresh(ctx)
		b, _ := q.Next(e.Limits)
		sum, chunks := e.plan(q, &b, snap)
		req := strconv.Itoa(b.Index)
		e.Logger.DebugStart("pipeline", "request planned", string(e.FileID), req, map[string]string{
			"items":    strconv.Itoa(sum.Items),
			"words":    strconv.Itoa(sum.Words),
			"accounts": joinAccounts(sum.Accounts),
			"estimate": strconv.FormatFloat(sum.EstimatedSeconds, 'f', 1, 64),
			"capacity": strconv.FormatFloat(sum.Capacity, 'f', 0, 64),
			"chunks":   strconv.Itoa(sum.AccountCount),
		})
		if !batch.Conserved(b.Items, chunks) {
			return rep, fmt.Errorf("pipeline: request %d: distribution lost items: %w", b.Index, contract.ErrInvariantViolation)
		}
		if e.DryRun {
			diag.IncOp("pipeline", "request", "dry_run")
			rep.Requests = append(rep.Requests, sum)
			diag.GetTerminal().RequestDone(b.Index, sum.Items, accountNames(sum.Accounts), sum.EstimatedSeconds, 0)
			continue
		}

		start := time.Now()
		timer := e.Logger.StartWithKV("pipeline", "request", string(e.FileID), req, map[string]string{
			"accounts": joinAccounts(sum.Accounts),
		})
		err := e.execute(ctx, rec, b.Index, chunks, &sum)
		sum.DurationSeconds = time.Since(start).Seconds()
		diag.ObserveDuration("pipeline", "request", int64(sum.DurationSeconds*1000))
		rep.Requests = append(rep.Requests, sum)
		rep.InitialFailures += sum.InitialFailures
		rep.RecoveryCalls += sum.RecoveryCalls
		if err != nil {
			logFailure(e.Logger, "pipeline", "request failed", timer, string(e.FileID), req, err)
			return rep, err
		}
		timer.Finish("request", int64(sum.Items))
		diag.IncOp("pipeline", "request", "success")
		diag.GetTerminal().RequestDone(b.Index, sum.Items, accountNames(sum.Accounts), sum.EstimatedSeconds, sum.RecoveryCalls)
	}
	return rep, nil
}

// plan 为批选择账户；单账户且超出模式上限时裁剪尾部、退回队列并重新规划一次。
func (e *Engine) plan(q *batch.Queue, b *contract.Batch, snap *health.Snapshot) (contract.RequestSummary, []contract.AccountChunk) {
	words := b.Words()
	p := e.Selector.Select(words, e.Profile, snap)
	trimmed := false
	if len(p.Accounts) == 1 && len(b.Items) > 1 && words > e.Profile.MaxWordsPerAccount {
		before := len(b.Items)
		kept, popped := batch.TrimTail(b.Items, e.Profile.MaxWordsPerAccount)
		q.Unread(popped)
		b.Items = kept
		words = b.Words()
		trimmed = popped > 0
		p = e.Selector.Select(words, e.Profile, snap)
		e.Logger.Warn("pipeline", "guardrail", "single-account guard trimmed request", map[string]string{
			"request": strconv.Itoa(b.Index),
			"items":   fmt.Sprintf("%d->%d", before, len(kept)),
			"words":   strconv.Itoa(words),
		})
		diag.IncOp("pipeline", "guardrail", "trimmed")
	}
	chunks := batch.Distribute(b.Items, p.Accounts)
	sum := contract.RequestSummary{
		Index:            b.Index,
		Items:            len(b.Items),
		Words:            words,
		Accounts:         append([]contract.AccountKey(nil), p.Accounts...),
		AccountCount:     len(chunks),
		EstimatedSeconds: p.EstimatedSeconds,
		Capacity:         p.Capacity,
		Trimmed:          trimmed,
		ChunkWords:       make(map[contract.AccountKey]int, len(chunks)),
	}
	for _, ch := range chunks {
		sum.ChunkWords[ch.Account] = ch.Words()
	}
	return sum, chunks
}

// execute 发出一次多账户请求并逐块对账写回。
// 整体调用失败时，每个分块都以该错误作为首次失败进入恢复。
func (e *Engine) execute(ctx context.Context, rec *reconcile.Engine, index int, chunks []contract.AccountChunk, sum *contract.RequestSummary) error {
	payload := make(map[contract.AccountKey]string, len(chunks))
	for _, ch := range chunks {
		payload[ch.Account] = contract.JoinPayload(contract.ItemTexts(ch.Items))
		if e.Gate != nil {
			if err := e.Gate.Wait(ctx, rate.Ask{Key: rate.KeyFor(ch.Account), Requests: 1}); err != nil {
				return fmt.Errorf("pipeline: request %d: rate gate %s: %w", index, ch.Account, err)
			}
		}
	}
	resp, callErr := e.Remote.Call(ctx, contract.BatchRequest{Mode: e.Profile.Name, Payload: payload})
	if callErr != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		kv := map[string]string{"error": callErr.Error()}
		var ue contract.UpstreamError
		if errors.As(callErr, &ue) {
			kv["upstream_status"] = strconv.Itoa(ue.UpstreamStatus())
		}
		e.Logger.Warn("pipeline", string(diag.Classify(callErr)), "batch request failed; recovering per chunk", kv)
	}

	for _, ch := range chunks {
		label := fmt.Sprintf("request %d %s", index, ch.Account)
		var raw string
		initErr := callErr
		if initErr == nil {
			raw, initErr = reconcile.Extract(resp, ch.Account, e.Profile.Output, label, e.Logger)
		}
		if initErr != nil {
			initErr = &contract.AccountError{Account: ch.Account, Label: label, Err: initErr}
		}
		res, err := rec.Reconcile(ctx, ch, raw, initErr, label)
		if res.InitialErr != nil {
			sum.InitialFailures++
		}
		sum.RecoveryCalls += res.RecoveryCalls
		if err != nil {
			return fmt.Errorf("pipeline: %s: %w", label, err)
		}
		for i, it := range ch.Items {
			if err := it.Resolve(reconcile.Flatten(res.Segments[i])); err != nil {
				return fmt.Errorf("pipeline: %s: item %d: %w", label, it.ID, err)
			}
		}
	}
	return nil
}

func accountNames(accs []contract.AccountKey) []string {
	out := make([]string, len(accs))
	for i, a := range accs {
		out[i] = string(a)
	}
	return out
}

func joinAccounts(accs []contract.AccountKey) string {
	return strings.Join(accountNames(accs), "/")
}

// logFailure 记录阶段失败并累加错误计数；上游错误附带状态码与消息片段。
func logFailure(logger *diag.Logger, comp, msg string, t *diag.Timer, fileID, request string, err error) {
	code := diag.Classify(err)
	kv := map[string]string{"error": err.Error()}
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		kv["upstream_status"] = strconv.Itoa(ue.UpstreamStatus())
		kv["upstream_message"] = ue.UpstreamMessage()
	}
	logger.ErrorWithKV(comp, string(code), msg, t.Since(), fileID, request, kv)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}
