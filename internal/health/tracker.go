package health

import (
	"context"
	"time"

	"parabatch/internal/diag"
	"parabatch/pkg/contract"
)

// Tracker 持有最近一次成功解析的快照。
// Refresh 失败时保留旧快照（可能为 nil），从不返回错误；快照只替换不修改。
type Tracker struct {
	src    contract.HealthSource
	logger *diag.Logger
	last   *Snapshot
}

// NewTracker 构造快照跟踪器；src 为 nil 时快照恒为 nil。
func NewTracker(src contract.HealthSource, logger *diag.Logger) *Tracker {
	return &Tracker{src: src, logger: logger}
}

// Refresh 拉取并解析新快照，返回当前可用快照。
func (t *Tracker) Refresh(ctx context.Context) *Snapshot {
	if t == nil {
		return nil
	}
	if t.src == nil {
		return t.last
	}
	start := time.Now()
	raw, err := t.src.FetchHealth(ctx)
	if err != nil {
		t.logger.Warn("health", string(diag.Classify(err)), "health snapshot unavailable; keeping previous", map[string]string{"error": err.Error()})
		diag.IncError("health", string(diag.Classify(err)))
		return t.last
	}
	snap, err := Parse(raw)
	if err != nil {
		t.logger.Warn("health", string(diag.CodeProtocol), "health snapshot malformed; keeping previous", map[string]string{"error": err.Error()})
		diag.IncError("health", string(diag.CodeProtocol))
		return t.last
	}
	t.last = snap
	diag.ObserveDuration("health", "fetch", time.Since(start).Milliseconds())
	return snap
}

// Last 返回最近一次成功解析的快照（可能为 nil）。
func (t *Tracker) Last() *Snapshot {
	if t == nil {
		return nil
	}
	return t.last
}
