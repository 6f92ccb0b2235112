package diag

import (
	"strings"
	"sync"
)

// 进程内计数器（并发安全），快照附加到运行摘要。
// 名称：
// - op_total|comp|stage|result
// - error_total|comp|code
// - op_duration_ms|comp|stage（累计毫秒）

var counters = struct {
	mu sync.Mutex
	m  map[string]int64
}{m: map[string]int64{}}

func add(key string, n int64) {
	counters.mu.Lock()
	counters.m[key] += n
	counters.mu.Unlock()
}

func key(parts ...string) string { return strings.Join(parts, "|") }

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) { add(key("op_total", comp, stage, result), 1) }

// IncError 按分类累加错误计数。
func IncError(comp, code string) { add(key("error_total", comp, code), 1) }

// ObserveDuration 累计阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	if durMS < 0 {
		durMS = 0
	}
	add(key("op_duration_ms", comp, stage), durMS)
}

// SnapshotCounters 返回计数器副本。
func SnapshotCounters() map[string]int64 {
	counters.mu.Lock()
	defer counters.mu.Unlock()
	out := make(map[string]int64, len(counters.m))
	for k, v := range counters.m {
		out[k] = v
	}
	return out
}

// ResetCounters 清零（每文档开始时调用）。
func ResetCounters() {
	counters.mu.Lock()
	counters.m = map[string]int64{}
	counters.mu.Unlock()
}
