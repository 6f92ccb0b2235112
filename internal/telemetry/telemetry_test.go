package telemetry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"parabatch/internal/diag"
	"parabatch/pkg/contract"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func summary() contract.RunSummary {
	return contract.RunSummary{
		RunID:           "run-1",
		Status:          contract.RunSuccess,
		Mode:            contract.ModeDual,
		Input:           "docs/essay.txt",
		Output:          "docs/pr essay.txt",
		StartedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		DurationSeconds: 400,
		StageSeconds:    map[string]float64{"paraphrase": 380, "split": 0.1},
		Items:           12,
		TotalWords:      3000,
		Requests: []contract.RequestSummary{{
			Index: 1, Items: 12, Words: 3000, Accounts: []contract.AccountKey{contract.Acc1, contract.Acc2},
			AccountCount: 2, EstimatedSeconds: 40, Capacity: 1100,
			ChunkWords: map[contract.AccountKey]int{contract.Acc1: 2800, contract.Acc2: 200},
		}},
	}
}

// 建议：吞吐低、阶段占比、估时偏差、失衡
func TestSuggestions(t *testing.T) {
	got := strings.Join(Suggestions(summary()), "\n")
	for _, want := range []string{
		"Throughput is low for dual",
		"Paraphrase stage dominates",
		"much higher than estimated",
		"heavy account imbalance in 1",
	} {
		assert.Contains(t, got, want)
	}
	assert.NotContains(t, got, "mismatch")
}

func TestSuggestionsMore(t *testing.T) {
	s := summary()
	s.Status = contract.RunFailure
	s.StageSeconds = nil
	s.InitialFailures = 2
	s.RecoveryCalls = 5
	s.Requests = []contract.RequestSummary{
		{Index: 1, Words: 100, Trimmed: true, Accounts: []contract.AccountKey{contract.Acc1}, ChunkWords: map[contract.AccountKey]int{contract.Acc2: 100}},
		{Index: 2, Words: 100},
		{Index: 3, Words: 100},
		{Index: 4, Words: 100},
	}
	got := strings.Join(Suggestions(s), "\n")
	for _, want := range []string{
		"Average words/request is small",
		"guardrail trimmed 1",
		"account-selection mismatch in 1",
		"2 initial chunk failure",
		"5 recovery call",
	} {
		assert.Contains(t, got, want)
	}

	assert.Equal(t, []string{"No immediate optimization flags from this run."}, Suggestions(contract.RunSummary{}))
}

// 错误分析：分类代码与消息双通道
func TestAnalyze(t *testing.T) {
	tests := []struct {
		name string
		code diag.Code
		msg  string
		want string
	}{
		{"限流", diag.CodeBudget, "x", "throttled"},
		{"熔断消息", diag.CodeUnknown, "acc2 tripped until 12:00", "throttled"},
		{"分段", diag.CodeSegmentation, "", "segmentation mismatch"},
		{"恢复耗尽", diag.CodeFatal, "recovery failed across all accounts", "Recovery exhausted"},
		{"无可改写项", diag.CodeInvariant, "paragraph: a.txt: no eligible items", "excluded every candidate"},
		{"IO", diag.CodeIO, "open x: no such file or directory", "could not be accessed"},
		{"网络", diag.CodeNetwork, "dial", "unreachable"},
		{"配置", diag.CodeConfig, "mode unknown", "Configuration"},
		{"取消", diag.CodeCancel, "context canceled", "cancelled"},
		{"未分类", diag.CodeUnknown, "weird", "Unclassified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Analyze(contract.RunSummary{ErrorCode: string(tt.code), ErrorMessage: tt.msg})
			require.NotEmpty(t, a.Fixes)
			assert.Contains(t, strings.Join(a.Causes, "\n"), tt.want)
		})
	}
	assert.Empty(t, Analyze(summary()).Causes)
}

func TestMarkdown(t *testing.T) {
	s := summary()
	s.Status = contract.RunFailure
	s.ErrorStage = "paraphrase"
	s.ErrorCode = string(diag.CodeFatal)
	s.ErrorMessage = "recovery failed across all accounts for request 1 acc1:retry-d0"
	md := Markdown(s)
	for _, want := range []string{
		"| FAILURE | docs/essay.txt",
		"- `run_id`: `run-1`",
		"- `paraphrase`: `380.00s`",
		"- `req 1` paragraphs=12, words=3000, accounts=2 [acc1 acc2], est=40.0s, capacity=1100, trimmed_single_account=false, chunks={acc1:2800 acc2:200}",
		"### Likely Causes",
		"### Suggested Fixes",
		"### Improvement Suggestions",
		`"run_id": "run-1"`,
		"---",
	} {
		assert.Contains(t, md, want)
	}
	assert.Less(t, strings.Index(md, "`paraphrase`"), strings.Index(md, "`split`"))

	dry := Markdown(contract.RunSummary{Status: contract.RunDryRun})
	assert.Contains(t, dry, "`dry_run`: `true`")
	assert.Contains(t, dry, "(no request-level data)")
	assert.NotContains(t, dry, "### Error")
}

// memSink: 记录写入；可注入错误与 panic。
type memSink struct {
	mu      sync.Mutex
	got     []string
	closed  bool
	failOn  string
	panicOn string
	block   chan struct{}
}

func (m *memSink) Append(_ context.Context, s contract.RunSummary) error {
	if m.block != nil {
		<-m.block
	}
	if s.RunID == m.panicOn {
		panic("boom")
	}
	if s.RunID == m.failOn {
		return errors.New("disk full")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, s.RunID)
	return nil
}

func (m *memSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Appender：按序写入；错误与 panic 仅记日志；Close 排空并关闭
func TestAppenderDrainAndIsolation(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sink := &memSink{failOn: "b", panicOn: "c"}
	a := NewAppender(sink, diag.NewWithCore("t", core), 8)
	for _, id := range []string{"a", "b", "c", "d"} {
		require.True(t, a.Submit(contract.RunSummary{RunID: id}))
	}
	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))
	assert.False(t, a.Submit(contract.RunSummary{RunID: "late"}))

	assert.Equal(t, []string{"a", "d"}, sink.got)
	assert.True(t, sink.closed)
	assert.Equal(t, 1, logs.FilterMessage("telemetry sink failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("telemetry sink panicked").Len())
}

// 队列满时丢弃而不阻塞
func TestAppenderDropOnOverflow(t *testing.T) {
	sink := &memSink{block: make(chan struct{})}
	a := NewAppender(sink, diag.NewNop(), 1)
	accepted := 0
	for i := 0; i < 5; i++ {
		if a.Submit(contract.RunSummary{RunID: "x"}) {
			accepted++
		}
	}
	assert.GreaterOrEqual(t, accepted, 1)
	assert.LessOrEqual(t, accepted, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Close(ctx), context.DeadlineExceeded)

	close(sink.block)
	require.NoError(t, a.Close(context.Background()))
	assert.Len(t, sink.got, accepted)
}

func TestNilAppender(t *testing.T) {
	a := NewAppender(nil, diag.NewNop(), 0)
	assert.Nil(t, a)
	assert.False(t, a.Submit(contract.RunSummary{}))
	assert.NoError(t, a.Close(context.Background()))
}
