package capacity

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parabatch/internal/health"
	"parabatch/internal/mode"
	"parabatch/pkg/contract"
)

func profile(t *testing.T, m contract.Mode) mode.Profile {
	t.Helper()
	p, err := mode.Defaults().Lookup(m)
	require.NoError(t, err)
	return p
}

func snap(t *testing.T, raw string) *health.Snapshot {
	t.Helper()
	s, err := health.Parse([]byte(raw))
	require.NoError(t, err)
	return s
}

// 快照缺失：有效预算回落到 max(120, 模式默认)
func TestNilSnapshotUsesDefault(t *testing.T) {
	for _, m := range contract.Modes {
		p := profile(t, m)
		for _, acc := range contract.AccountKeys {
			assert.Equal(t, p.DefaultBudget, EffectiveBudget(nil, acc, p), "%s/%s", m, acc)
			assert.Equal(t, 1.0, Reliability(nil, acc, p))
		}
	}
}

func TestRawBudgetTiers(t *testing.T) {
	p := profile(t, contract.ModeStandard)
	s := snap(t, `{"scheduler":{"recommendedBudgets":{
		"standard": 800,
		"perAccount": {"acc1": {"standard": 1200}, "acc2": {"standard": 0}, "acc3": {"standard": "x"}}}}}`)
	assert.Equal(t, 1200.0, RawBudget(s, contract.Acc1, p))
	assert.Equal(t, 800.0, RawBudget(s, contract.Acc2, p))
	assert.Equal(t, 800.0, RawBudget(s, contract.Acc3, p))

	bare := snap(t, `{"scheduler":{"recommendedBudgets":"nope"}}`)
	assert.Equal(t, 950.0, RawBudget(bare, contract.Acc1, p))
}

func TestReliability(t *testing.T) {
	p := profile(t, contract.ModeDual)
	tests := []struct {
		name  string
		entry string
		want  float64
	}{
		{"空条目", `{}`, 1.0},
		{"重试与超时", `{"successRateDual":0.9,"retryRateDual":0.2,"timeoutRateDual":0.1}`, 0.9 - 0.09 - 0.08},
		{"下限 0.4", `{"successRateDual":0.1}`, 0.4},
		{"上限 1.05", `{"successRateDual":2}`, 1.05},
		{"degraded", `{"health":"degraded"}`, 0.8},
		{"tripped 压到 0.35", `{"health":"Tripped","successRateDual":0.5}`, 0.35},
		{"未知健康值按 normal", `{"health":"weird"}`, 1.0},
		{"其他模式后缀被忽略", `{"successRateStandard":0.1}`, 1.0},
		{"非数值忽略", `{"successRateDual":"0.1"}`, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := snap(t, `{"scheduler":{"accounts":{"acc1":`+tt.entry+`}}}`)
			assert.InDelta(t, tt.want, Reliability(s, contract.Acc1, p), 1e-9)
		})
	}
	// 条目非对象
	s := snap(t, `{"scheduler":{"accounts":{"acc1":"down"}}}`)
	assert.Equal(t, 1.0, Reliability(s, contract.Acc1, p))
}

// 单调性：固定 raw，rel 增大不降低有效预算；且恒 ≥ 120
func TestEffectiveMonotonic(t *testing.T) {
	for _, raw := range []float64{0, 50, 120, 343, 520, 1400} {
		prev := Effective(raw, 0)
		for rel := 0.0; rel <= 1.2; rel += 0.05 {
			got := Effective(raw, rel)
			assert.GreaterOrEqual(t, got, prev)
			assert.GreaterOrEqual(t, got, Floor)
			prev = got
		}
	}
}

func TestRankStableDescending(t *testing.T) {
	p := profile(t, contract.ModeDual)
	s := snap(t, `{"scheduler":{"accounts":{"acc2":{"health":"degraded"}},
		"recommendedBudgets":{"perAccount":{"acc3":{"dual":900}}}}}`)
	got := Rank(s, contract.AccountKeys, p)
	want := []Profile{
		{Account: contract.Acc3, Budget: 900},
		{Account: contract.Acc1, Budget: 520},
		{Account: contract.Acc2, Budget: 416},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("rank mismatch (-want +got):\n%s", diff)
	}
	// 等值保持输入顺序
	eq := Rank(nil, []contract.AccountKey{contract.Acc2, contract.Acc1}, p)
	assert.Equal(t, contract.Acc2, eq[0].Account)
}
