package plan

import (
	"fmt"
	"testing"

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

func TestAvailable(t *testing.T) {
	all := []contract.AccountKey{contract.Acc1, contract.Acc2, contract.Acc3}
	tests := []struct {
		name string
		raw  string
		want []contract.AccountKey
	}{
		{"无状态", `{}`, all},
		{"ready/ok/缺失", `{"acc1":{"status":"READY"},"acc2":{"status":"ok"},"acc3":"x"}`, all},
		{"null 与非字符串状态不就绪", `{"acc1":{"status":"busy"},"acc2":{"status":null},"acc3":{"status":"ready"}}`, []contract.AccountKey{contract.Acc3}},
		{"非字符串状态", `{"acc1":{"status":1},"acc2":{"status":false},"acc3":{}}`, []contract.AccountKey{contract.Acc3}},
		{"剔除非就绪", `{"acc1":{"status":"cooldown"},"acc2":{"status":"ready"}}`, []contract.AccountKey{contract.Acc2, contract.Acc3}},
		{"全部非就绪回落 acc1", `{"acc1":{"status":"busy"},"acc2":{"status":"busy"},"acc3":{"status":"down"}}`, []contract.AccountKey{contract.Acc1}},
		{"剔除 tripped", `{"scheduler":{"accounts":{"acc2":{"health":"tripped"}}}}`, []contract.AccountKey{contract.Acc1, contract.Acc3}},
		{"全部 tripped 保留第一个就绪", `{"acc1":{"status":"down"},"scheduler":{"accounts":{
			"acc1":{"health":"tripped"},"acc2":{"health":"tripped"},"acc3":{"health":"tripped"}}}}`, []contract.AccountKey{contract.Acc2}},
		{"scheduler.accounts 非对象不过滤", `{"scheduler":{"accounts":[1]}}`, all},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Available(snap(t, tt.raw)))
		})
	}
	assert.Equal(t, all, Available(nil))
}

func TestSystemPenalty(t *testing.T) {
	s := snap(t, `{"scheduler":{"rolling":{"successRatio":0.5,"fallbackRate":0.25}}}`)
	assert.Equal(t, 0.0, SystemPenalty(s, 1))
	assert.InDelta(t, (0.25*4+0.5*6)*2, SystemPenalty(s, 3), 1e-9)
	assert.Equal(t, 0.0, SystemPenalty(nil, 3))
	assert.Equal(t, 0.0, SystemPenalty(snap(t, `{"scheduler":{}}`), 3))
	// 越界值截断到 [0,1]
	clamped := snap(t, `{"scheduler":{"rolling":{"successRatio":-2,"fallbackRate":9}}}`)
	assert.InDelta(t, 10.0, SystemPenalty(clamped, 2), 1e-9)
}

// 场景：50 词、单一健康账户、standard → 1 个账户
func TestSelectSmallBatch(t *testing.T) {
	s := snap(t, `{"acc2":{"status":"down"},"acc3":{"status":"down"}}`)
	pl := Selector{}.Select(50, profile(t, contract.ModeStandard), s)
	assert.Equal(t, 1, pl.Count)
	assert.Equal(t, []contract.AccountKey{contract.Acc1}, pl.Accounts)
	assert.InDelta(t, 50.0/950*9, pl.EstimatedSeconds, 1e-9)
	require.Len(t, pl.Candidates, 1)
}

// 场景：3000 词、三个约 600 预算的健康账户、dual → 3 个账户
func TestSelectLargeBatchUsesAll(t *testing.T) {
	s := snap(t, `{"scheduler":{"recommendedBudgets":{"dual":600}}}`)
	pl := Selector{}.Select(3000, profile(t, contract.ModeDual), s)
	require.Len(t, pl.Candidates, 3)
	assert.Equal(t, 3, pl.Count)
	assert.Len(t, pl.Accounts, 3)
	assert.InDelta(t, 1800.0, pl.Capacity, 1e-9)
	assert.InDelta(t, 30+2.4, pl.EstimatedSeconds, 1e-9)
}

func TestSelectZeroWords(t *testing.T) {
	p := profile(t, contract.ModeDual)
	pl := Selector{}.Select(0, p, nil)
	assert.Equal(t, Plan{Count: 1, Accounts: []contract.AccountKey{contract.Acc1}, Capacity: 520}, pl)
}

// 迟滞：count=2 更快但领先不足 0.9s 时保持 1 个账户
func TestSelectHysteresisHolds(t *testing.T) {
	s := snap(t, `{"scheduler":{"rolling":{"successRatio":0,"fallbackRate":0.5}}}`)
	pl := Selector{}.Select(560, profile(t, contract.ModeDual), s)
	require.Len(t, pl.Candidates, 2)
	assert.Less(t, pl.Candidates[1].EstimatedSeconds, pl.Candidates[0].EstimatedSeconds)
	assert.Equal(t, 1, pl.Count)

	// 放宽迟滞后切换
	pl = Selector{Hysteresis: 0.1}.Select(560, profile(t, contract.ModeDual), s)
	assert.Equal(t, 2, pl.Count)
}

// 性质：选择 count>1 时，其预估必须比 count=1 至少快 0.9s
func TestSelectHysteresisProperty(t *testing.T) {
	snaps := []string{
		`{}`,
		`{"scheduler":{"rolling":{"successRatio":0.7,"fallbackRate":0.1}}}`,
		`{"scheduler":{"accounts":{"acc1":{"health":"degraded"},"acc3":{"successRateStandard":0.5}},"rolling":{"successRatio":0.95}}}`,
		`{"scheduler":{"recommendedBudgets":{"perAccount":{"acc2":{"dual":2000,"standard":3000}}}}}`,
	}
	for si, raw := range snaps {
		s := snap(t, raw)
		for _, m := range contract.Modes {
			p := profile(t, m)
			for words := 1; words <= 6000; words += 137 {
				pl := Selector{}.Select(words, p, s)
				name := fmt.Sprintf("snap%d/%s/%d", si, m, words)
				require.Len(t, pl.Accounts, pl.Count, name)
				if pl.Count > 1 {
					assert.Greater(t, pl.Candidates[0].EstimatedSeconds-pl.EstimatedSeconds, DefaultHysteresis, name)
				}
			}
		}
	}
}
