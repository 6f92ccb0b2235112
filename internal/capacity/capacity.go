package capacity

import (
	"sort"

	"parabatch/internal/health"
	"parabatch/internal/mode"
	"parabatch/pkg/contract"
)

// 容量模型常量。
const (
	// Floor: 有效预算下限。
	Floor = 120.0

	retryWeight   = 0.45
	timeoutWeight = 0.8

	rateMin = 0.4
	rateMax = 1.05
	relMin  = 0.35
	relMax  = 1.05
)

// 健康分级对应的系数。
var healthFactor = map[string]float64{
	"normal":   1.0,
	"degraded": 0.8,
	"tripped":  0.35,
}

// Profile: 单账户在当前快照下的有效预算。
type Profile struct {
	Account contract.AccountKey
	Budget  float64
}

// RawBudget 依次取账户级推荐预算、全局推荐预算、模式默认值。
func RawBudget(s *health.Snapshot, acc contract.AccountKey, p mode.Profile) float64 {
	if v, ok := s.AccountBudget(acc, p.Name); ok {
		return v
	}
	if v, ok := s.GlobalBudget(p.Name); ok {
		return v
	}
	return p.DefaultBudget
}

// Reliability 返回 [0.35, 1.05] 内的可靠性系数；缺少账户条目时为 1.0。
func Reliability(s *health.Snapshot, acc contract.AccountKey, p mode.Profile) float64 {
	if !s.HasAccountEntry(acc) {
		return 1.0
	}
	success := rateOr(s, acc, "successRate"+p.RateSuffix, 1.0)
	retry := rateOr(s, acc, "retryRate"+p.RateSuffix, 0.0)
	timeout := rateOr(s, acc, "timeoutRate"+p.RateSuffix, 0.0)
	rate := clamp(success-retry*retryWeight-timeout*timeoutWeight, rateMin, rateMax)

	hf := 1.0
	if h, ok := s.Health(acc); ok {
		if f, known := healthFactor[h]; known {
			hf = f
		}
	}
	return clamp(rate*hf, relMin, relMax)
}

func rateOr(s *health.Snapshot, acc contract.AccountKey, name string, def float64) float64 {
	if v, ok := s.Rate(acc, name); ok {
		return v
	}
	return def
}

// Effective = max(Floor, raw×rel)。
func Effective(raw, rel float64) float64 {
	v := raw * rel
	if v < Floor {
		return Floor
	}
	return v
}

// EffectiveBudget 组合 RawBudget 与 Reliability。
func EffectiveBudget(s *health.Snapshot, acc contract.AccountKey, p mode.Profile) float64 {
	return Effective(RawBudget(s, acc, p), Reliability(s, acc, p))
}

// Rank 计算各账户有效预算并按降序稳定排序。
func Rank(s *health.Snapshot, accounts []contract.AccountKey, p mode.Profile) []Profile {
	out := make([]Profile, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, Profile{Account: acc, Budget: EffectiveBudget(s, acc, p)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Budget > out[j].Budget })
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
