package plan

import (
	"math"

	"parabatch/internal/capacity"
	"parabatch/internal/health"
	"parabatch/internal/mode"
	"parabatch/pkg/contract"
)

// DefaultHysteresis: 放弃当前最优计划所需的最小预估改善（秒）。
const DefaultHysteresis = 0.9

// 容量合计下限。
const minCapacity = 100.0

// Candidate: 单个候选账户数的评估结果（诊断用）。
type Candidate struct {
	Count            int
	Capacity         float64
	EstimatedSeconds float64
}

// Plan: 下一批请求的账户计划。
type Plan struct {
	Count            int
	EstimatedSeconds float64
	Accounts         []contract.AccountKey
	Capacity         float64
	Candidates       []Candidate
}

// Available 返回可用账户：状态缺失或为 ready/ok 的账户；
// 若快照带 scheduler.accounts，再剔除 tripped 账户，全部剔除时仅保留第一个就绪账户。
func Available(s *health.Snapshot) []contract.AccountKey {
	if s == nil {
		return append([]contract.AccountKey(nil), contract.AccountKeys...)
	}
	ready := make([]contract.AccountKey, 0, len(contract.AccountKeys))
	for _, acc := range contract.AccountKeys {
		st, ok := s.Status(acc)
		if !ok || st == "" || st == "ready" || st == "ok" {
			ready = append(ready, acc)
		}
	}
	if len(ready) == 0 {
		return []contract.AccountKey{contract.AccountKeys[0]}
	}
	if !s.HasSchedulerAccounts() {
		return ready
	}
	usable := make([]contract.AccountKey, 0, len(ready))
	for _, acc := range ready {
		if h, _ := s.Health(acc); h != "tripped" {
			usable = append(usable, acc)
		}
	}
	if len(usable) == 0 {
		return ready[:1]
	}
	return usable
}

// SystemPenalty 按全局滚动成功率与回退率对多账户计划加罚（秒）。
func SystemPenalty(s *health.Snapshot, count int) float64 {
	if count <= 1 || s == nil {
		return 0
	}
	succ, fb, ok := s.Rolling()
	if !ok {
		return 0
	}
	succ = clamp01(succ)
	fb = clamp01(fb)
	return (fb*4 + (1-succ)*6) * float64(count-1)
}

// Selector 选择账户数；Hysteresis<=0 时使用 DefaultHysteresis。
type Selector struct {
	Hysteresis float64
}

// Select 在 1..min(可用数, words/最小词数) 间选择预估耗时最低的账户数。
// count=1 作为初始最优；后续候选仅在领先超过 Hysteresis 时替换。
func (sel Selector) Select(totalWords int, p mode.Profile, s *health.Snapshot) Plan {
	if totalWords <= 0 {
		return Plan{Count: 1, Accounts: []contract.AccountKey{contract.AccountKeys[0]}, Capacity: p.DefaultBudget}
	}
	h := sel.Hysteresis
	if h <= 0 {
		h = DefaultHysteresis
	}
	ranked := capacity.Rank(s, Available(s), p)
	words := float64(totalWords)
	byWords := int(math.Floor(words / p.MinWordsPerAccount))
	if byWords < 1 {
		byWords = 1
	}
	maxCount := len(ranked)
	if byWords < maxCount {
		maxCount = byWords
	}

	best := Plan{EstimatedSeconds: math.Inf(1)}
	sum := 0.0
	for count := 1; count <= maxCount; count++ {
		sum += ranked[count-1].Budget
		capTotal := math.Max(minCapacity, sum)
		est := words/capTotal*p.TargetSeconds +
			float64(count-1)*p.CoordinationPenalty +
			SystemPenalty(s, count)
		best.Candidates = append(best.Candidates, Candidate{Count: count, Capacity: capTotal, EstimatedSeconds: est})
		if count == 1 || est+h < best.EstimatedSeconds {
			best.Count = count
			best.EstimatedSeconds = est
			best.Capacity = capTotal
		}
	}
	best.Accounts = make([]contract.AccountKey, best.Count)
	for i := 0; i < best.Count; i++ {
		best.Accounts[i] = ranked[i].Account
	}
	return best
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
