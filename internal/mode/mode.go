package mode

import (
	"fmt"
	"strings"

	"parabatch/pkg/contract"
)

// Profile: 单个模式的全部常量。
type Profile struct {
	Name contract.Mode
	// DefaultBudget: 快照缺失时的原始预算（词/目标时长单位）。
	DefaultBudget float64
	// TargetSeconds: 每单位有效预算对应的目标秒数。
	TargetSeconds float64
	// MinWordsPerAccount: 每多启用一个账户所需的最少词数。
	MinWordsPerAccount float64
	// MaxWordsPerAccount: 单账户请求的词数上限（护栏）。
	MaxWordsPerAccount int
	// CoordinationPenalty: 每多一个账户的固定协调开销（秒）。
	CoordinationPenalty float64
	// RateSuffix: 快照中 successRate<Suffix> 等字段的后缀。
	RateSuffix string
	// Output: 响应中承载改写文本的字段。
	Output contract.OutputField
}

// Table: 模式常量表。
type Table map[contract.Mode]Profile

// Defaults 返回内置常量表。
func Defaults() Table {
	return Table{
		contract.ModeDual: {
			Name: contract.ModeDual, DefaultBudget: 520, TargetSeconds: 18,
			MinWordsPerAccount: 280, MaxWordsPerAccount: 760, CoordinationPenalty: 1.2,
			RateSuffix: "Dual", Output: contract.FieldSecondMode,
		},
		contract.ModeStandard: {
			Name: contract.ModeStandard, DefaultBudget: 950, TargetSeconds: 9,
			MinWordsPerAccount: 500, MaxWordsPerAccount: 1400, CoordinationPenalty: 0.7,
			RateSuffix: "Standard", Output: contract.FieldResult,
		},
		contract.ModeLudicrous: {
			Name: contract.ModeLudicrous, DefaultBudget: 600, TargetSeconds: 16,
			MinWordsPerAccount: 300, MaxWordsPerAccount: 900, CoordinationPenalty: 1.0,
			RateSuffix: "Ludicrous", Output: contract.FieldResult,
		},
	}
}

// Lookup 返回模式常量；缺失条目为配置错误。
func (t Table) Lookup(m contract.Mode) (Profile, error) {
	p, ok := t[m]
	if !ok {
		return Profile{}, fmt.Errorf("mode: %q: %w", m, contract.ErrModeUnknown)
	}
	return p, nil
}

// Validate 检查每个条目的常量完整（全部为正，后缀与输出字段非空）。
func (t Table) Validate() error {
	for m, p := range t {
		switch {
		case p.DefaultBudget <= 0:
			return fmt.Errorf("mode: %s default_budget must be > 0: %w", m, contract.ErrModeUnknown)
		case p.TargetSeconds <= 0:
			return fmt.Errorf("mode: %s target_seconds must be > 0: %w", m, contract.ErrModeUnknown)
		case p.MinWordsPerAccount <= 0:
			return fmt.Errorf("mode: %s min_words_per_account must be > 0: %w", m, contract.ErrModeUnknown)
		case p.MaxWordsPerAccount <= 0:
			return fmt.Errorf("mode: %s max_words_per_account must be > 0: %w", m, contract.ErrModeUnknown)
		case p.CoordinationPenalty < 0:
			return fmt.Errorf("mode: %s coordination_penalty must be >= 0: %w", m, contract.ErrModeUnknown)
		case strings.TrimSpace(p.RateSuffix) == "":
			return fmt.Errorf("mode: %s rate_suffix empty: %w", m, contract.ErrModeUnknown)
		case p.Output != contract.FieldResult && p.Output != contract.FieldSecondMode:
			return fmt.Errorf("mode: %s output %q invalid: %w", m, p.Output, contract.ErrModeUnknown)
		}
	}
	return nil
}

// Override: 单模式的部分覆盖；nil 字段保持原值。
type Override struct {
	DefaultBudget       *float64 `json:"default_budget,omitempty"`
	TargetSeconds       *float64 `json:"target_seconds,omitempty"`
	MinWordsPerAccount  *float64 `json:"min_words_per_account,omitempty"`
	MaxWordsPerAccount  *int     `json:"max_words_per_account,omitempty"`
	CoordinationPenalty *float64 `json:"coordination_penalty,omitempty"`
	RateSuffix          *string  `json:"rate_suffix,omitempty"`
	Output              *string  `json:"output,omitempty"`
}

// Apply 返回应用覆盖后的新表（不修改 t）。未知模式名新增条目，需完整提供常量。
func (t Table) Apply(over map[string]Override) Table {
	out := make(Table, len(t)+len(over))
	for k, v := range t {
		out[k] = v
	}
	for name, o := range over {
		m := contract.Mode(strings.ToLower(strings.TrimSpace(name)))
		p := out[m]
		p.Name = m
		if o.DefaultBudget != nil {
			p.DefaultBudget = *o.DefaultBudget
		}
		if o.TargetSeconds != nil {
			p.TargetSeconds = *o.TargetSeconds
		}
		if o.MinWordsPerAccount != nil {
			p.MinWordsPerAccount = *o.MinWordsPerAccount
		}
		if o.MaxWordsPerAccount != nil {
			p.MaxWordsPerAccount = *o.MaxWordsPerAccount
		}
		if o.CoordinationPenalty != nil {
			p.CoordinationPenalty = *o.CoordinationPenalty
		}
		if o.RateSuffix != nil {
			p.RateSuffix = *o.RateSuffix
		}
		if o.Output != nil {
			p.Output = contract.OutputField(*o.Output)
		}
		out[m] = p
	}
	return out
}

// ParseToken 将命令行模式别名映射为模式；非模式词返回 false。
func ParseToken(s string) (contract.Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "std":
		return contract.ModeStandard, true
	case "dual", "simple", "simple+short", "simple-short", "fast":
		return contract.ModeDual, true
	case "ludicrous":
		return contract.ModeLudicrous, true
	}
	return "", false
}
