package health

import (
	"encoding/json"
	"fmt"
	"strings"

	"parabatch/pkg/contract"
)

// Snapshot: 健康快照的只读部分结构。
// 远端返回的形状并不稳定，这里只保留原始 JSON 对象，由类型化访问器按路径取值；
// 任何形状不符的字段都视为缺失。nil *Snapshot 表示快照不可用。
type Snapshot struct {
	root map[string]any
}

// Parse 解析健康快照；顶层必须为 JSON 对象。
func Parse(raw []byte) (*Snapshot, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("health: decode: %w: %w", contract.ErrResponseInvalid, err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("health: top-level value is not an object: %w", contract.ErrResponseInvalid)
	}
	return &Snapshot{root: m}, nil
}

// path 沿对象键逐级下降；任一层不是对象时返回 nil,false。
func (s *Snapshot) path(keys ...string) (any, bool) {
	if s == nil || s.root == nil {
		return nil, false
	}
	var cur any = s.root
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func (s *Snapshot) object(keys ...string) (map[string]any, bool) {
	v, ok := s.path(keys...)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func (s *Snapshot) number(keys ...string) (float64, bool) {
	v, ok := s.path(keys...)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func (s *Snapshot) text(keys ...string) (string, bool) {
	v, ok := s.path(keys...)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	if !ok {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(str)), true
}

// Status 返回 <acc>.status 的小写文本；条目非对象或无 status 键时 ok=false。
// null 记为 "none"，其他非字符串值取其 JSON 文本，二者都不会被当作就绪。
func (s *Snapshot) Status(acc contract.AccountKey) (string, bool) {
	entry, ok := s.object(string(acc))
	if !ok {
		return "", false
	}
	v, ok := entry["status"]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case nil:
		return "none", true
	case string:
		return strings.ToLower(strings.TrimSpace(t)), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "invalid", true
		}
		return strings.ToLower(string(b)), true
	}
}

// HasSchedulerAccounts 报告 scheduler.accounts 是否为对象。
func (s *Snapshot) HasSchedulerAccounts() bool {
	_, ok := s.object("scheduler", "accounts")
	return ok
}

// HasAccountEntry 报告 scheduler.accounts.<acc> 是否为对象。
func (s *Snapshot) HasAccountEntry(acc contract.AccountKey) bool {
	_, ok := s.object("scheduler", "accounts", string(acc))
	return ok
}

// Health 返回 scheduler.accounts.<acc>.health（小写）。
func (s *Snapshot) Health(acc contract.AccountKey) (string, bool) {
	return s.text("scheduler", "accounts", string(acc), "health")
}

// Rate 返回 scheduler.accounts.<acc>.<name>，仅接受数值。
func (s *Snapshot) Rate(acc contract.AccountKey, name string) (float64, bool) {
	return s.number("scheduler", "accounts", string(acc), name)
}

// AccountBudget 返回 scheduler.recommendedBudgets.perAccount.<acc>.<mode>，仅接受正数。
func (s *Snapshot) AccountBudget(acc contract.AccountKey, m contract.Mode) (float64, bool) {
	return positive(s.number("scheduler", "recommendedBudgets", "perAccount", string(acc), string(m)))
}

// GlobalBudget 返回 scheduler.recommendedBudgets.<mode>，仅接受正数。
func (s *Snapshot) GlobalBudget(m contract.Mode) (float64, bool) {
	return positive(s.number("scheduler", "recommendedBudgets", string(m)))
}

// Rolling 返回 scheduler.rolling 的成功率与回退率（默认 1.0/0.0）；rolling 非对象时 ok=false。
func (s *Snapshot) Rolling() (successRatio, fallbackRate float64, ok bool) {
	if _, ok := s.object("scheduler", "rolling"); !ok {
		return 1, 0, false
	}
	successRatio, fallbackRate = 1, 0
	if v, ok := s.number("scheduler", "rolling", "successRatio"); ok {
		successRatio = v
	}
	if v, ok := s.number("scheduler", "rolling", "fallbackRate"); ok {
		fallbackRate = v
	}
	return successRatio, fallbackRate, true
}

func positive(v float64, ok bool) (float64, bool) {
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}
