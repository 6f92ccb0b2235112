package mock

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"parabatch/pkg/contract"
)

// Options: 离线联调与测试用配置（均可选）。
type Options struct {
	Prefix string `json:"prefix"` // 输出前缀，默认 "MOCK"
	// MergeAboveItems: >0 时，条目数超过该值的账户输出不带分隔标记（模拟上游合并段落）。
	MergeAboveItems int `json:"merge_above_items,omitempty"`
	// FailAccounts: 这些账户的回复只带 error 字段。
	FailAccounts []string `json:"fail_accounts,omitempty"`
	// HealthJSON: FetchHealth 返回的原始快照；为空时全部账户 ready。
	HealthJSON json.RawMessage `json:"health_json,omitempty"`
	// LatencyMs: 每次调用的模拟延迟。
	LatencyMs int `json:"latency_ms,omitempty"`
}

const defaultHealth = `{"acc1":{"status":"ready"},"acc2":{"status":"ready"},"acc3":{"status":"ready"}}`

type Client struct {
	prefix  string
	merge   int
	fail    map[contract.AccountKey]bool
	health  []byte
	latency time.Duration
	calls   atomic.Int64
}

// New 宽松解析选项；未知字段与格式错误均按默认处理。
func New(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &o)
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	c := &Client{
		prefix:  o.Prefix,
		merge:   o.MergeAboveItems,
		fail:    make(map[contract.AccountKey]bool, len(o.FailAccounts)),
		health:  []byte(defaultHealth),
		latency: time.Duration(o.LatencyMs) * time.Millisecond,
	}
	for _, a := range o.FailAccounts {
		c.fail[contract.AccountKey(strings.ToLower(strings.TrimSpace(a)))] = true
	}
	if len(o.HealthJSON) > 0 {
		c.health = append([]byte(nil), o.HealthJSON...)
	}
	return c, nil
}

// Calls 返回累计调用次数。
func (c *Client) Calls() int64 { return c.calls.Load() }

// Call 逐账户回显：每段输出为 "<prefix>: <原文>"，按模式写入 result 或 secondMode。
func (c *Client) Call(ctx context.Context, req contract.BatchRequest) (contract.BatchResponse, error) {
	c.calls.Add(1)
	if c.latency > 0 {
		t := time.NewTimer(c.latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(contract.BatchResponse, len(req.Payload))
	for acc, text := range req.Payload {
		if c.fail[acc] {
			out[acc] = contract.AccountReply{Error: "account " + string(acc) + " unavailable"}
			continue
		}
		segs := Segments(text)
		var body string
		if c.merge > 0 && len(segs) > c.merge {
			body = Merge(c.prefix, segs)
		} else {
			body = Echo(c.prefix, segs)
		}
		out[acc] = Reply(req.Mode, body)
	}
	return out, nil
}

// FetchHealth 返回配置的快照。
func (c *Client) FetchHealth(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]byte(nil), c.health...), nil
}

// Segments 按分隔标记拆出载荷中的各段文本。
func Segments(payload string) []string {
	raw := strings.Split(payload, contract.Delimiter)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Echo 以分隔标记重新串联带前缀的各段。
func Echo(prefix string, segs []string) string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = prefix + ": " + s
	}
	return contract.JoinPayload(out)
}

// Merge 返回不带分隔标记、以单空格连接的整段输出。
func Merge(prefix string, segs []string) string {
	return prefix + ": " + strings.Join(segs, " ")
}

// Reply 按模式把文本放入对应字段。
func Reply(m contract.Mode, body string) contract.AccountReply {
	if m == contract.ModeDual {
		return contract.AccountReply{SecondMode: body}
	}
	return contract.AccountReply{Result: body}
}

var (
	_ contract.RemoteClient = (*Client)(nil)
	_ contract.HealthSource = (*Client)(nil)
)
