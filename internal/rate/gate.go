package rate

import (
	"context"
	"time"

	xrate "golang.org/x/time/rate"

	"parabatch/pkg/contract"
)

// LimitKey: 限流分组键（账户）。
type LimitKey string

// Limits: 每分组的限额配置。RPM=0 表示不限额。
type Limits struct {
	RPM   int // requests per minute
	Burst int // 令牌桶容量，<=0 时取 1
}

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 必须 >=1
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消；申请量超过桶容量时快速失败。
	Wait(ctx context.Context, a Ask) error
	// Try: 非阻塞尝试；不足时返回 false。
	Try(a Ask) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (avail int)
}

// NewGate: 从静态配置构造闸门；clk 为空则使用 time.Now（仅影响 Try/Snapshot）。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*xrate.Limiter, len(m))}
	now := clk()
	for k, lim := range m {
		if lim.RPM <= 0 {
			continue
		}
		burst := lim.Burst
		if burst <= 0 {
			burst = 1
		}
		l := xrate.NewLimiter(xrate.Limit(float64(lim.RPM)/60.0), burst)
		l.SetBurstAt(now, burst)
		g.m[k] = l
	}
	return g
}

// 构造后 map 只读，无需额外加锁；Limiter 自身并发安全。
type gate struct {
	clk func() time.Time
	m   map[LimitKey]*xrate.Limiter
}

func (g *gate) Try(a Ask) bool {
	if a.Requests <= 0 {
		return false
	}
	l := g.m[a.Key]
	if l == nil {
		return true
	}
	return l.AllowN(g.clk(), a.Requests)
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	if a.Requests <= 0 {
		return contract.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l := g.m[a.Key]
	if l == nil {
		return nil
	}
	if a.Requests > l.Burst() {
		return contract.ErrInvalidInput
	}
	if err := l.WaitN(ctx, a.Requests); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		// 截止时间内无法获得额度
		return context.DeadlineExceeded
	}
	return nil
}

// Snapshot: 返回当前可用请求数的向下取整估值（仅诊断）；未配置的 key 返回 -1。
func (g *gate) Snapshot(key LimitKey) int {
	l := g.m[key]
	if l == nil {
		return -1
	}
	v := l.TokensAt(g.clk())
	if v < 0 {
		return 0
	}
	return int(v)
}

var _ Gate = (*gate)(nil)
var _ Snapshoter = (*gate)(nil)
