package rate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parabatch/pkg/contract"
)

// 超过 RPM 后 Try 拒绝，时钟推进后恢复
func TestGateTryLimit(t *testing.T) {
	now := time.Unix(1000, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"acc1": {RPM: 60}}, clk)
	if !g.Try(Ask{Key: "acc1", Requests: 1}) {
		t.Fatalf("首次应通过")
	}
	if g.Try(Ask{Key: "acc1", Requests: 1}) {
		t.Fatalf("应因 RPM 拒绝")
	}
	now = now.Add(1100 * time.Millisecond)
	if !g.Try(Ask{Key: "acc1", Requests: 1}) {
		t.Fatalf("1s 后应补充 1 个令牌")
	}
	assert.False(t, g.Try(Ask{Key: "acc1", Requests: 0}))
}

// 未配置的 key 不限额
func TestGateUnlimited(t *testing.T) {
	g := NewGate(map[LimitKey]Limits{"acc2": {RPM: 0}}, nil)
	for i := 0; i < 100; i++ {
		require.True(t, g.Try(Ask{Key: "acc3", Requests: 1}))
	}
	require.NoError(t, g.Wait(context.Background(), Ask{Key: "acc2", Requests: 1}))
	assert.Equal(t, -1, g.(Snapshoter).Snapshot("acc2"))
}

// 取消上下文
func TestGateWaitCancel(t *testing.T) {
	g := NewGate(map[LimitKey]Limits{"acc1": {RPM: 1}}, nil)
	require.NoError(t, g.Wait(context.Background(), Ask{Key: "acc1", Requests: 1}))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := g.Wait(ctx, Ask{Key: "acc1", Requests: 1})
	assert.Error(t, err)
}

func TestGateWaitInvalid(t *testing.T) {
	g := NewGate(map[LimitKey]Limits{"acc1": {RPM: 60, Burst: 2}}, nil)
	assert.ErrorIs(t, g.Wait(context.Background(), Ask{Key: "acc1", Requests: 0}), contract.ErrInvalidInput)
	assert.ErrorIs(t, g.Wait(context.Background(), Ask{Key: "acc1", Requests: 3}), contract.ErrInvalidInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, g.Wait(ctx, Ask{Key: "acc1", Requests: 1}), context.Canceled)
}

func TestGateSnapshot(t *testing.T) {
	now := time.Unix(0, 0)
	g := NewGate(map[LimitKey]Limits{"acc1": {RPM: 60, Burst: 3}}, func() time.Time { return now })
	s := g.(Snapshoter)
	assert.Equal(t, 3, s.Snapshot("acc1"))
	require.True(t, g.Try(Ask{Key: "acc1", Requests: 2}))
	assert.Equal(t, 1, s.Snapshot("acc1"))
}

func TestDeriveLimits(t *testing.T) {
	got, err := DeriveLimits(map[string]Limits{"ACC1": {RPM: 30}, "acc3": {RPM: 10, Burst: 2}})
	require.NoError(t, err)
	assert.Equal(t, map[LimitKey]Limits{"acc1": {RPM: 30}, "acc3": {RPM: 10, Burst: 2}}, got)

	_, err = DeriveLimits(map[string]Limits{"acc9": {RPM: 1}})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = DeriveLimits(map[string]Limits{"acc1": {RPM: -1}})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	assert.Equal(t, LimitKey("acc2"), KeyFor(contract.Acc2))
}
