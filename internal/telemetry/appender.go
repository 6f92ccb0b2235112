package telemetry

import (
	"context"
	"fmt"
	"sync"

	"parabatch/internal/diag"
	"parabatch/pkg/contract"
)

// DefaultQueue: Appender 默认缓冲条数。
const DefaultQueue = 16

// Appender 以单一协程独占 sink：Submit 只投递消息，写入失败与 panic 只记日志，不影响运行结果。
type Appender struct {
	sink   contract.TelemetrySink
	logger *diag.Logger
	ch     chan contract.RunSummary
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// NewAppender 启动写入协程；queue<=0 时使用 DefaultQueue。sink 为 nil 时返回 nil（nil Appender 可安全使用）。
func NewAppender(sink contract.TelemetrySink, logger *diag.Logger, queue int) *Appender {
	if sink == nil {
		return nil
	}
	if queue <= 0 {
		queue = DefaultQueue
	}
	a := &Appender{
		sink:   sink,
		logger: logger,
		ch:     make(chan contract.RunSummary, queue),
		done:   make(chan struct{}),
	}
	go a.loop()
	return a
}

// Submit 非阻塞投递；队列已满或已关闭时丢弃并返回 false。
func (a *Appender) Submit(s contract.RunSummary) bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return false
	}
	select {
	case a.ch <- s:
		return true
	default:
		diag.IncOp("telemetry", "submit", "dropped")
		a.logger.Warn("telemetry", "dropped", "telemetry queue full; summary dropped", map[string]string{"run_id": s.RunID})
		return false
	}
}

// Close 停止接收、写完队列中的摘要并关闭 sink。ctx 到期时不再等待写入协程。
func (a *Appender) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.ch)
		a.mu.Unlock()
	})
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telemetry: drain: %w", ctx.Err())
	}
}

func (a *Appender) loop() {
	defer close(a.done)
	for s := range a.ch {
		a.write(s)
	}
	a.safe("close", func() error { return a.sink.Close() })
}

func (a *Appender) write(s contract.RunSummary) {
	a.safe("append", func() error {
		// 写入不受运行 ctx 取消影响
		return a.sink.Append(context.Background(), s)
	})
}

// safe 执行 f，记录错误并吞掉 panic。
func (a *Appender) safe(stage string, f func() error) {
	defer func() {
		if r := recover(); r != nil {
			diag.IncError("telemetry", string(diag.CodeUnknown))
			a.logger.Warn("telemetry", "panic", "telemetry sink panicked", map[string]string{"stage": stage, "panic": fmt.Sprint(r)})
		}
	}()
	if err := f(); err != nil {
		code := diag.Classify(err)
		diag.IncError("telemetry", string(code))
		a.logger.Warn("telemetry", string(code), "telemetry sink failed", map[string]string{"stage": stage, "error": err.Error()})
		return
	}
	diag.IncOp("telemetry", stage, "success")
}
