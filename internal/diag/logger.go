package diag

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger: 结构化日志器，JSON 行输出（zap）。
// 字段约定：ts/level/msg/corr_id/comp/stage/code/dur_ms/count/file_id/request/kv。
// nil *Logger 的全部方法均为 no-op。
type Logger struct {
	corrID string
	z      *zap.Logger
	sink   *RotatingFile
}

// NewLogger 按 level 初始化，写入 dir 下按 10MiB 轮转的日志文件；dir 为空时使用 logs。
func NewLogger(corrID, level, dir string) *Logger {
	if strings.TrimSpace(dir) == "" {
		dir = "logs"
	}
	sink := NewRotatingFile(dir, "parabatch", 10*1024*1024)
	l := NewLoggerTo(corrID, level, sink)
	l.sink = sink
	return l
}

// NewLoggerTo 写入任意 WriteSyncer（测试或 stderr）。
func NewLoggerTo(corrID, level string, ws zapcore.WriteSyncer) *Logger {
	if ws == nil {
		ws = zapcore.Lock(os.Stderr)
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), ws, zap.NewAtomicLevelAt(parseLevel(level)))
	return NewWithCore(corrID, core)
}

// NewNop 返回丢弃全部输出的日志器。
func NewNop() *Logger { return &Logger{z: zap.NewNop()} }

// NewWithCore 使用自定义 zapcore.Core（测试中配合 observer 使用）。
func NewWithCore(corrID string, core zapcore.Core) *Logger {
	return &Logger{corrID: corrID, z: zap.New(core).With(zap.String("corr_id", corrID))}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// CorrID 返回关联 ID。
func (l *Logger) CorrID() string {
	if l == nil {
		return ""
	}
	return l.corrID
}

// event: 单条日志的结构化字段。
type event struct {
	comp    string
	stage   string // start|finish|error|warn
	code    string
	dur     time.Duration
	count   int64
	fileID  string
	request string
	kv      map[string]string
}

func (ev event) fields() []zap.Field {
	fs := make([]zap.Field, 0, 8)
	fs = append(fs, zap.String("comp", ev.comp), zap.String("stage", ev.stage))
	if ev.code != "" {
		fs = append(fs, zap.String("code", ev.code))
	}
	if ev.dur > 0 {
		fs = append(fs, zap.Int64("dur_ms", ev.dur.Milliseconds()))
	}
	if ev.count != 0 {
		fs = append(fs, zap.Int64("count", ev.count))
	}
	if ev.fileID != "" {
		fs = append(fs, zap.String("file_id", ev.fileID))
	}
	if ev.request != "" {
		fs = append(fs, zap.String("request", ev.request))
	}
	if len(ev.kv) > 0 {
		fs = append(fs, zap.Any("kv", ev.kv))
	}
	return fs
}

func (l *Logger) log(lv zapcore.Level, msg string, ev event) {
	if l == nil || l.z == nil {
		return
	}
	if ce := l.z.Check(lv, msg); ce != nil {
		ce.Write(ev.fields()...)
	}
}

func since(t *time.Time) time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(*t)
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(zapcore.InfoLevel, msg, event{comp: comp, stage: "start"})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 file_id/request 的 start。
func (l *Logger) StartWith(comp, msg, fileID, request string) *Timer {
	return l.StartWithKV(comp, msg, fileID, request, nil)
}

// StartWithKV 记录带 file_id/request 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID, request string, kv map[string]string) *Timer {
	l.log(zapcore.InfoLevel, msg, event{comp: comp, stage: "start", fileID: fileID, request: request, kv: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, request: request, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.log(zapcore.ErrorLevel, msg, event{comp: comp, stage: "error", code: code, dur: since(durSince)})
}

// ErrorWith 支持 file_id/request。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID, request string) {
	l.ErrorWithKV(comp, code, msg, durSince, fileID, request, nil)
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、上游错误片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID, request string, kv map[string]string) {
	l.log(zapcore.ErrorLevel, msg, event{comp: comp, stage: "error", code: code, dur: since(durSince), fileID: fileID, request: request, kv: kv})
}

// Warn 记录可恢复的异常（回退账户、快照失效、遥测失败等）。
func (l *Logger) Warn(comp, code, msg string, kv map[string]string) {
	l.log(zapcore.WarnLevel, msg, event{comp: comp, stage: "warn", code: code, kv: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(zapcore.InfoLevel, msg, event{comp: comp, stage: "finish", dur: time.Since(start), count: count})
}

// DebugStart 输出调试级别的 start 事件。
func (l *Logger) DebugStart(comp, msg, fileID, request string, kv map[string]string) {
	l.log(zapcore.DebugLevel, msg, event{comp: comp, stage: "start", fileID: fileID, request: request, kv: kv})
}

// Sync 刷新缓冲并关闭文件 sink。
func (l *Logger) Sync() error {
	if l == nil || l.z == nil {
		return nil
	}
	err := l.z.Sync()
	if l.sink != nil {
		if cerr := l.sink.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l       *Logger
	comp    string
	fileID  string
	request string
	t0      time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(zapcore.InfoLevel, msg, event{comp: t.comp, stage: "finish", dur: time.Since(t.t0), count: count, fileID: t.fileID, request: t.request})
}

// Since 返回计时起点（供 Error 的 durSince）。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}
