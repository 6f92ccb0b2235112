package markdown

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"parabatch/internal/telemetry"
	"parabatch/pkg/contract"
)

// Options: Markdown 运行日志选项。
type Options struct {
	// Path: 追加写入的文件，默认 logs/parabatch-runs.md。
	Path string `json:"path"`
}

// Sink 以追加方式写入人可读的运行条目；新文件先写文件头。
type Sink struct {
	path string
}

// New 构造 Sink；目录在首次写入时创建。
func New(raw json.RawMessage) (*Sink, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("markdown sink options: %w", err)
		}
	}
	if o.Path == "" {
		o.Path = filepath.Join("logs", "parabatch-runs.md")
	}
	return &Sink{path: o.Path}, nil
}

// Path 返回日志文件路径。
func (s *Sink) Path() string { return s.path }

func (s *Sink) Append(ctx context.Context, sum contract.RunSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("markdown sink: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("markdown sink: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("markdown sink: %w", err)
	}
	entry := telemetry.Markdown(sum)
	if info.Size() == 0 {
		entry = telemetry.Header + entry
	}
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("markdown sink: %w", err)
	}
	return nil
}

func (s *Sink) Close() error { return nil }

var _ contract.TelemetrySink = (*Sink)(nil)
