package jsonl

import (
	"context"
	"encoding/json"
	"fmt"

	"parabatch/internal/diag"
	"parabatch/pkg/contract"
)

// Options: JSONL 运行摘要选项。
type Options struct {
	Dir      string `json:"dir"`       // 默认 logs
	Prefix   string `json:"prefix"`    // 默认 runs
	MaxBytes int64  `json:"max_bytes"` // 轮转阈值，默认 10MiB
}

// Sink 每次运行写一行 JSON，文件按大小轮转。
type Sink struct {
	w *diag.RotatingFile
}

func New(raw json.RawMessage) (*Sink, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("jsonl sink options: %w", err)
		}
	}
	if o.Dir == "" {
		o.Dir = "logs"
	}
	if o.Prefix == "" {
		o.Prefix = "runs"
	}
	return &Sink{w: diag.NewRotatingFile(o.Dir, o.Prefix, o.MaxBytes)}, nil
}

func (s *Sink) Append(ctx context.Context, sum contract.RunSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("jsonl sink: %w", err)
	}
	if err := s.w.WriteLine(b); err != nil {
		return fmt.Errorf("jsonl sink: %w", err)
	}
	return s.w.Sync()
}

func (s *Sink) Close() error { return s.w.Close() }

var _ contract.TelemetrySink = (*Sink)(nil)
