package contract

import (
	"context"
	"time"
)

// RunStatus: 单次运行（单文档）的结果状态。
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailure RunStatus = "failure"
	RunDryRun  RunStatus = "dry_run"
)

// RequestSummary: 单次批请求的计划与执行摘要。
type RequestSummary struct {
	Index            int                `json:"request_index"`
	Items            int                `json:"items"`
	Words            int                `json:"words"`
	Accounts         []AccountKey       `json:"accounts"`
	AccountCount     int                `json:"account_count"`
	EstimatedSeconds float64            `json:"estimated_seconds"`
	Capacity         float64            `json:"effective_capacity"`
	Trimmed          bool               `json:"trimmed_for_single_account"`
	ChunkWords       map[AccountKey]int `json:"chunk_words_by_account"`
	DurationSeconds  float64            `json:"duration_seconds"`
	InitialFailures  int                `json:"initial_failures"`
	RecoveryCalls    int                `json:"recovery_calls"`
}

// RunSummary: 单文档运行摘要，供遥测 sink 持久化。
type RunSummary struct {
	RunID           string             `json:"run_id"`
	CorrID          string             `json:"corr_id,omitempty"`
	Status          RunStatus          `json:"status"`
	Mode            Mode               `json:"mode"`
	Input           string             `json:"input"`
	Output          string             `json:"output,omitempty"`
	Host            string             `json:"host,omitempty"`
	User            string             `json:"user,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	DurationSeconds float64            `json:"total_duration_seconds"`
	StageSeconds    map[string]float64 `json:"stage_durations,omitempty"`
	Items           int                `json:"items"`
	TotalWords      int                `json:"total_words"`
	Requests        []RequestSummary   `json:"request_summaries"`
	InitialFailures int                `json:"initial_chunk_failures"`
	RecoveryCalls   int                `json:"recovery_calls"`
	ErrorMessage    string             `json:"error_message,omitempty"`
	ErrorStage      string             `json:"error_stage,omitempty"`
	ErrorCode       string             `json:"error_code,omitempty"`
	Counters        map[string]int64   `json:"counters,omitempty"`
}

// TelemetrySink: 运行摘要持久化。实现方无需并发安全（由单一 Appender 协程独占）。
type TelemetrySink interface {
	Append(ctx context.Context, s RunSummary) error
	Close() error
}
