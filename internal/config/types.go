package config

import (
	"encoding/json"

	"parabatch/internal/mode"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Inputs []string `json:"inputs"`
	// Mode: dual | standard | ludicrous（接受 CLI 别名）。
	Mode           string `json:"mode"`
	APIURL         string `json:"api_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	// 单次批请求的条目数与词数上限。
	MaxItemsPerRequest int  `json:"max_items_per_request"`
	MaxWordsPerRequest int  `json:"max_words_per_request"`
	DryRun             bool `json:"dry_run"`

	Scheduler Scheduler `json:"scheduler"`
	// Modes: 模式常量的部分覆盖。
	Modes map[string]mode.Override `json:"modes"`
	// Limits: 账户级限流（键为 acc1..acc3）。
	Limits  map[string]Limits `json:"limits"`
	Logging Logging           `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`
	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Scheduler: 规划与恢复参数。
type Scheduler struct {
	HysteresisSeconds float64 `json:"hysteresis_seconds"`
	MaxRecoveryDepth  int     `json:"max_recovery_depth"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM   int `json:"rpm"`
	Burst int `json:"burst"`
}

// Logging: 日志等级与目录。
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// Components: 组件名选择（注册表中的实现名）。Telemetry 为 "none" 时不写运行摘要。
type Components struct {
	Reader    string `json:"reader"`
	Splitter  string `json:"splitter"`
	Remote    string `json:"remote"`
	Assembler string `json:"assembler"`
	Writer    string `json:"writer"`
	Telemetry string `json:"telemetry"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader    json.RawMessage `json:"reader"`
	Splitter  json.RawMessage `json:"splitter"`
	Remote    json.RawMessage `json:"remote"`
	Assembler json.RawMessage `json:"assembler"`
	Writer    json.RawMessage `json:"writer"`
	Telemetry json.RawMessage `json:"telemetry"`
}
