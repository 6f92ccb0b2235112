package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"parabatch/internal/batch"
	"parabatch/internal/mode"
	"parabatch/internal/pipeline"
	"parabatch/internal/rate"
	"parabatch/pkg/contract"
	"parabatch/pkg/registry"
)

// SinkNone: 关闭运行摘要输出。
const SinkNone = "none"

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	if _, err := Profile(cfg); err != nil {
		return err
	}
	if cfg.TimeoutSeconds < 0 {
		return errors.New("config: timeout_seconds must be >= 0")
	}
	if cfg.MaxItemsPerRequest < 1 {
		return errors.New("config: max_items_per_request must be >= 1")
	}
	if cfg.MaxWordsPerRequest < 1 {
		return errors.New("config: max_words_per_request must be >= 1")
	}
	if cfg.Scheduler.HysteresisSeconds < 0 {
		return errors.New("config: scheduler.hysteresis_seconds must be >= 0")
	}
	if cfg.Scheduler.MaxRecoveryDepth < 0 {
		return errors.New("config: scheduler.max_recovery_depth must be >= 0")
	}
	if _, err := rate.DeriveLimits(rateLimits(cfg.Limits)); err != nil {
		return fmt.Errorf("config: limits: %w", err)
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	d := Defaults().Components
	if name := effName(cfg.Components.Reader, d.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Splitter, d.Splitter); registry.Splitter[name] == nil {
		return fmt.Errorf("config: splitter %q not registered", name)
	}
	rn := effName(cfg.Components.Remote, d.Remote)
	if registry.Remote[rn] == nil {
		return fmt.Errorf("config: remote %q not registered", rn)
	}
	if rn == "http" && !cfg.DryRun && strings.TrimSpace(cfg.APIURL) == "" && !hasKey(cfg.Options.Remote, "api_url") {
		return fmt.Errorf("config: api_url required for remote %q: %w", rn, contract.ErrInvalidInput)
	}
	if name := effName(cfg.Components.Assembler, d.Assembler); registry.Assembler[name] == nil {
		return fmt.Errorf("config: assembler %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	if name := effName(cfg.Components.Telemetry, d.Telemetry); name != SinkNone && registry.Sink[name] == nil {
		return fmt.Errorf("config: telemetry %q not registered", name)
	}
	return nil
}

// Profile 解析模式名（含 CLI 别名）并返回覆盖后的模式常量。
func Profile(cfg Config) (mode.Profile, error) {
	tbl := mode.Defaults().Apply(cfg.Modes)
	if err := tbl.Validate(); err != nil {
		return mode.Profile{}, fmt.Errorf("config: %w", err)
	}
	name := effName(strings.TrimSpace(cfg.Mode), Defaults().Mode)
	m, ok := mode.ParseToken(name)
	if !ok {
		m = contract.Mode(strings.ToLower(name))
	}
	p, err := tbl.Lookup(m)
	if err != nil {
		return mode.Profile{}, fmt.Errorf("config: %w", err)
	}
	return p, nil
}

// Assemble 构造 Components、Settings 与遥测 Sink（telemetry=none 时为 nil）。
// 严格 Options 解析在 registry （工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, contract.TelemetrySink, error) {
	var (
		comp pipeline.Components
		set  pipeline.Settings
	)
	if err := Validate(cfg); err != nil {
		return comp, set, nil, err
	}
	prof, err := Profile(cfg)
	if err != nil {
		return comp, set, nil, err
	}

	// 有效名称
	d := Defaults().Components
	rn := effName(cfg.Components.Reader, d.Reader)
	sn := effName(cfg.Components.Splitter, d.Splitter)
	mn := effName(cfg.Components.Remote, d.Remote)
	an := effName(cfg.Components.Assembler, d.Assembler)
	wn := effName(cfg.Components.Writer, d.Writer)
	tn := effName(cfg.Components.Telemetry, d.Telemetry)

	// 构造实例
	r, err := registry.Reader[rn](cfg.Options.Reader)
	if err != nil {
		return comp, set, nil, fmt.Errorf("config: reader %s: %w", rn, err)
	}
	s, err := registry.Splitter[sn](cfg.Options.Splitter)
	if err != nil {
		return comp, set, nil, fmt.Errorf("config: splitter %s: %w", sn, err)
	}
	ep := registry.Endpoint{URL: strings.TrimSpace(cfg.APIURL), Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	var remote registry.RemoteClient
	// dry-run 且未提供 api_url 时不构造 http 远端（规划不需要网络）
	if !(cfg.DryRun && mn == "http" && ep.URL == "" && !hasKey(cfg.Options.Remote, "api_url")) {
		remote, err = registry.Remote[mn](cfg.Options.Remote, ep)
		if err != nil {
			return comp, set, nil, fmt.Errorf("config: remote %s: %w", mn, err)
		}
	}
	asm, err := registry.Assembler[an](cfg.Options.Assembler)
	if err != nil {
		return comp, set, nil, fmt.Errorf("config: assembler %s: %w", an, err)
	}
	w, err := registry.Writer[wn](cfg.Options.Writer)
	if err != nil {
		return comp, set, nil, fmt.Errorf("config: writer %s: %w", wn, err)
	}
	var sink contract.TelemetrySink
	if tn != SinkNone {
		sink, err = registry.Sink[tn](sinkOptions(tn, cfg.Options.Telemetry, cfg.Logging.Dir))
		if err != nil {
			return comp, set, nil, fmt.Errorf("config: telemetry %s: %w", tn, err)
		}
	}

	comp = pipeline.Components{
		Reader:    r,
		Splitter:  s,
		Assembler: asm,
		Writer:    w,
	}
	if remote != nil {
		comp.Remote = remote
		comp.Health = remote
	}

	// 限流 Gate（按账户限额构造；未配置的账户不限额）
	lims, _ := rate.DeriveLimits(rateLimits(cfg.Limits))
	set = pipeline.Settings{
		Inputs:     cloneStrings(cfg.Inputs),
		Profile:    prof,
		Limits:     batch.Limits{MaxItems: cfg.MaxItemsPerRequest, MaxWords: cfg.MaxWordsPerRequest},
		Hysteresis: cfg.Scheduler.HysteresisSeconds,
		MaxDepth:   cfg.Scheduler.MaxRecoveryDepth,
		Gate:       rate.NewGate(lims, nil),
		DryRun:     cfg.DryRun,
		APIURL:     ep.URL,
	}
	return comp, set, sink, nil
}

func rateLimits(in map[string]Limits) map[string]rate.Limits {
	out := make(map[string]rate.Limits, len(in))
	for k, v := range in {
		out[k] = rate.Limits{RPM: v.RPM, Burst: v.Burst}
	}
	return out
}

// sinkOptions: 未给出选项时，文件型 Sink 落在 logging.dir 下。
func sinkOptions(name string, raw json.RawMessage, dir string) json.RawMessage {
	if len(raw) > 0 || strings.TrimSpace(dir) == "" {
		return raw
	}
	var v any
	switch name {
	case "markdown":
		v = map[string]string{"path": filepath.Join(dir, "parabatch-runs.md")}
	case "jsonl":
		v = map[string]string{"dir": dir}
	case "sqlite":
		v = map[string]string{"path": filepath.Join(dir, "parabatch.db")}
	default:
		return raw
	}
	b, _ := json.Marshal(v)
	return b
}

// hasKey 判断原样 JSON 对象中是否有非空字符串键。
func hasKey(raw json.RawMessage, key string) bool {
	if len(raw) == 0 {
		return false
	}
	var m map[string]any
	if json.Unmarshal(raw, &m) != nil {
		return false
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s) != ""
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
