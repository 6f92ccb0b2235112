package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"parabatch/internal/mode"
)

// EnvPrefix: 环境变量前缀。
const EnvPrefix = "PARABATCH_"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：api_url 不设默认（http 远端必须由文件/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Mode:               "dual",
		TimeoutSeconds:     180,
		MaxItemsPerRequest: 80,
		MaxWordsPerRequest: 2200,
		Logging:            Logging{Level: "info", Dir: "logs"},
		Components: Components{
			Reader:    "fs",
			Splitter:  "paragraph",
			Remote:    "http",
			Assembler: "linear",
			Writer:    "fs",
			Telemetry: "markdown",
		},
	}
}

// Load 按扩展名解析配置文件：.json 严格 JSON；.toml/.yaml/.yml 先归一为 JSON 再严格解码。
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", "":
		return LoadJSON("", data)
	case ".toml":
		var tree map[string]any
		if err := toml.Unmarshal(data, &tree); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
		return fromTree(path, tree)
	case ".yaml", ".yml":
		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
		return fromTree(path, tree)
	default:
		return Config{}, fmt.Errorf("config: unsupported config extension %q", ext)
	}
}

// fromTree 将 TOML/YAML 解析树转为 JSON 后走同一严格解码路径。
func fromTree(path string, tree map[string]any) (Config, error) {
	if tree == nil {
		tree = map[string]any{}
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: normalize: %w", path, err)
	}
	cfg, err := LoadJSON("", raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FromEnv 读取 PARABATCH_CONFIG_JSON（内联）或 PARABATCH_CONFIG_FILE（路径）。
// 两者都未设置时 ok=false。
func FromEnv(environ []string) (cfg Config, ok bool, err error) {
	env := envMap(environ)
	if v := strings.TrimSpace(env["CONFIG_JSON"]); v != "" {
		cfg, err = LoadJSON("", []byte(v))
		if err != nil {
			return cfg, true, fmt.Errorf("config: %sCONFIG_JSON: %w", EnvPrefix, err)
		}
		return cfg, true, nil
	}
	if p := strings.TrimSpace(env["CONFIG_FILE"]); p != "" {
		cfg, err = Load(p)
		return cfg, true, err
	}
	return Config{}, false, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；modes/limits 按键替换，不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if v := strings.TrimSpace(over.Mode); v != "" {
		out.Mode = v
	}
	if v := strings.TrimSpace(over.APIURL); v != "" {
		out.APIURL = v
	}
	if over.TimeoutSeconds != 0 {
		out.TimeoutSeconds = over.TimeoutSeconds
	}
	if over.MaxItemsPerRequest != 0 {
		out.MaxItemsPerRequest = over.MaxItemsPerRequest
	}
	if over.MaxWordsPerRequest != 0 {
		out.MaxWordsPerRequest = over.MaxWordsPerRequest
	}
	if over.DryRun {
		out.DryRun = true
	}
	if over.Scheduler.HysteresisSeconds != 0 {
		out.Scheduler.HysteresisSeconds = over.Scheduler.HysteresisSeconds
	}
	if over.Scheduler.MaxRecoveryDepth != 0 {
		out.Scheduler.MaxRecoveryDepth = over.Scheduler.MaxRecoveryDepth
	}
	if len(over.Modes) > 0 {
		m := make(map[string]mode.Override, len(out.Modes)+len(over.Modes))
		for k, v := range out.Modes {
			m[k] = v
		}
		for k, v := range over.Modes {
			m[k] = v
		}
		out.Modes = m
	}
	if len(over.Limits) > 0 {
		m := make(map[string]Limits, len(out.Limits)+len(over.Limits))
		for k, v := range out.Limits {
			m[k] = v
		}
		for k, v := range over.Limits {
			m[k] = v
		}
		out.Limits = m
	}
	if v := strings.TrimSpace(over.Logging.Level); v != "" {
		out.Logging.Level = v
	}
	if v := strings.TrimSpace(over.Logging.Dir); v != "" {
		out.Logging.Dir = v
	}

	// 组件名（空不覆盖）
	setName(&out.Components.Reader, over.Components.Reader)
	setName(&out.Components.Splitter, over.Components.Splitter)
	setName(&out.Components.Remote, over.Components.Remote)
	setName(&out.Components.Assembler, over.Components.Assembler)
	setName(&out.Components.Writer, over.Components.Writer)
	setName(&out.Components.Telemetry, over.Components.Telemetry)

	// Options（完整替换对应键）
	setRaw(&out.Options.Reader, over.Options.Reader)
	setRaw(&out.Options.Splitter, over.Options.Splitter)
	setRaw(&out.Options.Remote, over.Options.Remote)
	setRaw(&out.Options.Assembler, over.Options.Assembler)
	setRaw(&out.Options.Writer, over.Options.Writer)
	setRaw(&out.Options.Telemetry, over.Options.Telemetry)
	return out
}

func setName(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setRaw(dst *json.RawMessage, v json.RawMessage) {
	if len(v) > 0 {
		*dst = cloneRaw(v)
	}
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 支持：INPUTS, MODE, API_URL, TIMEOUT_SECONDS, MAX_ITEMS_PER_REQUEST, MAX_WORDS_PER_REQUEST, DRY_RUN,
// HYSTERESIS_SECONDS, MAX_RECOVERY_DEPTH, LOG_LEVEL, LOG_DIR, COMPONENTS_<NAME>, OPTIONS_<NAME>_JSON,
// 以及 LIMITS__<acc>__{RPM,BURST}。数值解析失败返回错误。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	limits := map[string]Limits{}
	for nk, val := range envMap(environ) {
		var err error
		switch nk {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "MODE":
			over.Mode = strings.TrimSpace(val)
		case "API_URL":
			over.APIURL = strings.TrimSpace(val)
		case "TIMEOUT_SECONDS":
			over.TimeoutSeconds, err = atoi(val)
		case "MAX_ITEMS_PER_REQUEST":
			over.MaxItemsPerRequest, err = atoi(val)
		case "MAX_WORDS_PER_REQUEST":
			over.MaxWordsPerRequest, err = atoi(val)
		case "DRY_RUN":
			over.DryRun, err = strconv.ParseBool(strings.TrimSpace(val))
		case "HYSTERESIS_SECONDS":
			over.Scheduler.HysteresisSeconds, err = strconv.ParseFloat(strings.TrimSpace(val), 64)
		case "MAX_RECOVERY_DEPTH":
			over.Scheduler.MaxRecoveryDepth, err = atoi(val)
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "LOG_DIR":
			over.Logging.Dir = strings.TrimSpace(val)
		case "COMPONENTS_READER":
			over.Components.Reader = val
		case "COMPONENTS_SPLITTER":
			over.Components.Splitter = val
		case "COMPONENTS_REMOTE":
			over.Components.Remote = val
		case "COMPONENTS_ASSEMBLER":
			over.Components.Assembler = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		case "COMPONENTS_TELEMETRY":
			over.Components.Telemetry = val
		case "OPTIONS_READER_JSON":
			over.Options.Reader = rawOrNil(val)
		case "OPTIONS_SPLITTER_JSON":
			over.Options.Splitter = rawOrNil(val)
		case "OPTIONS_REMOTE_JSON":
			over.Options.Remote = rawOrNil(val)
		case "OPTIONS_ASSEMBLER_JSON":
			over.Options.Assembler = rawOrNil(val)
		case "OPTIONS_WRITER_JSON":
			over.Options.Writer = rawOrNil(val)
		case "OPTIONS_TELEMETRY_JSON":
			over.Options.Telemetry = rawOrNil(val)
		default:
			// LIMITS__acc1__RPM
			if strings.HasPrefix(nk, "LIMITS__") {
				parts := strings.Split(nk, "__")
				if len(parts) != 3 {
					continue
				}
				acc := strings.ToLower(strings.TrimSpace(parts[1]))
				l := limits[acc]
				switch parts[2] {
				case "RPM":
					l.RPM, err = atoi(val)
				case "BURST":
					l.Burst, err = atoi(val)
				default:
					continue
				}
				limits[acc] = l
			}
		}
		if err != nil {
			return Config{}, fmt.Errorf("config: %s%s: %w", EnvPrefix, nk, err)
		}
	}
	if len(limits) > 0 {
		over.Limits = limits
	}
	return over, nil
}

// envMap 截取带前缀的键（去前缀）；空值视为未设置。
func envMap(environ []string) map[string]string {
	out := map[string]string{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		if val := kv[eq+1:]; strings.TrimSpace(val) != "" {
			out[kv[len(EnvPrefix):eq]] = val
		}
	}
	return out
}

func rawOrNil(s string) json.RawMessage {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return json.RawMessage(s)
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
