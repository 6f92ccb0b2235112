package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 使用 mock 远端（本地/离线调试友好），改用 http 时只需填写 api_url；
// - 默认输入为 STDIN（"-"），Writer 输出到 ./out 目录；
// - 选项给出全部键与中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Inputs:             []string{"-"},
		Mode:               d.Mode,
		APIURL:             "",
		TimeoutSeconds:     d.TimeoutSeconds,
		MaxItemsPerRequest: d.MaxItemsPerRequest,
		MaxWordsPerRequest: d.MaxWordsPerRequest,
		Scheduler:          Scheduler{HysteresisSeconds: 0.9, MaxRecoveryDepth: 6},
		Limits: map[string]Limits{
			"acc1": {RPM: 0, Burst: 0},
			"acc2": {RPM: 0, Burst: 0},
			"acc3": {RPM: 0, Burst: 0},
		},
		Logging:    d.Logging,
		Components: d.Components,
	}
	cfg.Components.Remote = "mock"
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "allow_exts": [".txt", ".md"],
  "exclude_dir_names": [".git", "node_modules", "vendor"],
  "skip_prefix": "pr "
}`)
	cfg.Options.Splitter = json.RawMessage(`{
  "min_words": 15,
  "max_paragraph_bytes": 0
}`)
	cfg.Options.Remote = json.RawMessage(`{
  "prefix": ""
}`)
	cfg.Options.Assembler = json.RawMessage(`{
  "format": "text"
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "out",
  "name_prefix": "pr ",
  "atomic": true,
  "flat": true,
  "buf_size": 65536
}`)
	cfg.Options.Telemetry = json.RawMessage(`{
  "path": "logs/parabatch-runs.md"
}`)
	return cfg
}
