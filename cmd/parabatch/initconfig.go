package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	cfgpkg "parabatch/internal/config"
)

func newInitConfigCmd(o *cliOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "init-config [dir]",
		Short: "在指定目录生成默认配置与 .env 模板（已存在则不覆盖）；缺省为当前目录",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return configErr("生成默认配置失败", err)
			}
			b, ext, err := renderConfig(cfgpkg.DefaultTemplateConfig(), format)
			if err != nil {
				return configErr("生成默认配置失败", err)
			}
			path := filepath.Join(dir, "config"+ext)
			if err := writeNew(path, b); err != nil {
				return configErr("生成默认配置失败", err)
			}
			fmt.Fprintf(o.stdout, "wrote %s\n", path)
			// 生成 .env 模板（不覆盖已存在文件）。
			envPath := filepath.Join(dir, ".env")
			if err := writeDotEnv(envPath); err != nil {
				fmt.Fprintf(o.stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "模板格式：json | toml | yaml")
	return cmd
}

// renderConfig 按格式序列化配置；TOML/YAML 先经 JSON 归一为通用树，保证键名一致。
func renderConfig(cfg cfgpkg.Config, format string) ([]byte, string, error) {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, "", err
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return append(b, '\n'), ".json", nil
	case "toml":
		tree, err := jsonTree(b)
		if err != nil {
			return nil, "", err
		}
		out, err := toml.Marshal(tree)
		return out, ".toml", err
	case "yaml", "yml":
		tree, err := jsonTree(b)
		if err != nil {
			return nil, "", err
		}
		out, err := yaml.Marshal(tree)
		return out, ".yaml", err
	default:
		return nil, "", fmt.Errorf("unknown format %q", format)
	}
}

// jsonTree 去掉 null 值（TOML 无 null）。
func jsonTree(b []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	dropNulls(m)
	return m, nil
}

func dropNulls(m map[string]any) {
	for k, v := range m {
		switch t := v.(type) {
		case nil:
			delete(m, k)
		case map[string]any:
			dropNulls(t)
		}
	}
}

// writeNew 创建新文件；已存在时返回错误（不覆盖）。
func writeNew(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
// 仅创建文件；不覆盖，不合并。
func writeDotEnv(path string) error {
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		return nil
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}
	var b strings.Builder
	b.WriteString("# parabatch .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件\n")
	b.WriteString("# 空值表示未设置。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	b.WriteString(cfgpkg.EnvPrefix + "CONFIG_FILE=\n")
	b.WriteString(cfgpkg.EnvPrefix + "CONFIG_JSON=\n\n")

	b.WriteString("# 运行参数覆盖\n")
	for _, k := range []string{
		"INPUTS", "MODE", "API_URL", "TIMEOUT_SECONDS", "MAX_ITEMS_PER_REQUEST", "MAX_WORDS_PER_REQUEST",
		"DRY_RUN", "HYSTERESIS_SECONDS", "MAX_RECOVERY_DEPTH", "LOG_LEVEL", "LOG_DIR",
	} {
		b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
	}

	b.WriteString("\n# 组件选择与选项（原样 JSON）\n")
	for _, c := range []string{"READER", "SPLITTER", "REMOTE", "ASSEMBLER", "WRITER", "TELEMETRY"} {
		b.WriteString(cfgpkg.EnvPrefix + "COMPONENTS_" + c + "=\n")
	}
	for _, c := range []string{"READER", "SPLITTER", "REMOTE", "ASSEMBLER", "WRITER", "TELEMETRY"} {
		b.WriteString(cfgpkg.EnvPrefix + "OPTIONS_" + c + "_JSON=\n")
	}

	b.WriteString("\n# 账户限流\n")
	for _, acc := range []string{"acc1", "acc2", "acc3"} {
		b.WriteString(cfgpkg.EnvPrefix + "LIMITS__" + acc + "__RPM=\n")
		b.WriteString(cfgpkg.EnvPrefix + "LIMITS__" + acc + "__BURST=\n")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}
