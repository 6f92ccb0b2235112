package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "parabatch/internal/config"
	"parabatch/internal/mode"
	"parabatch/internal/pipeline"
)

var pipelineRun = pipeline.Run

// 退出码：0 成功；1 运行失败；3 配置/装配失败（含参数错误）。
const (
	exitOK     = 0
	exitRun    = 1
	exitConfig = 3
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// exitError 携带退出码；err 为 nil 时不打印。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func configErr(msg string, err error) error {
	return &exitError{code: exitConfig, err: fmt.Errorf("%s: %w", msg, err)}
}

// execute 解析参数并执行命令，返回进程退出码。
func execute(args []string, stdout, stderr io.Writer) int {
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(context.Background())
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil && !errors.Is(ee.err, context.Canceled) {
			fmt.Fprintln(stderr, ee.err)
		}
		return ee.code
	}
	// cobra 的参数/旗标错误
	fmt.Fprintln(stderr, err)
	return exitConfig
}

// cliOptions: 全局旗标。数值旗标仅在显式设置时覆盖配置。
type cliOptions struct {
	configPath     string
	mode           string
	apiURL         string
	timeoutSeconds int
	maxItems       int
	maxWords       int
	remote         string
	outputDir      string
	dryRun         bool
	status         bool
	logLevel       string

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	o := &cliOptions{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:   "parabatch [mode] [inputs...]",
		Short: "Batch paraphrase orchestration across acc1..acc3",
		Long: `parabatch 将文档切分为可改写段落，按账户健康快照规划批请求，
在 acc1..acc3 之间分配，并在上游返回缺段/合并时逐段恢复后写回。

位置参数：可选的模式词（standard|std|dual|simple|fast|ludicrous），
其后为文件、目录或 "-"（STDIN，不能与其他输入混用）。`,
		// 位置参数为模式词与输入路径，不作为子命令名校验
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, o, args, false)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "配置文件（.json/.toml/.yaml）；缺省读取 ./config.json（若存在）")
	pf.StringVar(&o.mode, "mode", "", "模式：dual | standard | ludicrous（覆盖配置）")
	pf.StringVar(&o.apiURL, "api-url", "", "批量改写接口地址（覆盖配置）")
	pf.IntVar(&o.timeoutSeconds, "timeout-seconds", 180, "单次批请求超时（秒）")
	pf.IntVar(&o.maxItems, "max-items-per-request", 80, "单次批请求的条目上限")
	pf.IntVar(&o.maxWords, "max-words-per-request", 2200, "单次批请求的词数上限")
	pf.StringVar(&o.remote, "remote", "", "远端实现：http | mock | flaky")
	pf.StringVar(&o.outputDir, "output-dir", "", "输出目录（fs writer 的 output_dir）")
	pf.BoolVar(&o.dryRun, "dry-run", false, "只规划不调用远端、不写输出")
	pf.BoolVar(&o.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 逐行输出")
	pf.StringVar(&o.logLevel, "log-level", "", "日志级别：debug | info | warn | error")

	root.AddCommand(
		newPlanCmd(o),
		newHealthCmd(o),
		newInitConfigCmd(o),
		newHistoryCmd(o),
	)
	return root
}

// loadConfig 按 Defaults → 文件/ENV 配置源 → ENV 覆盖 → CLI 覆盖 合并。
func loadConfig(cmd *cobra.Command, o *cliOptions, args []string) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()
	env := os.Environ()

	path := strings.TrimSpace(o.configPath)
	switch {
	case path != "":
		base, err := cfgpkg.Load(path)
		if err != nil {
			return cfg, configErr("配置解析失败", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	default:
		base, ok, err := cfgpkg.FromEnv(env)
		if err != nil {
			return cfg, configErr("配置解析失败", err)
		}
		if !ok {
			if p := defaultConfigFile(); p != "" {
				if base, err = cfgpkg.Load(p); err != nil {
					return cfg, configErr("配置解析失败", err)
				}
				ok = true
			}
		}
		if ok {
			cfg = cfgpkg.Merge(cfg, base)
		}
	}

	overEnv, err := cfgpkg.EnvOverlay(env)
	if err != nil {
		return cfg, configErr("环境变量解析失败", err)
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	cfg = cfgpkg.Merge(cfg, cliOverlay(cmd, o, args))
	if cmd.Flags().Changed("output-dir") {
		if cfg, err = withOutputDir(cfg, o.outputDir); err != nil {
			return cfg, configErr("参数解析失败", err)
		}
	}
	return cfg, nil
}

// defaultConfigFile 返回工作目录下第一个存在的默认配置文件。
func defaultConfigFile() string {
	for _, p := range []string{"config.json", "config.toml", "config.yaml", "config.yml"} {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

// cliOverlay 将显式设置的旗标与位置参数转为 Config 覆盖。
func cliOverlay(cmd *cobra.Command, o *cliOptions, args []string) cfgpkg.Config {
	var over cfgpkg.Config
	fl := cmd.Flags()
	modeTok, inputs := splitModeArg(args)
	if fl.Changed("mode") {
		over.Mode = o.mode
	} else if modeTok != "" {
		over.Mode = modeTok
	}
	over.Inputs = inputs
	if fl.Changed("api-url") {
		over.APIURL = o.apiURL
	}
	if fl.Changed("timeout-seconds") {
		over.TimeoutSeconds = o.timeoutSeconds
	}
	if fl.Changed("max-items-per-request") {
		over.MaxItemsPerRequest = o.maxItems
	}
	if fl.Changed("max-words-per-request") {
		over.MaxWordsPerRequest = o.maxWords
	}
	if fl.Changed("remote") {
		over.Components.Remote = o.remote
	}
	if fl.Changed("log-level") {
		over.Logging.Level = o.logLevel
	}
	over.DryRun = o.dryRun
	return over
}

// withOutputDir 将 --output-dir 写入 writer 选项（保留其他键）。
func withOutputDir(cfg cfgpkg.Config, dir string) (cfgpkg.Config, error) {
	m := map[string]any{}
	if len(cfg.Options.Writer) > 0 {
		if err := json.Unmarshal(cfg.Options.Writer, &m); err != nil {
			return cfg, fmt.Errorf("options.writer: %w", err)
		}
	}
	m["output_dir"] = dir
	b, err := json.Marshal(m)
	if err != nil {
		return cfg, err
	}
	cfg.Options.Writer = b
	return cfg, nil
}

// splitModeArg: 首个位置参数若为模式词且不是已存在的路径，则视为模式。
func splitModeArg(args []string) (string, []string) {
	if len(args) == 0 {
		return "", nil
	}
	if _, ok := mode.ParseToken(args[0]); ok {
		if _, err := os.Stat(args[0]); err != nil || len(args) > 1 {
			return args[0], append([]string(nil), args[1:]...)
		}
	}
	return "", append([]string(nil), args...)
}

func dumpConfig(w io.Writer, c cfgpkg.Config) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintf(w, "有效配置:\n%s\n", b)
}
