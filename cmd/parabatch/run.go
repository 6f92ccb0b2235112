package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cfgpkg "parabatch/internal/config"
	"parabatch/internal/diag"
	"parabatch/internal/telemetry"
	"parabatch/pkg/contract"
)

// 退出前等待遥测写完的上限。
const telemetryDrainTimeout = 5 * time.Second

func newPlanCmd(o *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan [mode] [inputs...]",
		Short: "规划批请求并打印（不调用远端、不写输出）",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, o, args, true)
		},
	}
}

// runPipeline 合并配置、装配组件并运行流水线；plan=true 时强制 dry-run 并打印请求规划。
func runPipeline(cmd *cobra.Command, o *cliOptions, args []string, plan bool) error {
	start := time.Now()
	cfg, err := loadConfig(cmd, o, args)
	if err != nil {
		return err
	}
	if plan {
		cfg.DryRun = true
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		// 提示打印有效配置，便于诊断
		dumpConfig(o.stderr, cfg)
		return configErr("配置校验失败", err)
	}

	logger := diag.NewLogger(uuid.NewString(), cfg.Logging.Level, cfg.Logging.Dir)
	defer func() { _ = logger.Sync() }()

	// 预检：若使用文件系统 Writer，检查输出目录的可写性
	if !cfg.DryRun {
		if err := preflightCheckOutputDir(cfg); err != nil {
			logger.Error("pipeline", string(diag.CodeIO), "preflight failed", &start)
			return configErr("输出目录不可写或无法创建", err)
		}
	}

	comp, set, sink, err := cfgpkg.Assemble(cfg)
	if err != nil {
		logger.Error("pipeline", string(diag.Classify(err)), "assemble failed", &start)
		return configErr("装配失败", err)
	}
	app := telemetry.NewAppender(sink, logger, telemetry.DefaultQueue)
	comp.Telemetry = app
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryDrainTimeout)
		defer cancel()
		if err := app.Close(ctx); err != nil {
			logger.Warn("telemetry", string(diag.Classify(err)), "telemetry drain incomplete", map[string]string{"error": err.Error()})
		}
	}()

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	diag.SetTerminal(diag.NewTerminal(o.stderr, o.status))
	defer diag.SetTerminal(nil)

	logger.DebugStart("config", "effective", "", "", effectiveKV(cfg))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	t := logger.Start("pipeline", "run")
	sums, err := pipelineRun(ctx, comp, set, logger)
	if plan {
		printPlans(o.stdout, sums)
	}
	if err != nil {
		// 分类到最接近的退出码（运行期错误）
		code := diag.Classify(err)
		logger.ErrorWith("pipeline", string(code), "first error", &start, "", "")
		diag.IncOp("pipeline", "error", "error")
		if code != diag.CodeUnknown {
			diag.IncError("pipeline", string(code))
		}
		if errors.Is(err, context.Canceled) {
			return &exitError{code: exitRun}
		}
		return &exitError{code: exitRun, err: fmt.Errorf("运行失败: %w", err)}
	}
	t.Finish("run", int64(len(sums)))
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	return nil
}

// effectiveKV: debug 级别的运行时配置（不含 remote 选项原文）。
func effectiveKV(cfg cfgpkg.Config) map[string]string {
	return map[string]string{
		"inputs_count":          strconv.Itoa(len(cfg.Inputs)),
		"mode":                  cfg.Mode,
		"api_url":               cfg.APIURL,
		"timeout_seconds":       strconv.Itoa(cfg.TimeoutSeconds),
		"max_items_per_request": strconv.Itoa(cfg.MaxItemsPerRequest),
		"max_words_per_request": strconv.Itoa(cfg.MaxWordsPerRequest),
		"dry_run":               strconv.FormatBool(cfg.DryRun),
		"reader":                cfg.Components.Reader,
		"splitter":              cfg.Components.Splitter,
		"remote":                cfg.Components.Remote,
		"assembler":             cfg.Components.Assembler,
		"writer":                cfg.Components.Writer,
		"telemetry":             cfg.Components.Telemetry,
	}
}

// printPlans 以表格打印每个文档的请求规划。
func printPlans(w io.Writer, sums []contract.RunSummary) {
	for _, s := range sums {
		fmt.Fprintf(w, "%s  mode=%s items=%d words=%d\n", s.Input, s.Mode, s.Items, s.TotalWords)
		if len(s.Requests) == 0 {
			if s.ErrorMessage != "" {
				fmt.Fprintf(w, "  error: %s\n", s.ErrorMessage)
			}
			continue
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  REQUEST\tITEMS\tWORDS\tACCOUNTS\tEST(s)\tCAPACITY\tTRIMMED")
		for _, r := range s.Requests {
			fmt.Fprintf(tw, "  %d\t%d\t%d\t%s\t%.1f\t%.0f\t%v\n",
				r.Index, r.Items, r.Words, accountList(r.Accounts), r.EstimatedSeconds, r.Capacity, r.Trimmed)
		}
		_ = tw.Flush()
	}
}

func accountList(accs []contract.AccountKey) string {
	ss := make([]string, len(accs))
	for i, a := range accs {
		ss[i] = string(a)
	}
	return strings.Join(ss, ",")
}

// preflightCheckOutputDir: 当 Writer 使用文件系统实现(fs)时，启动前检查输出目录可写性。
// 规则：
// - 若目录已存在：尝试创建并删除临时文件；失败则判为不可写。
// - 若目录不存在：检查最近的已存在祖先目录可写（输出目录由 writer 按需创建）。
// 仅针对 fs writer 生效；其他 writer 跳过。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	writerName := strings.TrimSpace(cfg.Components.Writer)
	if writerName == "" {
		writerName = cfgpkg.Defaults().Components.Writer
	}
	if writerName != "fs" {
		return nil
	}
	var wopts struct {
		OutputDir string `json:"output_dir"`
	}
	if len(cfg.Options.Writer) > 0 {
		_ = json.Unmarshal(cfg.Options.Writer, &wopts)
	}
	dir := strings.TrimSpace(wopts.OutputDir)
	if dir == "" {
		// 输出写在输入文件旁，无法预先检查
		return nil
	}
	for {
		st, err := os.Stat(dir)
		if err == nil {
			if !st.IsDir() {
				return fmt.Errorf("路径存在但不是目录: %s", dir)
			}
			f, err := os.CreateTemp(dir, ".wcheck-*")
			if err != nil {
				return err
			}
			name := f.Name()
			_ = f.Close()
			return os.Remove(name)
		}
		if !os.IsNotExist(err) {
			return err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return fmt.Errorf("无法确定父目录: %s", dir)
		}
		dir = parent
	}
}
