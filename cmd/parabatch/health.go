package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "parabatch/internal/config"
	"parabatch/internal/capacity"
	"parabatch/internal/health"
	"parabatch/internal/mode"
	"parabatch/internal/plan"
	"parabatch/pkg/contract"
	"parabatch/pkg/registry"
)

// 健康快照拉取超时。
const healthTimeout = 15 * time.Second

func newHealthCmd(o *cliOptions) *cobra.Command {
	var words int
	cmd := &cobra.Command{
		Use:   "health",
		Short: "拉取健康快照，打印账户可用性与各模式有效预算",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, o, nil)
			if err != nil {
				return err
			}
			tbl := mode.Defaults().Apply(cfg.Modes)
			if err := tbl.Validate(); err != nil {
				return configErr("配置校验失败", err)
			}
			prof, err := cfgpkg.Profile(cfg)
			if err != nil {
				return configErr("配置校验失败", err)
			}
			name := strings.TrimSpace(cfg.Components.Remote)
			if name == "" {
				name = cfgpkg.Defaults().Components.Remote
			}
			newRemote := registry.Remote[name]
			if newRemote == nil {
				return configErr("配置校验失败", fmt.Errorf("remote %q not registered", name))
			}
			remote, err := newRemote(cfg.Options.Remote, registry.Endpoint{
				URL:     strings.TrimSpace(cfg.APIURL),
				Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
			})
			if err != nil {
				return configErr("装配失败", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
			defer cancel()
			raw, err := remote.FetchHealth(ctx)
			if err != nil {
				return &exitError{code: exitRun, err: fmt.Errorf("健康快照拉取失败: %w", err)}
			}
			snap, err := health.Parse(raw)
			if err != nil {
				return &exitError{code: exitRun, err: fmt.Errorf("健康快照解析失败: %w", err)}
			}
			printHealth(o.stdout, snap, tbl)
			if words > 0 {
				printSelection(o.stdout, plan.Selector{Hysteresis: cfg.Scheduler.HysteresisSeconds}.Select(words, prof, snap), prof, words)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&words, "words", 0, ">0 时按该词数预览当前模式的账户数选择")
	return cmd
}

// printHealth 打印每个账户的状态、可用性与各模式有效预算。
func printHealth(w io.Writer, snap *health.Snapshot, tbl mode.Table) {
	avail := map[contract.AccountKey]bool{}
	for _, acc := range plan.Available(snap) {
		avail[acc] = true
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	hdr := []string{"ACCOUNT", "STATUS", "HEALTH", "AVAILABLE"}
	for _, m := range contract.Modes {
		hdr = append(hdr, strings.ToUpper(string(m)))
	}
	fmt.Fprintln(tw, strings.Join(hdr, "\t"))
	for _, acc := range contract.AccountKeys {
		st, _ := snap.Status(acc)
		hl, _ := snap.Health(acc)
		row := []string{string(acc), orDash(st), orDash(hl), fmt.Sprint(avail[acc])}
		for _, m := range contract.Modes {
			p, err := tbl.Lookup(m)
			if err != nil {
				row = append(row, "-")
				continue
			}
			row = append(row, fmt.Sprintf("%.0f", capacity.EffectiveBudget(snap, acc, p)))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
	if succ, fb, ok := snap.Rolling(); ok {
		fmt.Fprintf(w, "rolling: success=%.2f fallback=%.2f\n", succ, fb)
	}
}

// printSelection 打印候选账户数与最终选择。
func printSelection(w io.Writer, p plan.Plan, prof mode.Profile, words int) {
	fmt.Fprintf(w, "\nselection (%s, %d words): %d account(s) %s  est=%.1fs capacity=%.0f\n",
		prof.Name, words, p.Count, accountList(p.Accounts), p.EstimatedSeconds, p.Capacity)
	for _, c := range p.Candidates {
		fmt.Fprintf(w, "  count=%d capacity=%.0f est=%.1fs\n", c.Count, c.Capacity, c.EstimatedSeconds)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
