package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	ssql "parabatch/plugins/sink/sqlite"
)

func newHistoryCmd(o *cliOptions) *cobra.Command {
	var (
		dbPath string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "列出 sqlite 遥测库中最近的运行",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(dbPath)
			if path == "" {
				cfg, err := loadConfig(cmd, o, nil)
				if err != nil {
					return err
				}
				path = historyPath(cfg.Components.Telemetry, cfg.Options.Telemetry, cfg.Logging.Dir)
			}
			sink, err := ssql.Open(path)
			if err != nil {
				return configErr("打开遥测库失败", err)
			}
			defer sink.Close()
			rows, err := sink.Recent(cmd.Context(), limit)
			if err != nil {
				return &exitError{code: exitRun, err: err}
			}
			if len(rows) == 0 {
				fmt.Fprintf(o.stdout, "no runs recorded in %s\n", path)
				return nil
			}
			tw := tabwriter.NewWriter(o.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tSTATUS\tMODE\tREQUESTS\tRECOVERY\tDURATION\tCODE\tINPUT")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.1fs\t%s\t%s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Status, r.Mode,
					r.Requests, r.RecoveryCalls, r.DurationSeconds, orDash(r.ErrorCode), r.Input)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite 数据库路径；缺省取 telemetry=sqlite 的选项或 <logging.dir>/parabatch.db")
	cmd.Flags().IntVar(&limit, "limit", 20, "最多列出的运行数")
	return cmd
}

// historyPath: sqlite 遥测启用时取其 path，否则落在日志目录下的默认库。
func historyPath(sinkName string, raw json.RawMessage, logDir string) string {
	if sinkName == "sqlite" && len(raw) > 0 {
		var opts ssql.Options
		if json.Unmarshal(raw, &opts) == nil && strings.TrimSpace(opts.Path) != "" {
			return opts.Path
		}
	}
	if strings.TrimSpace(logDir) != "" {
		return filepath.Join(logDir, filepath.Base(ssql.DefaultPath))
	}
	return ssql.DefaultPath
}
