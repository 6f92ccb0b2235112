package telemetry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"parabatch/pkg/contract"
)

// Header: Markdown 运行日志文件头，仅在新文件写入一次。
const Header = `# parabatch run log

Auto-generated run telemetry: success/failure runs, timings, request behavior and improvement hints.

`

// Markdown 渲染单次运行条目：概况、阶段耗时、请求明细、错误分析、建议与原始 JSON。
func Markdown(s contract.RunSummary) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	started := s.StartedAt.Local().Format("2006-01-02 15:04:05 -0700")
	line("## %s | %s | %s", started, strings.ToUpper(string(s.Status)), s.Input)
	line("")
	line("- `run_id`: `%s`", s.RunID)
	if s.CorrID != "" {
		line("- `corr_id`: `%s`", s.CorrID)
	}
	line("- `host`: `%s`", s.Host)
	line("- `user`: `%s`", s.User)
	line("- `mode`: `%s`", s.Mode)
	line("- `input`: `%s`", s.Input)
	line("- `output`: `%s`", s.Output)
	line("- `items`: `%d` (`%d` words)", s.Items, s.TotalWords)
	line("- `total_duration_s`: `%.2f`", s.DurationSeconds)
	if s.Status == contract.RunDryRun {
		line("- `dry_run`: `true`")
	}
	line("")

	line("### Stage Timings")
	if len(s.StageSeconds) == 0 {
		line("- (no stage timing data)")
	}
	for _, k := range sortedKeys(s.StageSeconds) {
		line("- `%s`: `%.2fs`", k, s.StageSeconds[k])
	}
	line("")

	line("### Request Breakdown")
	if len(s.Requests) == 0 {
		line("- (no request-level data)")
	}
	for _, r := range s.Requests {
		line("- `req %d` paragraphs=%d, words=%d, accounts=%d %s, est=%.1fs, capacity=%.0f, trimmed_single_account=%t, chunks=%s, initial_failures=%d, recovery_calls=%d",
			r.Index, r.Items, r.Words, r.AccountCount, accountList(r.Accounts), r.EstimatedSeconds, r.Capacity,
			r.Trimmed, chunkWords(r.ChunkWords), r.InitialFailures, r.RecoveryCalls)
	}
	line("")

	if s.ErrorMessage != "" {
		a := Analyze(s)
		stage := s.ErrorStage
		if stage == "" {
			stage = "unknown"
		}
		line("### Error")
		line("- `stage`: `%s`", stage)
		if s.ErrorCode != "" {
			line("- `code`: `%s`", s.ErrorCode)
		}
		line("- `message`: `%s`", s.ErrorMessage)
		line("")
		line("### Likely Causes")
		for _, c := range a.Causes {
			line("- %s", c)
		}
		line("")
		line("### Suggested Fixes")
		for _, f := range a.Fixes {
			line("- %s", f)
		}
		line("")
	}

	line("### Improvement Suggestions")
	for _, sg := range Suggestions(s) {
		line("- %s", sg)
	}
	line("")

	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"marshal_error": %q}`, err.Error()))
	}
	line("<details><summary>Raw Run Payload</summary>")
	line("")
	line("```json")
	line("%s", raw)
	line("```")
	line("")
	line("</details>")
	line("")
	line("---")
	line("")
	return b.String()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func accountList(accs []contract.AccountKey) string {
	parts := make([]string, len(accs))
	for i, a := range accs {
		parts[i] = string(a)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// chunkWords 按固定账户顺序输出 {acc1:n acc2:m}。
func chunkWords(m map[contract.AccountKey]int) string {
	parts := make([]string, 0, len(m))
	for _, k := range contract.AccountKeys {
		if w, ok := m[k]; ok {
			parts = append(parts, fmt.Sprintf("%s:%d", k, w))
		}
	}
	return "{" + strings.Join(parts, " ") + "}"
}
