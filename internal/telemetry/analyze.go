package telemetry

import (
	"fmt"
	"strings"

	"parabatch/internal/diag"
	"parabatch/pkg/contract"
)

// Analysis: 失败运行的可能原因与修复建议。
type Analysis struct {
	Causes []string
	Fixes  []string
}

// Analyze 依据错误分类代码与错误消息推断原因；成功运行返回空结果。
func Analyze(s contract.RunSummary) Analysis {
	var a Analysis
	if s.ErrorMessage == "" && s.ErrorCode == "" {
		return a
	}
	lower := strings.ToLower(s.ErrorMessage)
	code := diag.Code(s.ErrorCode)
	add := func(cause string, fixes ...string) {
		a.Causes = append(a.Causes, cause)
		a.Fixes = append(a.Fixes, fixes...)
	}

	if code == diag.CodeBudget || strings.Contains(lower, "tripped") || strings.Contains(lower, "rate limited") || strings.Contains(lower, "429") {
		add("Account health guard tripped or the service throttled requests.",
			"Wait for the tripped cooldown to expire or restart the affected account workers.",
			"Reduce max words per request or lower per-account rpm limits.")
	}
	if code == diag.CodeSegmentation || strings.Contains(lower, "count mismatch") {
		add("Delimiter/segmentation mismatch between sent paragraphs and returned parts.",
			"Keep paragraphs shorter and avoid unusually long single paragraphs.",
			"Inspect the recovery warnings in the log if the mismatch persists.")
	}
	if code == diag.CodeFatal || strings.Contains(lower, "recovery failed") {
		add("Recovery exhausted every fallback account for at least one chunk.",
			"Check the health endpoint; all accounts may be degraded or tripped.",
			"Rerun once account health recovers; no output was written for this document.")
	}
	if strings.Contains(lower, "no eligible") {
		add("Splitter filters excluded every candidate paragraph.",
			"Check headings-only documents and the min_words threshold.")
	}
	if code == diag.CodeIO || strings.Contains(lower, "no such file") {
		add("Input or output path could not be accessed.",
			"Pass an existing file or directory, and check output_dir permissions.")
	}
	if code == diag.CodeNetwork || code == diag.CodeProtocol {
		add("The batch service was unreachable or returned an unexpected response.",
			"Verify api_url and that the service health endpoint responds.")
	}
	if code == diag.CodeConfig {
		add("Configuration is incomplete or invalid.",
			"Run `parabatch init-config` and compare against the generated template.")
	}
	if code == diag.CodeCancel {
		add("The run was cancelled or timed out.",
			"Increase timeout_seconds if requests routinely exceed the limit.")
	}
	if len(a.Causes) == 0 {
		add("Unclassified runtime error.",
			"Check the structured log for the failing component and request label.")
	}
	return a
}

// 各模式的低吞吐阈值（词/秒）。
var lowThroughput = map[contract.Mode]float64{
	contract.ModeDual:      8,
	contract.ModeStandard:  12,
	contract.ModeLudicrous: 10,
}

// Suggestions 基于请求摘要给出性能提示；无可提示项时返回一条兜底信息。
func Suggestions(s contract.RunSummary) []string {
	var out []string
	reqs := s.Requests
	paraphrase := s.StageSeconds["paraphrase"]

	if s.Status == contract.RunSuccess && s.TotalWords > 0 && s.DurationSeconds > 0 {
		wps := float64(s.TotalWords) / s.DurationSeconds
		if floor, ok := lowThroughput[s.Mode]; ok && wps < floor {
			out = append(out, fmt.Sprintf("Throughput is low for %s (%.1f words/s). Keep all accounts healthy and avoid oversized chunks.", s.Mode, wps))
		}
	}
	if paraphrase > 0 && s.DurationSeconds > 0 && paraphrase/s.DurationSeconds > 0.85 {
		out = append(out, "Paraphrase stage dominates runtime. Focus on request sizing and account health.")
	}
	if len(reqs) >= 4 {
		words := 0
		for _, r := range reqs {
			words += r.Words
		}
		if float64(words)/float64(len(reqs)) < 450 {
			out = append(out, "Average words/request is small; overhead is high. Increase max words per request cautiously.")
		}
	}
	if len(reqs) > 0 {
		est := 0.0
		for _, r := range reqs {
			est += r.EstimatedSeconds
		}
		if paraphrase > 0 && est > 0 {
			switch ratio := paraphrase / est; {
			case ratio > 1.4:
				out = append(out, "Real paraphrase time is much higher than estimated; likely retries, throttling or recovery.")
			case ratio < 0.65:
				out = append(out, "Real paraphrase time is much lower than estimated; capacity assumptions may be too conservative.")
			}
		}
		trimmed, mismatch, imbalance := 0, 0, 0
		for _, r := range reqs {
			if r.Trimmed {
				trimmed++
			}
			if len(r.ChunkWords) == 0 {
				continue
			}
			if len(r.Accounts) > 0 && !sameKeys(r.Accounts, r.ChunkWords) {
				mismatch++
			}
			if largestShare(r.ChunkWords) > 0.75 {
				imbalance++
			}
		}
		if trimmed > 0 {
			out = append(out, fmt.Sprintf("Single-account guardrail trimmed %d request(s); account health was constrained during the run.", trimmed))
		}
		if mismatch > 0 {
			out = append(out, fmt.Sprintf("Detected account-selection mismatch in %d request(s); chunk keys differ from selected accounts.", mismatch))
		}
		if imbalance > 0 {
			out = append(out, fmt.Sprintf("Detected heavy account imbalance in %d request(s); a single chunk carried over 75%% of the words.", imbalance))
		}
	}
	if s.InitialFailures > 0 {
		out = append(out, fmt.Sprintf("Detected %d initial chunk failure(s); check account health and upstream stability.", s.InitialFailures))
	}
	if s.RecoveryCalls > 0 {
		out = append(out, fmt.Sprintf("Detected %d recovery call(s); monitor delimiter and chunk boundary quality.", s.RecoveryCalls))
	}
	if len(out) == 0 {
		out = append(out, "No immediate optimization flags from this run.")
	}
	return out
}

func sameKeys(accounts []contract.AccountKey, chunks map[contract.AccountKey]int) bool {
	set := make(map[contract.AccountKey]bool, len(accounts))
	for _, a := range accounts {
		set[a] = true
	}
	if len(set) != len(chunks) {
		return false
	}
	for k := range chunks {
		if !set[k] {
			return false
		}
	}
	return true
}

// largestShare: 多个分块时最大分块的词数占比；单分块或总数为 0 时返回 0。
func largestShare(chunks map[contract.AccountKey]int) float64 {
	if len(chunks) < 2 {
		return 0
	}
	total, largest := 0, 0
	for _, w := range chunks {
		if w < 0 {
			w = 0
		}
		total += w
		if w > largest {
			largest = w
		}
	}
	if total == 0 {
		return 0
	}
	return float64(largest) / float64(total)
}
