package reconcile

import (
	"regexp"
	"strings"

	"parabatch/pkg/contract"
)

var (
	delimRe     = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(contract.Delimiter))
	blankLineRe = regexp.MustCompile(`\n\n+`)
)

// Split 按分隔标记（大小写不敏感）切分原始输出，裁剪并丢弃空段。
// 段数少于 expected 时，再在段内按空行二次切分；
// 二次结果恰好等于 expected，或比一次结果更接近 expected 时采用二次结果。
func Split(raw string, expected int) []string {
	parts := splitTrim(delimRe, raw)
	if len(parts) >= expected {
		return parts
	}
	recovered := make([]string, 0, expected)
	for _, p := range parts {
		if strings.Contains(p, "\n\n") {
			recovered = append(recovered, splitTrim(blankLineRe, p)...)
		} else {
			recovered = append(recovered, p)
		}
	}
	if len(recovered) == expected || abs(len(recovered)-expected) < abs(len(parts)-expected) {
		return recovered
	}
	return parts
}

func splitTrim(re *regexp.Regexp, s string) []string {
	raw := re.Split(s, -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var newlineRunRe = regexp.MustCompile(`\s*\n+\s*`)

// Flatten 将段内换行（含两侧空白）折叠为单个空格并裁剪。
func Flatten(s string) string {
	return strings.TrimSpace(newlineRunRe.ReplaceAllString(s, " "))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
