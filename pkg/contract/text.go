package contract

import (
	"strings"
)

// zeroWidth: 需剔除的零宽字符（U+200B..U+200D, U+FEFF）。
var zeroWidth = strings.NewReplacer("\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "")

// Sanitize 去除零宽字符并裁剪首尾空白。
func Sanitize(s string) string {
	return strings.TrimSpace(zeroWidth.Replace(s))
}

// CountWords 以 Unicode 空白切分计数（先 Sanitize）。
func CountWords(s string) int {
	return len(strings.Fields(Sanitize(s)))
}
