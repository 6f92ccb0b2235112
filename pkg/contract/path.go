package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 规范化路径为跨平台稳定的 FileID。
// 规则：反斜杠统一为正斜杠；path.Clean 清理；保留相对/绝对语义。
func NormalizeFileID(p string) FileID {
	return FileID(path.Clean(strings.ReplaceAll(p, `\`, "/")))
}

// Base 返回 FileID 的基名（stdin 等无路径 ID 原样返回）。
func (id FileID) Base() string { return path.Base(string(id)) }
