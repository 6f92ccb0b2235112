// Package migrations 内嵌遥测库的建表脚本。
package migrations

import "embed"

// FS 包含按版本号排序的 *.up.sql。
//
//go:embed *.up.sql
var FS embed.FS
