//go:build !windows

package filesystem

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parabatch/pkg/contract"
)

// 非常规文件被忽略（mkfifo）
func TestWalkDirNonRegular(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, syscall.Mkfifo(filepath.Join(root, "fifo.txt"), 0o644))
	assert.Empty(t, collect(t, New(nil), root))
}

// 指向常规文件的符号链接可读
func TestIterateSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "t.txt")
	write(t, target, "ok")
	link := filepath.Join(dir, "l.txt")
	require.NoError(t, os.Symlink(target, link))
	assert.Equal(t, []string{"l.txt"}, collect(t, New(nil), link))
}

// 目录符号链接不跟随（显式 root 与遍历中均忽略）
func TestSymlinkDirIgnored(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	write(t, filepath.Join(sub, "ok.txt"), "o")
	require.NoError(t, os.Symlink(sub, filepath.Join(root, "sub_link.txt")))

	assert.Empty(t, collect(t, New(nil), filepath.Join(root, "sub_link.txt")))
	assert.Equal(t, []string{"ok.txt"}, collect(t, New(nil), root))
}

// 失效的符号链接返回错误
func TestIterateSymlinkDangling(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "dangling.txt")
	require.NoError(t, os.Symlink(filepath.Join(dir, "no"), link))
	err := New(nil).Iterate(context.Background(), []string{link}, func(contract.FileID, io.ReadCloser) error { return nil })
	assert.Error(t, err)
}
