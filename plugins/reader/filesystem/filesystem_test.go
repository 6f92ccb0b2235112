package filesystem

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parabatch/pkg/contract"
)

func collect(t *testing.T, r *FileSystem, roots ...string) []string {
	t.Helper()
	var got []string
	err := r.Iterate(context.Background(), roots, func(id contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		got = append(got, filepath.Base(string(id)))
		return nil
	})
	require.NoError(t, err)
	return got
}

func write(t *testing.T, p, s string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(s), 0o644))
}

// 读取单文件：显式文件不受扩展名限制
func TestIterateSingleFile(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "essay.rtf")
	write(t, fp, "hello")
	var got []byte
	err := New(nil).Iterate(context.Background(), []string{fp}, func(id contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		assert.Equal(t, contract.NormalizeFileID(fp), id)
		got, _ = io.ReadAll(rc)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

// 目录遍历：字典序、扩展名白名单、跳过输出文件与排除目录
func TestWalkFilters(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "b.txt"), "b")
	write(t, filepath.Join(dir, "a.md"), "a")
	write(t, filepath.Join(dir, "pr a.md"), "old output")
	write(t, filepath.Join(dir, "image.png"), "x")
	write(t, filepath.Join(dir, "sub", "c.JSONL"), "{}")
	write(t, filepath.Join(dir, "node_modules", "d.txt"), "d")

	got := collect(t, New(&Options{ExcludeDirNames: []string{"Node_Modules"}}), dir)
	assert.Equal(t, []string{"a.md", "b.txt", "c.JSONL"}, got)

	got = collect(t, New(&Options{AllowExts: []string{"md"}, SkipPrefix: "-"}), dir)
	assert.Equal(t, []string{"a.md", "pr a.md"}, got)
}

// '-' 不可与其他 root 混用
func TestIterateDashMix(t *testing.T) {
	err := New(nil).Iterate(context.Background(), []string{"-", "a"}, func(contract.FileID, io.ReadCloser) error { return nil })
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

// roots 为空或为 '-' 时读取 STDIN
func TestIterateStdin(t *testing.T) {
	for _, roots := range [][]string{nil, {"-"}} {
		old := os.Stdin
		pr, pw, err := os.Pipe()
		require.NoError(t, err)
		os.Stdin = pr
		go func() {
			_, _ = pw.Write([]byte("hi"))
			_ = pw.Close()
		}()
		var data []byte
		err = New(nil).Iterate(context.Background(), roots, func(id contract.FileID, rc io.ReadCloser) error {
			assert.Equal(t, contract.FileID("stdin"), id)
			data, _ = io.ReadAll(rc)
			return nil
		})
		os.Stdin = old
		_ = pr.Close()
		require.NoError(t, err)
		assert.Equal(t, "hi", string(data))
	}
}

// 不存在的路径返回 PathError；yield 错误原样上抛
func TestIterateErrors(t *testing.T) {
	err := New(nil).Iterate(context.Background(), []string{filepath.Join(t.TempDir(), "missing.txt")}, func(contract.FileID, io.ReadCloser) error { return nil })
	var pe *fs.PathError
	assert.ErrorAs(t, err, &pe)

	dir := t.TempDir()
	write(t, filepath.Join(dir, "a.txt"), "a")
	boom := errors.New("boom")
	err = New(nil).Iterate(context.Background(), []string{dir}, func(contract.FileID, io.ReadCloser) error { return boom })
	assert.ErrorIs(t, err, boom)
}

// 上下文取消
func TestIterateCtxCancel(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "a.txt")
	write(t, fp, "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(nil).Iterate(ctx, []string{fp}, func(contract.FileID, io.ReadCloser) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
