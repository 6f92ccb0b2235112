package filesystem

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parabatch/pkg/contract"
)

func noTemp(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("tmp file not cleaned: %s", e.Name())
		}
	}
}

// 默认：输入文件旁写出 "pr <name>"，原子替换已存在目标
func TestWriteBesideInput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "essay.txt")
	w := New(nil)
	id := contract.NormalizeFileID(src)
	require.NoError(t, w.Write(context.Background(), id, bytes.NewBufferString("v1")))
	require.NoError(t, w.Write(context.Background(), id, bytes.NewBufferString("v2")))

	b, err := os.ReadFile(filepath.Join(dir, "pr essay.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(b))
	noTemp(t, dir)

	target, err := w.Target(id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "pr essay.txt"), target)
}

// OutputDir：扁平与保留层级
func TestWriteOutputDir(t *testing.T) {
	out := t.TempDir()
	w := New(&Options{OutputDir: out, NamePrefix: "rewritten-"})
	require.NoError(t, w.Write(context.Background(), "docs/a.txt", strings.NewReader("x")))
	_, err := os.Stat(filepath.Join(out, "rewritten-a.txt"))
	require.NoError(t, err)

	flat, atomic := false, false
	w = New(&Options{OutputDir: out, Flat: &flat, Atomic: &atomic})
	require.NoError(t, w.Write(context.Background(), "docs/sub/b.md", strings.NewReader("y")))
	b, err := os.ReadFile(filepath.Join(out, "docs", "sub", "pr b.md"))
	require.NoError(t, err)
	assert.Equal(t, "y", string(b))

	p, err := New(&Options{OutputDir: out}).Target("stdin")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "pr stdin.txt"), p)
}

// 路径越界与无效名称
func TestWritePathInvalid(t *testing.T) {
	flat := false
	w := New(&Options{OutputDir: t.TempDir(), Flat: &flat})
	for _, id := range []string{"../bad.txt", "/abs/x.txt", ".", ".."} {
		err := w.Write(context.Background(), contract.ArtifactID(id), strings.NewReader("x"))
		assert.ErrorIs(t, err, contract.ErrPathInvalid, id)
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

// 拷贝失败不残留临时文件，也不产生目标
func TestWriteAtomicCopyError(t *testing.T) {
	dir := t.TempDir()
	w := New(&Options{OutputDir: dir})
	require.Error(t, w.Write(context.Background(), "a.txt", errReader{}))
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestWriteCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(&Options{OutputDir: t.TempDir()}).Write(ctx, "a.txt", strings.NewReader("data"))
	assert.ErrorIs(t, err, context.Canceled)

	r := readerWithCtx(ctx, strings.NewReader("data"))
	_, err = r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, context.Canceled)
}
