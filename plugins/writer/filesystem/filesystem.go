package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"parabatch/pkg/contract"
)

// DefaultPrefix: 输出文件名前缀。
const DefaultPrefix = "pr "

// Options: 文件系统 Writer 选项。
type Options struct {
	// OutputDir: 输出根目录；为空时写到输入文件旁。
	OutputDir string `json:"output_dir"`
	// NamePrefix: 输出文件名前缀，默认 "pr "。
	NamePrefix string `json:"name_prefix"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。默认 true。
	Atomic *bool `json:"atomic,omitempty"`
	// Flat: 指定 OutputDir 时是否仅保留文件名。默认 true；false 时保留相对目录层级。
	Flat *bool `json:"flat,omitempty"`
	// PermFile/PermDir: 为 0 时使用 0644/0755。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用 64KiB。
	BufSize int `json:"buf_size,omitempty"`
}

type FS struct {
	root    string
	prefix  string
	atomic  bool
	flat    bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

// New 创建文件系统 Writer。
func New(opts *Options) *FS {
	var o Options
	if opts != nil {
		o = *opts
	}
	w := &FS{
		root:    strings.TrimSpace(o.OutputDir),
		prefix:  o.NamePrefix,
		atomic:  true,
		flat:    true,
		permF:   o.PermFile,
		permD:   o.PermDir,
		bufSize: o.BufSize,
	}
	if w.prefix == "" {
		w.prefix = DefaultPrefix
	}
	if o.Atomic != nil {
		w.atomic = *o.Atomic
	}
	if o.Flat != nil {
		w.flat = *o.Flat
	}
	if w.permF == 0 {
		w.permF = 0o644
	}
	if w.permD == 0 {
		w.permD = 0o755
	}
	if w.bufSize <= 0 {
		w.bufSize = 64 * 1024
	}
	return w
}

var _ contract.Writer = (*FS)(nil)

// Target 返回 id 对应的输出路径（供摘要与终端展示）。
func (w *FS) Target(id contract.ArtifactID) (string, error) { return w.mapPath(id) }

// Write 将 r 的全部字节写入 id 映射的目标路径。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := w.mapPath(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return fmt.Errorf("writer: %w", err)
	}
	if w.atomic {
		return w.writeAtomic(ctx, dest, r)
	}
	return w.writeOverwrite(ctx, dest, r)
}

// mapPath: 输出名为 prefix+基名。
// 无 OutputDir 时与输入同目录；Flat=false 时在 OutputDir 下保留相对层级并禁止越界。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	src := filepath.Clean(filepath.FromSlash(string(id)))
	if id == "stdin" {
		src = "stdin.txt"
	}
	base := filepath.Base(src)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("writer: %q: %w", id, contract.ErrPathInvalid)
	}
	name := w.prefix + base
	if w.root == "" {
		return filepath.Join(filepath.Dir(src), name), nil
	}
	if w.flat {
		return filepath.Join(w.root, name), nil
	}
	if filepath.IsAbs(src) || filepath.VolumeName(src) != "" ||
		src == ".." || strings.HasPrefix(src, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("writer: %q escapes output dir: %w", id, contract.ErrPathInvalid)
	}
	return filepath.Join(w.root, filepath.Dir(src), name), nil
}

func (w *FS) writeOverwrite(ctx context.Context, dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return fmt.Errorf("writer: %w", err)
	}
	defer f.Close()
	bw := bufio.NewWriterSize(f, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return err
	}
	return bw.Flush()
}

// writeAtomic: 同目录临时文件写满并 fsync 后替换目标；任一步失败删除临时文件。
func (w *FS) writeAtomic(ctx context.Context, dest string, r io.Reader) (err error) {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("writer: %w", err)
	}
	tmpPath := tmp.Name()
	closed := false
	defer func() {
		if err != nil {
			if !closed {
				_ = tmp.Close()
			}
			_ = os.Remove(tmpPath)
		}
	}()
	_ = os.Chmod(tmpPath, w.permF)

	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err = io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = replaceFile(tmpPath, dest); err != nil {
		return fmt.Errorf("writer: replace %s: %w", dest, err)
	}
	_ = syncDir(dir)
	return nil
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
