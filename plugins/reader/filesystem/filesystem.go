package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"parabatch/pkg/contract"
)

// Options 为文件系统 Reader 的可选配置。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// AllowExts: 目录遍历时仅接收这些扩展名（小写、含点）。默认 .txt/.md/.jsonl。
	// 显式指定的文件 root 不受限制。
	AllowExts []string `json:"allow_exts"`
	// ExcludeDirNames: 遍历时跳过的目录基名（大小写不敏感），如 .git、node_modules。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// SkipPrefix: 遍历时跳过以此开头的文件（已生成的输出）。默认 "pr "；"-" 表示不跳过。
	SkipPrefix string `json:"skip_prefix"`
}

// FileSystem 实现基于文件系统与 STDIN 的 Reader。
type FileSystem struct {
	bufSize    int
	allowExt   map[string]struct{}
	excludeDir map[string]struct{}
	skipPrefix string
}

var defaultExts = []string{".txt", ".md", ".jsonl"}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.BufSize <= 0 {
		o.BufSize = 64 * 1024
	}
	if len(o.AllowExts) == 0 {
		o.AllowExts = defaultExts
	}
	switch o.SkipPrefix {
	case "":
		o.SkipPrefix = "pr "
	case "-":
		o.SkipPrefix = ""
	}
	r := &FileSystem{
		bufSize:    o.BufSize,
		allowExt:   make(map[string]struct{}, len(o.AllowExts)),
		excludeDir: make(map[string]struct{}, len(o.ExcludeDirNames)),
		skipPrefix: o.SkipPrefix,
	}
	for _, e := range o.AllowExts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		r.allowExt[e] = struct{}{}
	}
	for _, name := range o.ExcludeDirNames {
		if name != "" {
			r.excludeDir[strings.ToLower(name)] = struct{}{}
		}
	}
	return r
}

// Iterate 按 roots 顺序处理；目录内按 WalkDir 的字典序遍历。
// roots 为空或仅为 "-" 时读取 STDIN；"-" 不可与其他 root 混用。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield(contract.FileID("stdin"), newBufferedCloser(os.Stdin, r.bufSize))
	}
	for _, s := range roots {
		if s == "-" {
			return fmt.Errorf("reader: stdin '-' cannot be mixed with other roots: %w", contract.ErrInvalidInput)
		}
	}
	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// os.Stat 跟随符号链接；失效链接返回错误
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("reader: %w", err)
	}
	if info.IsDir() {
		// 目录符号链接不跟随
		if li, err := os.Lstat(root); err == nil && li.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		return r.walk(ctx, root, yield)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return r.open(root, yield)
}

func (r *FileSystem) walk(ctx context.Context, dir string, yield func(contract.FileID, io.ReadCloser) error) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("reader: %w", err)
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			if p != dir {
				if _, skip := r.excludeDir[strings.ToLower(d.Name())]; skip {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !r.accept(d.Name()) {
			return nil
		}
		// 指向常规文件的符号链接可读；其余非常规项忽略
		if d.Type()&fs.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				return fmt.Errorf("reader: %w", err)
			}
			if !t.Mode().IsRegular() {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}
		return r.open(p, yield)
	})
}

func (r *FileSystem) accept(name string) bool {
	if r.skipPrefix != "" && strings.HasPrefix(name, r.skipPrefix) {
		return false
	}
	_, ok := r.allowExt[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (r *FileSystem) open(p string, yield func(contract.FileID, io.ReadCloser) error) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("reader: %w", err)
	}
	brc := newBufferedCloser(f, r.bufSize)
	if err := yield(contract.NormalizeFileID(p), brc); err != nil {
		_ = brc.Close()
		return err
	}
	return nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
