//go:build !windows

package filesystem

import "os"

// replaceFile: POSIX rename 在同一文件系统内原子替换。
func replaceFile(from, to string) error { return os.Rename(from, to) }

// syncDir 刷新父目录元数据（尽力而为）。
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
