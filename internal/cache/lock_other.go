//go:build !unix

package cache

import (
	"errors"
	"io/fs"
	"os"
	"time"
)

// staleLockAge 之后仍存在的锁文件视为崩溃遗留，允许抢占。
const staleLockAge = 2 * time.Minute

// acquireFileLock 在不支持 flock 的平台上退化为 O_EXCL 创建锁文件。
func acquireFileLock(lockPath string) (func(), error) {
	for attempt := 0; attempt < 2; attempt++ {
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			return func() {
				_ = lockFile.Close()
				_ = os.Remove(lockPath)
			}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
		info, statErr := os.Stat(lockPath)
		if statErr != nil || time.Since(info.ModTime()) < staleLockAge {
			return nil, ErrLocked
		}
		_ = os.Remove(lockPath)
	}
	return nil, ErrLocked
}
