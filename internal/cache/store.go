package cache

import (
	"context"
	"errors"
	"time"
)

// Namespace 是 CacheDir 下由本组件独占的子目录名。
const Namespace = "update-notifier"

// Store 负责管理更新检查记录的读写。磁盘布局遵循：
//
//	<CacheDir>/update-notifier/<escaped-name>-latest.json   # 记录正文
//	<CacheDir>/.update-notifier-locks/<escaped-name>.lock   # 后台检查锁
//
// 命名空间目录内每个包名仅对应一个文件，写入总是整体替换。
type Store interface {
	// Get 返回指定包的记录。文件不存在时返回 ErrNotFound，无法解析时返回
	// 包装了 ErrCorrupt 的错误；调用方应将两者都视为“无记录”。
	Get(ctx context.Context, name string) (*UpdateRecord, error)

	// Put 整体替换指定包的记录。实现需通过临时文件 + rename 保证原子性，
	// 并在首次写入时创建命名空间目录。
	Put(ctx context.Context, name string, record UpdateRecord) error

	// TryLock 以非阻塞方式获取包级别的跨进程检查锁。锁已被占用时返回 ErrLocked。
	TryLock(name string) (func(), error)

	// RecordPath 返回记录文件的绝对路径，供诊断输出使用。
	RecordPath(name string) (string, error)
}

// UpdateRecord 是落盘的检查结果。ExpireAt 为 Unix 毫秒时间戳。
type UpdateRecord struct {
	Version  string `json:"version"`
	ExpireAt int64  `json:"expireAt"`
	Notified bool   `json:"notified"`
}

// ExpireTime 将 ExpireAt 转换为 time.Time。
func (r UpdateRecord) ExpireTime() time.Time {
	return time.UnixMilli(r.ExpireAt)
}

var (
	// ErrNotFound 表示记录不存在。
	ErrNotFound = errors.New("update record not found")
	// ErrCorrupt 表示记录文件存在但内容无法解析。
	ErrCorrupt = errors.New("update record corrupt")
	// ErrLocked 表示另一个检查者正持有该包的锁。
	ErrLocked = errors.New("update check lock held")
)
