package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	recordSuffix = "-latest.json"
	lockSuffix   = ".lock"
	// lockDirName 位于 CacheDir 下、命名空间目录之外，使命名空间目录内每个包只有一个文件。
	lockDirName = ".update-notifier-locks"
)

// NewStore 以 cacheDir 为根目录构建记录存储。目录本身延迟到首次写入时创建，
// 但明显不可用的路径（空值、已存在的普通文件）会在这里直接报错。
func NewStore(cacheDir string) (Store, error) {
	if strings.TrimSpace(cacheDir) == "" {
		return nil, errors.New("cache dir required")
	}

	abs, err := filepath.Abs(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}

	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("cache dir %s is not a directory", abs)
	}

	return &fileStore{
		baseDir: filepath.Join(abs, Namespace),
		lockDir: filepath.Join(abs, lockDirName),
		locks:   make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 串行化同一进程内对同一记录的写入；跨进程依赖
// rename 的原子替换，最后一次写入生效。
type fileStore struct {
	baseDir string
	lockDir string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Get(ctx context.Context, name string) (*UpdateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.RecordPath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var record UpdateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if strings.TrimSpace(record.Version) == "" || record.ExpireAt <= 0 {
		return nil, fmt.Errorf("%w: missing version or expireAt", ErrCorrupt)
	}
	return &record, nil
}

func (s *fileStore) Put(ctx context.Context, name string, record UpdateRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := s.RecordPath(name)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	unlock := s.lockEntry(name)
	defer unlock()

	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(s.baseDir, ".record-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.ReadFrom(bytes.NewReader(payload))
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) TryLock(name string) (func(), error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.lockDir, 0o755); err != nil {
		return nil, err
	}
	return acquireFileLock(s.lockPath(name))
}

func (s *fileStore) RecordPath(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, escapeName(name)+recordSuffix), nil
}

func (s *fileStore) lockPath(name string) string {
	return filepath.Join(s.lockDir, escapeName(name)+lockSuffix)
}

func (s *fileStore) lockEntry(name string) func() {
	s.mu.Lock()
	lock := s.locks[name]
	if lock == nil {
		lock = &entryLock{}
		s.locks[name] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, name)
		}
		s.mu.Unlock()
	}
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("package name required")
	}
	return nil
}

// escapeName 将包名映射为单层文件名，例如 @scope/pkg → @scope%2Fpkg。
func escapeName(name string) string {
	return url.PathEscape(name)
}
