package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	record := UpdateRecord{Version: "27.4.0", ExpireAt: time.Now().Add(time.Hour).UnixMilli()}

	if err := store.Put(context.Background(), "vercel", record); err != nil {
		t.Fatalf("put error: %v", err)
	}

	got, err := store.Get(context.Background(), "vercel")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if *got != record {
		t.Fatalf("record mismatch: expected %+v got %+v", record, *got)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "vercel")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreCreatesNamespaceOnFirstWrite(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "cache")
	store, err := NewStore(root)
	if err != nil {
		t.Fatalf("new store error: %v", err)
	}
	if _, err := os.Stat(root); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("cache dir should not exist before first write, got %v", err)
	}

	record := UpdateRecord{Version: "1.0.0", ExpireAt: time.Now().Add(time.Minute).UnixMilli()}
	if err := store.Put(context.Background(), "vercel", record); err != nil {
		t.Fatalf("put error: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(root, Namespace))
	if err != nil {
		t.Fatalf("read namespace dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "vercel-latest.json" {
		t.Fatalf("unexpected namespace content: %v", entries)
	}
}

func TestStoreRecordFileFormat(t *testing.T) {
	store := newTestStore(t)
	record := UpdateRecord{Version: "2.0.0", ExpireAt: 1760000000000, Notified: true}
	if err := store.Put(context.Background(), "vercel", record); err != nil {
		t.Fatalf("put error: %v", err)
	}
	path, err := store.RecordPath("vercel")
	if err != nil {
		t.Fatalf("record path error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("record should be JSON: %v", err)
	}
	if _, ok := raw["version"].(string); !ok {
		t.Fatalf("version should be a string: %v", raw)
	}
	if _, ok := raw["expireAt"].(float64); !ok {
		t.Fatalf("expireAt should be numeric: %v", raw)
	}
	if notified, ok := raw["notified"].(bool); !ok || !notified {
		t.Fatalf("notified should be true: %v", raw)
	}
}

func TestStoreCorruptRecord(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
	}{
		{"truncated json", `{"version":"1.0`},
		{"not json", "garbage"},
		{"missing version", `{"expireAt": 1760000000000, "notified": false}`},
		{"missing expireAt", `{"version": "1.0.0"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := newTestStore(t)
			path, err := store.RecordPath("vercel")
			if err != nil {
				t.Fatalf("record path error: %v", err)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				t.Fatalf("mkdir error: %v", err)
			}
			if err := os.WriteFile(path, []byte(tc.payload), 0o644); err != nil {
				t.Fatalf("write error: %v", err)
			}
			if _, err := store.Get(context.Background(), "vercel"); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestStoreScopedPackageName(t *testing.T) {
	store := newTestStore(t)
	path, err := store.RecordPath("@vercel/cli")
	if err != nil {
		t.Fatalf("record path error: %v", err)
	}
	if base := filepath.Base(path); base != "@vercel%2Fcli-latest.json" {
		t.Fatalf("unexpected file name: %s", base)
	}

	record := UpdateRecord{Version: "1.0.0", ExpireAt: time.Now().Add(time.Minute).UnixMilli()}
	if err := store.Put(context.Background(), "@vercel/cli", record); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if _, err := store.Get(context.Background(), "@vercel/cli"); err != nil {
		t.Fatalf("get error: %v", err)
	}
}

func TestStoreRejectsEmptyName(t *testing.T) {
	store := newTestStore(t)
	if err := store.Put(context.Background(), " ", UpdateRecord{Version: "1.0.0", ExpireAt: 1}); err == nil {
		t.Fatalf("empty package name should be rejected")
	}
}

func TestNewStoreRejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if _, err := NewStore(file); err == nil {
		t.Fatalf("file path should be rejected")
	}
	if _, err := NewStore(""); err == nil {
		t.Fatalf("empty path should be rejected")
	}
}

func TestStoreConcurrentWritesLeaveValidRecord(t *testing.T) {
	store := newTestStore(t)
	expireAt := time.Now().Add(time.Hour).UnixMilli()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record := UpdateRecord{Version: "1.0." + strings.Repeat("1", i+1), ExpireAt: expireAt}
			if err := store.Put(context.Background(), "vercel", record); err != nil {
				t.Errorf("put error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if _, err := store.Get(context.Background(), "vercel"); err != nil {
		t.Fatalf("record should be readable after concurrent writes: %v", err)
	}

	path, _ := store.RecordPath("vercel")
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".record-") {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestStoreTryLockExclusive(t *testing.T) {
	store := newTestStore(t)

	unlock, err := store.TryLock("vercel")
	if err != nil {
		t.Fatalf("first lock should succeed: %v", err)
	}
	if _, err := store.TryLock("vercel"); !errors.Is(err, ErrLocked) {
		t.Fatalf("second lock should report ErrLocked, got %v", err)
	}

	other, err := store.TryLock("other")
	if err != nil {
		t.Fatalf("lock for another package should succeed: %v", err)
	}
	other()

	unlock()
	again, err := store.TryLock("vercel")
	if err != nil {
		t.Fatalf("lock should be reusable after unlock: %v", err)
	}
	again()
}

func TestStoreNamespaceHoldsOnlyRecords(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store error: %v", err)
	}

	unlock, err := store.TryLock("vercel")
	if err != nil {
		t.Fatalf("lock error: %v", err)
	}
	record := UpdateRecord{Version: "28.0.0", ExpireAt: time.Now().Add(time.Hour).UnixMilli()}
	if err := store.Put(context.Background(), "vercel", record); err != nil {
		t.Fatalf("put error: %v", err)
	}
	unlock()

	entries, err := os.ReadDir(filepath.Join(dir, Namespace))
	if err != nil {
		t.Fatalf("read namespace dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "vercel-latest.json" {
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		t.Fatalf("namespace dir should hold only vercel-latest.json, got %v", names)
	}
}

func TestStoreGetHonorsContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Get(ctx, "vercel"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
