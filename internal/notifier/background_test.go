package notifier

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/any-hub/update-notifier/internal/cache"
	"github.com/any-hub/update-notifier/internal/checker"
	"github.com/any-hub/update-notifier/internal/registry/registrytest"
)

// shortLivedCallerEnv 让测试二进制扮演一次性调用方：调用 Check 后立即退出。
// 取值为 "<cacheDir>|<registry>"。
const shortLivedCallerEnv = "UPDATE_NOTIFIER_SHORT_LIVED_CALLER"

func TestMain(m *testing.M) {
	RunBackgroundIfRequested()
	if spec := os.Getenv(shortLivedCallerEnv); spec != "" {
		os.Exit(runShortLivedCaller(spec))
	}
	os.Exit(m.Run())
}

func runShortLivedCaller(spec string) int {
	dir, registryURL, ok := strings.Cut(spec, "|")
	if !ok {
		return 2
	}
	Check(Options{
		CacheDir:      dir,
		Pkg:           Package{Name: "vercel", Version: "27.3.0"},
		Registry:      registryURL,
		LookupTimeout: 5 * time.Second,
	})
	return 0
}

func TestCheckSurvivesCallerExit(t *testing.T) {
	t.Setenv(DisableEnv, "")
	stub := registrytest.New(t)
	stub.SetLatest("vercel", "28.0.0")
	stub.SetDelay(300 * time.Millisecond)
	dir := t.TempDir()

	cmd := exec.Command(os.Args[0])
	cmd.Env = append(os.Environ(), shortLivedCallerEnv+"="+dir+"|"+stub.URL)
	if err := cmd.Run(); err != nil {
		t.Fatalf("caller process failed: %v", err)
	}

	store, err := cache.NewStore(dir)
	if err != nil {
		t.Fatalf("new store error: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		record, err := store.Get(context.Background(), "vercel")
		if err == nil {
			if record.Version != "28.0.0" || record.Notified {
				t.Fatalf("unexpected record %+v", record)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("record should be written after the caller exited, last error: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	waitUnlocked(t, store, "vercel")
}

func TestRunBackgroundWritesRecord(t *testing.T) {
	stub := registrytest.New(t)
	stub.SetLatest("@vercel/ncc", "0.38.1")
	dir := t.TempDir()

	payload, err := json.Marshal(backgroundRequest{
		CacheDir: dir,
		Name:     "@vercel/ncc",
		Version:  "0.38.0",
		Interval: time.Hour,
		Registry: stub.URL,
	})
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if code := runBackground(string(payload)); code != 0 {
		t.Fatalf("background check should succeed, got exit code %d", code)
	}

	store, err := cache.NewStore(dir)
	if err != nil {
		t.Fatalf("new store error: %v", err)
	}
	record, err := store.Get(context.Background(), "@vercel/ncc")
	if err != nil || record.Version != "0.38.1" {
		t.Fatalf("record should hold 0.38.1, got %+v %v", record, err)
	}
	if cache.Decide(record, time.Now()) != cache.Fresh {
		t.Fatalf("record should be fresh for the requested interval")
	}
}

func TestRunBackgroundRejectsBadPayload(t *testing.T) {
	if code := runBackground("{"); code != 2 {
		t.Fatalf("malformed payload should exit 2, got %d", code)
	}
	if code := runBackground(`{"cacheDir":""}`); code != 2 {
		t.Fatalf("incomplete payload should exit 2, got %d", code)
	}
}

func TestRunBackgroundIfRequestedReturnsWithoutEnv(t *testing.T) {
	t.Setenv(BackgroundEnv, "")
	RunBackgroundIfRequested()
}

func TestDefaultLauncherSelection(t *testing.T) {
	pkg := Package{Name: "vercel", Version: "27.3.0"}

	n, err := New(Options{CacheDir: t.TempDir(), Pkg: pkg})
	if err != nil {
		t.Fatalf("new error: %v", err)
	}
	detached, ok := n.launcher.(checker.ProcessLauncher)
	if !ok {
		t.Fatalf("default launcher should run detached, got %T", n.launcher)
	}
	if len(detached.Env) != 1 || !strings.HasPrefix(detached.Env[0], BackgroundEnv+"=") {
		t.Fatalf("detached launcher should pass the request through %s, got %v", BackgroundEnv, detached.Env)
	}
	var req backgroundRequest
	if err := json.Unmarshal([]byte(strings.TrimPrefix(detached.Env[0], BackgroundEnv+"=")), &req); err != nil {
		t.Fatalf("payload should be JSON: %v", err)
	}
	if req.Name != "vercel" || req.Version != "27.3.0" || req.Interval != DefaultCheckInterval {
		t.Fatalf("unexpected payload %+v", req)
	}

	n, err = New(Options{CacheDir: t.TempDir(), Pkg: pkg, InProcess: true})
	if err != nil {
		t.Fatalf("new error: %v", err)
	}
	if _, ok := n.launcher.(checker.GoroutineLauncher); !ok {
		t.Fatalf("InProcess should use the goroutine launcher, got %T", n.launcher)
	}

	n, err = New(Options{CacheDir: t.TempDir(), Pkg: pkg, Lookup: staticLookup("28.0.0")})
	if err != nil {
		t.Fatalf("new error: %v", err)
	}
	if _, ok := n.launcher.(checker.GoroutineLauncher); !ok {
		t.Fatalf("an injected lookup cannot cross processes, got %T", n.launcher)
	}
}

// waitUnlocked 等待其它进程释放检查锁，避免临时目录在子进程退出前被清理。
func waitUnlocked(t *testing.T, store cache.Store, name string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		unlock, err := store.TryLock(name)
		if err == nil {
			unlock()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}
