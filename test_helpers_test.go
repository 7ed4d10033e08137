package main

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// moduleRoot 是包含 go.mod 的目录，CLI 测试从这里定位配置样例。
var moduleRoot string

func init() {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return
	}
	for dir := filepath.Dir(file); ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			moduleRoot = dir
			return
		}
		if parent := filepath.Dir(dir); parent == dir {
			return
		}
	}
}

// configFixture 返回 internal/config/testdata 下的配置样例路径。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	if moduleRoot == "" {
		t.Fatal("无法定位 go.mod 所在目录")
	}
	return filepath.Join(moduleRoot, "internal", "config", "testdata", name)
}
