// Package registrytest 提供基于 Fiber 的 npm Registry 模拟器，供各包测试复用。
package registrytest

import (
	"net"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
)

// Server 模拟 GET /{name}/{tag} 接口，记录请求并支持注入失败与延迟。
type Server struct {
	URL string

	app      *fiber.App
	listener net.Listener

	mu        sync.Mutex
	versions  map[string]map[string]string
	failures  int
	failCode  int
	delay     time.Duration
	requested []string
}

// New 启动监听 127.0.0.1 随机端口的模拟 Registry，测试结束时自动关闭。
func New(t *testing.T) *Server {
	t.Helper()

	stub := &Server{versions: make(map[string]map[string]string)}

	app := fiber.New(fiber.Config{CaseSensitive: true})
	app.Get("/*", stub.handle)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("unable to start registry stub listener: %v", err)
	}

	stub.app = app
	stub.listener = listener
	stub.URL = "http://" + listener.Addr().String()

	go func() {
		_ = app.Listener(listener, fiber.ListenConfig{DisableStartupMessage: true})
	}()
	t.Cleanup(stub.Close)

	return stub
}

// SetVersion 设置包在 dist-tag 下发布的版本。
func (s *Server) SetVersion(name, tag, version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags := s.versions[name]
	if tags == nil {
		tags = make(map[string]string)
		s.versions[name] = tags
	}
	tags[tag] = version
}

// SetLatest 是 SetVersion(name, "latest", version) 的简写。
func (s *Server) SetLatest(name, version string) {
	s.SetVersion(name, "latest", version)
}

// FailNext 让接下来 count 次请求返回 status。
func (s *Server) FailNext(count, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = count
	s.failCode = status
}

// SetDelay 为每次响应增加固定延迟，用于模拟慢 Registry。
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Requests 返回按顺序记录的包名。
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]string, len(s.requested))
	copy(result, s.requested)
	return result
}

// RequestCount 返回收到的请求总数。
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requested)
}

// Close 关闭 Fiber 应用与监听器。
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.app != nil {
		_ = s.app.ShutdownWithTimeout(time.Second)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *Server) handle(c fiber.Ctx) error {
	name, tag, ok := splitPath(string(c.Request().URI().PathOriginal()))

	s.mu.Lock()
	s.requested = append(s.requested, name)
	delay := s.delay
	failCode := 0
	if s.failures > 0 {
		s.failures--
		failCode = s.failCode
	}
	version := s.versions[name][tag]
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_path"})
	}
	if failCode != 0 {
		return c.Status(failCode).JSON(fiber.Map{"error": "injected_failure"})
	}
	if version == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	}
	return c.JSON(fiber.Map{
		"name":    name,
		"version": version,
	})
}

// splitPath 解析 /{escaped-name}/{tag}，兼容 @scope%2Fpkg 形式的包名。
func splitPath(raw string) (string, string, bool) {
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		raw = raw[:idx]
	}
	trimmed := strings.Trim(raw, "/")
	idx := strings.LastIndexByte(trimmed, '/')
	if idx <= 0 || idx == len(trimmed)-1 {
		return "", "", false
	}
	name, err := url.PathUnescape(trimmed[:idx])
	if err != nil {
		return "", "", false
	}
	tag, err := url.PathUnescape(trimmed[idx+1:])
	if err != nil {
		return "", "", false
	}
	return name, tag, true
}
