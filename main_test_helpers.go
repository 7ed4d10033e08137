package main

import (
	"bytes"
	"sync"
	"testing"
)

// lockedBuffer 允许后台检查的 logger 与测试主 goroutine 同时读写 CLI 输出。
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *lockedBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

// useBufferWriters 在测试期间把 CLI 的 stdout/stderr 换成内存缓冲，结束时恢复。
func useBufferWriters(t *testing.T) {
	t.Helper()

	prevOut, prevErr := stdOut, stdErr
	stdOut = &lockedBuffer{}
	stdErr = &lockedBuffer{}

	t.Cleanup(func() {
		stdOut = prevOut
		stdErr = prevErr
	})
}

// stdOutBuffer 返回 useBufferWriters 安装的 stdout 缓冲。
func stdOutBuffer() *lockedBuffer {
	buf, _ := stdOut.(*lockedBuffer)
	return buf
}

// stdErrBuffer 返回 useBufferWriters 安装的 stderr 缓冲，通知与前台日志都写在这里。
func stdErrBuffer() *lockedBuffer {
	buf, _ := stdErr.(*lockedBuffer)
	return buf
}
