//go:build unix

package checker

import (
	"os/exec"
	"syscall"
)

// detach 让子进程进入新会话，不再接收父进程终端的信号。
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
