package main

import (
	"fmt"

	"github.com/any-hub/update-notifier/internal/version"
)

// printVersion 在 --version 模式下向 stdout 打印 update-notifier 的构建版本。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}
