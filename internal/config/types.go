package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"24h" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// CheckMode 决定后台检查以何种方式脱离当前调用执行。
type CheckMode string

const (
	// CheckModeProcess 重新拉起自身二进制执行检查，父进程可立即退出。
	CheckModeProcess CheckMode = "process"
	// CheckModeGoroutine 在当前进程内的 goroutine 中执行，适用于常驻进程与测试。
	CheckModeGoroutine CheckMode = "goroutine"
)

// PackageConfig 描述当前运行工具自身的包名与版本。
type PackageConfig struct {
	Name    string `mapstructure:"Name"`
	Version string `mapstructure:"Version"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	CacheDir            string        `mapstructure:"CacheDir"`
	UpdateCheckInterval Duration      `mapstructure:"UpdateCheckInterval"`
	Registry            string        `mapstructure:"Registry"`
	DistTag             string        `mapstructure:"DistTag"`
	LookupTimeout       Duration      `mapstructure:"LookupTimeout"`
	MaxRetries          int           `mapstructure:"MaxRetries"`
	InitialBackoff      Duration      `mapstructure:"InitialBackoff"`
	CheckMode           CheckMode     `mapstructure:"CheckMode"`
	LogLevel            string        `mapstructure:"LogLevel"`
	LogFilePath         string        `mapstructure:"LogFilePath"`
	LogMaxSize          int           `mapstructure:"LogMaxSize"`
	LogMaxBackups       int           `mapstructure:"LogMaxBackups"`
	LogCompress         bool          `mapstructure:"LogCompress"`
	Package             PackageConfig `mapstructure:"Package"`
}

// HasPackage 表示是否已给出可用于检查的包名与版本。
func (c *Config) HasPackage() bool {
	return c != nil && strings.TrimSpace(c.Package.Name) != "" && strings.TrimSpace(c.Package.Version) != ""
}
