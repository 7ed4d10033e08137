package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置进入运行期。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if strings.TrimSpace(c.CacheDir) == "" {
		return newFieldError("CacheDir", "不能为空")
	}
	if err := validateCacheDir(c.CacheDir); err != nil {
		return newFieldError("CacheDir", err.Error())
	}
	if c.UpdateCheckInterval.DurationValue() < 0 {
		return newFieldError("UpdateCheckInterval", "不能为负数")
	}
	if err := validateRegistry(c.Registry); err != nil {
		return fmt.Errorf("Registry: %w", err)
	}
	if strings.ContainsAny(c.DistTag, "/ ") {
		return newFieldError("DistTag", "不允许包含空格或斜杠")
	}
	if c.LookupTimeout.DurationValue() <= 0 {
		return newFieldError("LookupTimeout", "必须大于 0")
	}
	if c.MaxRetries < 0 {
		return newFieldError("MaxRetries", "不能为负数")
	}
	if c.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("InitialBackoff", "必须大于 0")
	}
	switch c.CheckMode {
	case CheckModeProcess, CheckModeGoroutine:
	default:
		return newFieldError("CheckMode", "仅支持 process|goroutine")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return newFieldError("LogLevel", err.Error())
	}
	if c.LogMaxSize < 0 || c.LogMaxBackups < 0 {
		return newFieldError("LogMaxSize/LogMaxBackups", "不能为负数")
	}
	if (c.Package.Name == "") != (c.Package.Version == "") {
		return newFieldError("Package.Name/Package.Version", "必须同时提供或同时留空")
	}

	return nil
}

// validateCacheDir 只拒绝明显不可用的路径；目录本身在首次写入时创建。
func validateCacheDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return errors.New("已存在同名文件")
	}
	return nil
}

func validateRegistry(raw string) error {
	if raw == "" {
		return errors.New("缺少 Registry")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("无效 URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host")
	}
	return nil
}
