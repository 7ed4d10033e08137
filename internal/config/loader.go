package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultRegistry       = "https://registry.npmjs.org"
	defaultDistTag        = "latest"
	defaultCheckInterval  = 24 * time.Hour
	defaultLookupTimeout  = 5 * time.Second
	defaultInitialBackoff = 200 * time.Millisecond
	defaultCacheNamespace = "update-notifier"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
// path 为空时不读取文件，仅返回默认配置。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absCache, err := filepath.Abs(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.CacheDir = absCache

	return &cfg, nil
}

// Default 返回未读取任何文件时的默认配置。
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		cfg = &Config{}
		applyDefaults(cfg)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("CacheDir", "")
	v.SetDefault("UpdateCheckInterval", "24h")
	v.SetDefault("Registry", defaultRegistry)
	v.SetDefault("DistTag", defaultDistTag)
	v.SetDefault("LookupTimeout", "5s")
	v.SetDefault("MaxRetries", 2)
	v.SetDefault("InitialBackoff", "200ms")
	v.SetDefault("CheckMode", string(CheckModeProcess))
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 10)
	v.SetDefault("LogMaxBackups", 3)
	v.SetDefault("LogCompress", true)
}

func applyDefaults(c *Config) {
	if strings.TrimSpace(c.CacheDir) == "" {
		c.CacheDir = defaultCacheDir()
	}
	if c.Registry == "" {
		c.Registry = defaultRegistry
	}
	c.Registry = strings.TrimRight(c.Registry, "/")
	if strings.TrimSpace(c.DistTag) == "" {
		c.DistTag = defaultDistTag
	}
	if c.LookupTimeout.DurationValue() == 0 {
		c.LookupTimeout = Duration(defaultLookupTimeout)
	}
	if c.InitialBackoff.DurationValue() == 0 {
		c.InitialBackoff = Duration(defaultInitialBackoff)
	}
	if c.CheckMode == "" {
		c.CheckMode = CheckModeProcess
	}
	c.CheckMode = CheckMode(strings.ToLower(strings.TrimSpace(string(c.CheckMode))))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// defaultCacheDir 优先使用系统缓存目录，无法获取时退回临时目录。
func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, defaultCacheNamespace)
	}
	return filepath.Join(os.TempDir(), defaultCacheNamespace)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
