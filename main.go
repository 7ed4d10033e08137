package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/update-notifier/internal/cache"
	"github.com/any-hub/update-notifier/internal/checker"
	"github.com/any-hub/update-notifier/internal/config"
	"github.com/any-hub/update-notifier/internal/logging"
	"github.com/any-hub/update-notifier/internal/notifier"
	"github.com/any-hub/update-notifier/internal/version"
)

const (
	configEnv         = "UPDATE_NOTIFIER_CONFIG"
	defaultConfigFile = "update-notifier.toml"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath      string
	checkOnly       bool
	showVersion     bool
	showStatus      bool
	backgroundCheck bool
	pkgName         string
	pkgVersion      string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}
	applyPackageFlags(cfg, opts)

	// 脱离运行的检查进程没有可见的终端，未配置日志文件时直接丢弃。
	fallback := stdErr
	if opts.backgroundCheck {
		fallback = io.Discard
	}
	logger, err := logging.InitLogger(cfg, fallback)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", cfg.Package.Name)
		fields["config"] = opts.configPath
		fields["cache_dir"] = cfg.CacheDir
		fields["registry"] = cfg.Registry
		fields["check_mode"] = string(cfg.CheckMode)
		fields["version"] = version.Full()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if !cfg.HasPackage() {
		fmt.Fprintln(stdErr, "缺少包名或版本：请通过 --package/--current 或配置 [Package] 指定")
		return 2
	}

	n, err := notifier.New(notifierOptions(cfg, opts, logger))
	if err != nil {
		fmt.Fprintf(stdErr, "初始化更新提醒失败: %v\n", err)
		return 1
	}

	ctx := context.Background()
	switch {
	case opts.backgroundCheck:
		if err := n.RunCheck(ctx); err != nil && !errors.Is(err, checker.ErrCheckInFlight) {
			return 1
		}
		return 0
	case opts.showStatus:
		return printStatus(ctx, n)
	}

	if latest, ok := n.CheckForUpdate(ctx); ok {
		printNotice(cfg.Package.Name, cfg.Package.Version, latest)
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("update-notifier", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		opts       cliOptions
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./update-notifier.toml，可被 UPDATE_NOTIFIER_CONFIG 覆盖）")
	fs.BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&opts.showVersion, "version", false, "显示版本信息")
	fs.BoolVar(&opts.showStatus, "status", false, "以 JSON 输出当前缓存记录")
	fs.StringVar(&opts.pkgName, "package", "", "被检查的包名，覆盖配置中的 Package.Name")
	fs.StringVar(&opts.pkgVersion, "current", "", "当前运行的版本，覆盖配置中的 Package.Version")
	fs.BoolVar(&opts.backgroundCheck, "background-check", false, "")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	opts.configPath = resolveConfigPath(configFlag)
	return opts, nil
}

// resolveConfigPath 按 flag → 环境变量 → 默认文件 的顺序确定配置路径。
// 默认文件不存在时返回空串，表示只使用内置默认值。
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(configEnv); env != "" {
		return env
	}
	if info, err := os.Stat(defaultConfigFile); err == nil && !info.IsDir() {
		return defaultConfigFile
	}
	return ""
}

func applyPackageFlags(cfg *config.Config, opts cliOptions) {
	if name := strings.TrimSpace(opts.pkgName); name != "" {
		cfg.Package.Name = name
	}
	if current := strings.TrimSpace(opts.pkgVersion); current != "" {
		cfg.Package.Version = current
	}
}

func notifierOptions(cfg *config.Config, opts cliOptions, logger *logrus.Logger) notifier.Options {
	interval := cfg.UpdateCheckInterval.DurationValue()
	if interval == 0 {
		// 配置中的 0 表示每次都重新检查，而 Options 中的 0 表示默认间隔。
		interval = time.Millisecond
	}

	nopts := notifier.Options{
		CacheDir:            cfg.CacheDir,
		Pkg:                 notifier.Package{Name: cfg.Package.Name, Version: cfg.Package.Version},
		UpdateCheckInterval: interval,
		Registry:            cfg.Registry,
		DistTag:             cfg.DistTag,
		LookupTimeout:       cfg.LookupTimeout.DurationValue(),
		MaxRetries:          cfg.MaxRetries,
		InitialBackoff:      cfg.InitialBackoff.DurationValue(),
		Logger:              logger,
	}
	switch {
	case opts.backgroundCheck, cfg.CheckMode == config.CheckModeGoroutine:
		nopts.InProcess = true
	default:
		// 子进程沿用同一份配置文件，日志设置随之生效。
		nopts.Launcher = checker.ProcessLauncher{Args: backgroundArgs(opts.configPath)}
	}
	return nopts
}

// backgroundArgs 构造子进程参数：沿用同一份配置，只替换运行模式与包信息。
func backgroundArgs(configPath string) func(checker.Request) []string {
	return func(req checker.Request) []string {
		args := []string{"--background-check", "--package", req.Name, "--current", req.CurrentVersion}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		return args
	}
}

type statusOutput struct {
	Package   string              `json:"package"`
	Current   string              `json:"current"`
	Path      string              `json:"path"`
	Record    *cache.UpdateRecord `json:"record"`
	Freshness string              `json:"freshness"`
	ExpireAt  string              `json:"expireAtTime,omitempty"`
	Error     string              `json:"error,omitempty"`
}

func printStatus(ctx context.Context, n *notifier.Notifier) int {
	record, path, err := n.Record(ctx)
	out := statusOutput{
		Package: n.Package().Name,
		Current: n.Package().Version,
		Path:    path,
		Record:  record,
	}
	switch {
	case err == nil:
		out.ExpireAt = record.ExpireTime().Format(time.RFC3339)
	case errors.Is(err, cache.ErrNotFound):
	default:
		out.Error = err.Error()
	}
	out.Freshness = cache.Decide(record, time.Now()).String()

	enc := json.NewEncoder(stdOut)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stdErr, "输出状态失败: %v\n", err)
		return 1
	}
	return 0
}

func printNotice(name, current, latest string) {
	fmt.Fprintf(stdErr, "Update available for %s: %s → %s\n", name, current, latest)
}
