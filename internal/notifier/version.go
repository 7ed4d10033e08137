package notifier

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// isNewer 按语义化版本比较，任一方无法解析时视为不更新。
func isNewer(latest, current string) bool {
	latestVer, err := semver.NewVersion(strings.TrimSpace(latest))
	if err != nil {
		return false
	}
	currentVer, err := semver.NewVersion(strings.TrimSpace(current))
	if err != nil {
		return false
	}
	return latestVer.GreaterThan(currentVer)
}

// isDevelopmentVersion 对本地构建等非发布版本返回 true。
func isDevelopmentVersion(v string) bool {
	v = strings.TrimSpace(v)
	switch v {
	case "", "dev", "devel", "unknown":
		return true
	}
	return strings.HasPrefix(v, "devel+")
}
