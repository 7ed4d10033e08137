package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 包名等基础字段，便于不同入口复用。
func BaseFields(action, pkg string) logrus.Fields {
	return logrus.Fields{
		"action":  action,
		"package": pkg,
	}
}

// CheckFields 提供一次后台检查的上下文字段，check_id 用于串联同一轮日志。
func CheckFields(checkID, pkg, currentVersion string) logrus.Fields {
	return logrus.Fields{
		"action":          "background_check",
		"check_id":        checkID,
		"package":         pkg,
		"current_version": currentVersion,
	}
}
