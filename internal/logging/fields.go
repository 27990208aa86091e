package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 描述一次边缘请求：由谁响应（策略名、app-shell 或 passthrough）以及结果状态。
func RequestFields(requestID, method, url, source string, status int) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"url":        url,
		"source":     source,
		"status":     status,
	}
}

// CacheFields 描述缓存布局，启动日志与诊断共用。
func CacheFields(version, backend string, stores []string) logrus.Fields {
	return logrus.Fields{
		"version": version,
		"backend": backend,
		"stores":  stores,
	}
}
