package strategy

import (
	"fmt"
	"strings"
)

// Type 是封闭的策略枚举，未知取值在加载配置时即被拒绝。
type Type string

const (
	OfflineOnly  Type = "offline-only"
	FallbackOnly Type = "fallback-only"
	PreferCache  Type = "prefer-cache"
	Race         Type = "race"
)

// SupportedTypes 供配置校验与诊断输出使用。
const SupportedTypes = "offline-only|fallback-only|prefer-cache|race"

// Types 按声明顺序返回全部策略。
func Types() []Type {
	return []Type{OfflineOnly, FallbackOnly, PreferCache, Race}
}

// UnknownTypeError 表示配置中出现了不在枚举内的策略名。
type UnknownTypeError struct {
	Value string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown strategy type %q (supported: %s)", e.Value, SupportedTypes)
}

// ParseType 规范化大小写与空白后解析策略名。
func ParseType(raw string) (Type, error) {
	normalized := Type(strings.ToLower(strings.TrimSpace(raw)))
	for _, t := range Types() {
		if normalized == t {
			return t, nil
		}
	}
	return "", &UnknownTypeError{Value: raw}
}

func (t Type) String() string {
	return string(t)
}
