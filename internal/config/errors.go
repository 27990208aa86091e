package config

import "fmt"

// FieldError 提供字段路径与错误原因，便于 CLI 向用户反馈。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// newFieldError 创建包含字段路径与原因的 error，便于 CLI 定位。
func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// strategyField 拼接策略规则的字段路径，输出 Strategy[0].Type 形式。
func strategyField(idx int, field string) string {
	return fmt.Sprintf("Strategy[%d].%s", idx, field)
}
