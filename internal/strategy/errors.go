package strategy

import "fmt"

// CombinedFailure 表示 race 策略中网络与缓存两侧都失败。
type CombinedFailure struct {
	Network error
	Cache   error
}

func (e *CombinedFailure) Error() string {
	return fmt.Sprintf("network and cache both failed: network: %v; cache: %v", e.Network, e.Cache)
}

// Unwrap 让 errors.Is/As 能同时看到两侧的错误。
func (e *CombinedFailure) Unwrap() []error {
	return []error{e.Network, e.Cache}
}
