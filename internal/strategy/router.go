package strategy

import (
	"errors"
	"fmt"
	"regexp"
)

// Rule 绑定一组 URL 模式与一个策略，加载后不可变。
type Rule struct {
	Patterns []*regexp.Regexp
	Type     Type
}

// CompileRule 编译模式并解析策略名，任何一步失败都是配置错误。
func CompileRule(matches []string, rawType string) (Rule, error) {
	typ, err := ParseType(rawType)
	if err != nil {
		return Rule{}, err
	}
	if len(matches) == 0 {
		return Rule{}, errors.New("at least one match pattern is required")
	}
	patterns := make([]*regexp.Regexp, 0, len(matches))
	for _, expr := range matches {
		if expr == "" {
			return Rule{}, errors.New("empty match pattern")
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid match pattern %q: %w", expr, err)
		}
		patterns = append(patterns, re)
	}
	return Rule{Patterns: patterns, Type: typ}, nil
}

// Matches 对 URL 做区分大小写、不锚定的正则匹配，任一模式命中即可。
func (r Rule) Matches(url string) bool {
	for _, re := range r.Patterns {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// Router 按声明顺序查找第一条匹配的规则。
type Router struct {
	rules []Rule
}

func NewRouter(rules []Rule) *Router {
	return &Router{rules: append([]Rule(nil), rules...)}
}

// Resolve 返回第一条命中的规则；未命中时调用方不应拦截该请求。
func (r *Router) Resolve(url string) (Rule, bool) {
	if r == nil {
		return Rule{}, false
	}
	for _, rule := range r.rules {
		if rule.Matches(url) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Rules returns a copy of the configured rules.
func (r *Router) Rules() []Rule {
	if r == nil {
		return nil
	}
	return append([]Rule(nil), r.rules...)
}
