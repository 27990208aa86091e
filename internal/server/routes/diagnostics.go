package routes

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/any-hub/edge-cache/internal/cache"
	"github.com/any-hub/edge-cache/internal/lifecycle"
	"github.com/any-hub/edge-cache/internal/metrics"
	"github.com/any-hub/edge-cache/internal/strategy"
)

// Lifecycle 是诊断接口需要的生命周期只读视图，由 lifecycle.Manager 实现。
type Lifecycle interface {
	Version() string
	State() lifecycle.State
	Names() lifecycle.StoreNames
}

// Diagnostics 汇总诊断接口依赖，任一字段为空时对应接口不注册。
type Diagnostics struct {
	Lifecycle Lifecycle
	Provider  cache.Provider
	Router    *strategy.Router
	Metrics   *metrics.Metrics
}

// RegisterDiagnostics 暴露 /-/ 下的诊断接口，供运维查询版本状态、缓存内容与指标。
func RegisterDiagnostics(app *fiber.App, diag Diagnostics) {
	if app == nil {
		return
	}

	if diag.Lifecycle != nil && diag.Provider != nil {
		app.Get("/-/lifecycle", func(c fiber.Ctx) error {
			stores, err := diag.Provider.Keys(c.Context())
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store_list_failed"})
			}
			return c.JSON(lifecyclePayload{
				Version: diag.Lifecycle.Version(),
				State:   string(diag.Lifecycle.State()),
				Current: diag.Lifecycle.Names().All(),
				Stores:  nonNil(stores),
			})
		})
	}

	if diag.Provider != nil {
		app.Get("/-/stores/:name", func(c fiber.Ctx) error {
			name := strings.TrimSpace(c.Params("name"))
			if name == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "store_name_required"})
			}
			exists, err := diag.Provider.Has(c.Context(), name)
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store_lookup_failed"})
			}
			if !exists {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "store_not_found"})
			}
			store, err := diag.Provider.Open(c.Context(), name)
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store_open_failed"})
			}
			keys, err := store.Keys(c.Context())
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store_keys_failed"})
			}
			return c.JSON(storePayload{Name: name, Keys: nonNil(keys)})
		})
	}

	if diag.Router != nil {
		app.Get("/-/strategies", func(c fiber.Ctx) error {
			return c.JSON(fiber.Map{"rules": encodeRules(diag.Router.Rules())})
		})
	}

	if diag.Metrics != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(diag.Metrics.Handler()))
	}
}

type lifecyclePayload struct {
	Version string   `json:"version"`
	State   string   `json:"state"`
	Current []string `json:"current_stores"`
	Stores  []string `json:"stores"`
}

type storePayload struct {
	Name string   `json:"name"`
	Keys []string `json:"keys"`
}

type rulePayload struct {
	Matches []string `json:"matches"`
	Type    string   `json:"type"`
}

func encodeRules(rules []strategy.Rule) []rulePayload {
	result := make([]rulePayload, 0, len(rules))
	for _, rule := range rules {
		matches := make([]string, 0, len(rule.Patterns))
		for _, re := range rule.Patterns {
			matches = append(matches, re.String())
		}
		result = append(result, rulePayload{Matches: matches, Type: string(rule.Type)})
	}
	return result
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
