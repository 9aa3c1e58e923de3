package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/insightsboard/backend/pkg/logger"
)

type MetricStore interface {
	MetricTotal(name string) (float64, error)
}

type CacheAdmin interface {
	InvalidateInsights(ctx context.Context) (int, error)
	GetMetric(ctx context.Context, metricName string) (int64, error)
}

var (
	storedMetrics = []string{"dashboards", "charts_rendered", "dashboard_latency_ms"}
	cacheCounters = []string{"cache_hits", "cache_misses"}
)

// AdminHandler exposes run totals and cache maintenance. The cache is
// optional; a nil CacheAdmin disables the cache endpoints.
type AdminHandler struct {
	store MetricStore
	cache CacheAdmin
}

func NewAdminHandler(store MetricStore, cache CacheAdmin) *AdminHandler {
	return &AdminHandler{
		store: store,
		cache: cache,
	}
}

func (h *AdminHandler) GetStats(c *fiber.Ctx) error {
	totals := fiber.Map{}
	for _, name := range storedMetrics {
		v, err := h.store.MetricTotal(name)
		if err != nil {
			logger.Error("Failed to read metric total", zap.String("metric", name), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to read stats",
			})
		}
		totals[name] = v
	}

	resp := fiber.Map{"totals": totals}

	if h.cache != nil {
		counters := fiber.Map{}
		for _, name := range cacheCounters {
			v, err := h.cache.GetMetric(c.UserContext(), name)
			if err != nil {
				logger.Warn("Failed to read cache counter", zap.String("metric", name), zap.Error(err))
				continue
			}
			counters[name] = v
		}
		resp["cache"] = counters
	}

	return c.JSON(resp)
}

func (h *AdminHandler) InvalidateCache(c *fiber.Ctx) error {
	if h.cache == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Cache is not enabled",
		})
	}

	removed, err := h.cache.InvalidateInsights(c.UserContext())
	if err != nil {
		logger.Error("Failed to invalidate cache", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to invalidate cache",
		})
	}

	return c.JSON(fiber.Map{
		"removed": removed,
	})
}
