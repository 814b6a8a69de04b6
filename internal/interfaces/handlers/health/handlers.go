package health

import (
	"encoding/json"
	"strconv"
	"time"

	healthsvc "commissions-backend/internal/application/health"
	"commissions-backend/internal/middleware"
	"commissions-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const serviceName = "commissions-api"

// Handlers holds dependencies for health endpoints.
type Handlers struct {
	Rdb            *redis.Client
	Deps           healthsvc.Deps
	HealthAdminKey string
}

// Reset clears health stats in Redis. Requires query key=HEALTH_ADMIN_KEY.
func (h *Handlers) Reset(c *fiber.Ctx) error {
	key := c.Query("key")
	if key == "" || key != h.HealthAdminKey {
		return response.Error(c, "Unauthorized", fiber.StatusForbidden, nil)
	}
	ctx := c.UserContext()
	pipe := h.Rdb.TxPipeline()
	pipe.Del(ctx, middleware.HealthKeys...)
	pipe.Set(ctx, middleware.KeyStartTime, strconv.FormatInt(time.Now().UnixMilli(), 10), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return response.Success(c, "Stats reset successfully", fiber.Map{"success": true}, nil)
}

// JSON returns service status, runtime, traffic, ledger balance and dependencies. A degraded
// service answers 503 so load balancers can act on it.
func (h *Handlers) JSON(c *fiber.Ctx) error {
	deps := h.Deps
	deps.Rdb = h.Rdb
	result := healthsvc.Collect(c.UserContext(), deps)
	code := fiber.StatusOK
	if result.Status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"service":      serviceName,
		"status":       result.Status,
		"runtime":      result.Runtime,
		"traffic":      result.Traffic,
		"ledger":       result.Ledger,
		"dependencies": result.Dependencies,
	})
}

// Errors returns the last 50 entries of the unhandled error log.
func (h *Handlers) Errors(c *fiber.Ctx) error {
	entries, err := h.Rdb.LRange(c.UserContext(), middleware.KeyErrorLog, 0, 49).Result()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON([]interface{}{})
	}
	out := make([]map[string]interface{}, 0, len(entries))
	for _, s := range entries {
		var m map[string]interface{}
		if json.Unmarshal([]byte(s), &m) == nil && m != nil {
			out = append(out, m)
		}
	}
	return c.JSON(out)
}
