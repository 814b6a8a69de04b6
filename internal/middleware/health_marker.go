package middleware

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis keys for traffic counters read by the health report.
const (
	KeyReqTotal  = "health:global:req_total"
	KeyReqErrors = "health:global:req_errors"
	KeyReqBusy   = "health:global:req_busy"
	KeyResTime   = "health:global:res_time_total"
	KeyResCount  = "health:global:res_count"
	KeyStartTime = "health:global:start_time"
	KeyLastReq   = "health:global:last_request"
	KeyErrorLog  = "health:global:error_log"
)

// HealthKeys is every counter key; /reset deletes them together.
var HealthKeys = []string{KeyReqTotal, KeyReqErrors, KeyReqBusy, KeyResTime, KeyResCount, KeyStartTime, KeyLastReq, KeyErrorLog}

func untracked(path string) bool {
	return path == "/" || path == "/reset" || strings.HasPrefix(path, "/health") || strings.HasPrefix(path, "/favicon")
}

// HealthMarker counts API traffic in Redis. Responses of 500 and above count as failures and 503
// answers, which mean a project or wallet lock could not be taken in time, are also counted as busy.
func HealthMarker(rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if untracked(c.Path()) {
			return c.Next()
		}

		start := time.Now()
		last, _ := json.Marshal(map[string]interface{}{
			"time":   start.UTC(),
			"method": c.Method(),
			"path":   c.OriginalURL(),
			"ip":     c.IP(),
		})

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = statusOf(err)
		}
		ctx := context.Background()
		_, perr := rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, KeyLastReq, last, 0)
			pipe.Incr(ctx, KeyReqTotal)
			pipe.Incr(ctx, KeyResCount)
			pipe.IncrByFloat(ctx, KeyResTime, float64(time.Since(start).Milliseconds()))
			if status >= fiber.StatusInternalServerError {
				pipe.Incr(ctx, KeyReqErrors)
			}
			if status == fiber.StatusServiceUnavailable {
				pipe.Incr(ctx, KeyReqBusy)
			}
			return nil
		})
		if perr != nil {
			log.Debug().Err(perr).Msg("health counters not written")
		}
		return err
	}
}
