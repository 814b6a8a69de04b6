package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"commissions-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const errorLogLimit = 100

// ErrorHandler is the global error handler. Fiber errors keep their code, domain errors go through
// response.FromError, and anything else is a 500. When rdb is set, unmapped errors are pushed onto
// the health error log.
func ErrorHandler(rdb *redis.Client) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return response.Error(c, fe.Message, fe.Code, nil)
		}
		if response.StatusFor(err) == fiber.StatusInternalServerError {
			zerolog.Ctx(c.UserContext()).Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
			recordError(rdb, c, err)
		}
		return response.FromError(c, err)
	}
}

// statusOf is the status ErrorHandler answers for err.
func statusOf(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return response.StatusFor(err)
}

func recordError(rdb *redis.Client, c *fiber.Ctx, err error) {
	if rdb == nil {
		return
	}
	b, _ := json.Marshal(map[string]interface{}{
		"time":     time.Now().UTC(),
		"path":     c.OriginalURL(),
		"method":   c.Method(),
		"message":  err.Error(),
		"trace_id": GetTraceID(c),
	})
	ctx := context.Background()
	pipe := rdb.TxPipeline()
	pipe.LPush(ctx, KeyErrorLog, b)
	pipe.LTrim(ctx, KeyErrorLog, 0, errorLogLimit-1)
	if _, perr := pipe.Exec(ctx); perr != nil {
		log.Warn().Err(perr).Msg("health error log write failed")
	}
}
