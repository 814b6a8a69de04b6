package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// RouteLogger logs each request exit with status and duration through the request logger set by
// Tracing. A returned error is logged with the status the ErrorHandler will answer. Server errors
// log at error level, client errors at warn.
func RouteLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		logger := zerolog.Ctx(c.UserContext())
		start := time.Now()
		logger.Debug().Str("method", c.Method()).Str("path", c.Path()).Msg("Entering request")
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = statusOf(err)
		}
		level := zerolog.InfoLevel
		switch {
		case status >= 500:
			level = zerolog.ErrorLevel
		case status >= 400:
			level = zerolog.WarnLevel
		}
		logger.WithLevel(level).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Int64("ms", time.Since(start).Milliseconds()).
			Err(err).
			Msg("Exiting request")
		return err
	}
}
