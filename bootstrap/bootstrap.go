package bootstrap

import (
	"net/http"
	"os"
	"time"

	"commissions-backend/internal/config"
	"commissions-backend/internal/interfaces/router"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Runtime is a configured app with the resources it holds.
type Runtime struct {
	Config    *config.Config
	App       *fiber.App
	Resources *router.Resources
}

// New loads config, sets up logging and builds the app. Both the binary and the serverless
// handler start here.
func New() (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	ConfigureLogging(cfg)
	app, res, err := router.CreateApp(cfg)
	if err != nil {
		return nil, err
	}
	return &Runtime{Config: cfg, App: app, Resources: res}, nil
}

// Handler adapts the app for net/http hosts such as the serverless entry point, which cannot
// import internal packages.
func (r *Runtime) Handler() http.Handler {
	return router.Handler(r.App)
}

// ConfigureLogging sets the global zerolog level and, outside production, a console writer.
func ConfigureLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	zerolog.DefaultContextLogger = &log.Logger
}
