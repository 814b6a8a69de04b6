package router

import (
	"errors"
	"net/http"

	authsvc "commissions-backend/internal/application/auth"
	"commissions-backend/internal/application/deliverables"
	emailsvc "commissions-backend/internal/application/emails"
	"commissions-backend/internal/application/escrow"
	healthsvc "commissions-backend/internal/application/health"
	"commissions-backend/internal/application/ledger"
	"commissions-backend/internal/application/notifications"
	paysvc "commissions-backend/internal/application/payments"
	usersvc "commissions-backend/internal/application/user"
	"commissions-backend/internal/application/withdrawals"
	"commissions-backend/internal/application/workflow"
	"commissions-backend/internal/config"
	"commissions-backend/internal/infrastructure/database"
	"commissions-backend/internal/infrastructure/locks"
	"commissions-backend/internal/infrastructure/notify"
	stripeinfra "commissions-backend/internal/infrastructure/stripe"
	authhandler "commissions-backend/internal/interfaces/handlers/auth"
	healthhandler "commissions-backend/internal/interfaces/handlers/health"
	payhandler "commissions-backend/internal/interfaces/handlers/payments"
	projecthandler "commissions-backend/internal/interfaces/handlers/projects"
	userhandler "commissions-backend/internal/interfaces/handlers/user"
	wallethandler "commissions-backend/internal/interfaces/handlers/wallet"
	"commissions-backend/internal/middleware"
	"commissions-backend/internal/pkg/constants"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type gormDBPinger struct {
	db *gorm.DB
}

func (g *gormDBPinger) Ping() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Resources are the long-lived connections behind the app. Close releases them after the
// server has stopped.
type Resources struct {
	DB         *gorm.DB
	Rdb        *redis.Client
	Dispatcher *notifications.Dispatcher
	kafka      *notify.KafkaSink
}

func (r *Resources) Close() {
	if r.Dispatcher != nil {
		r.Dispatcher.Close()
	}
	if r.kafka != nil {
		if err := r.kafka.Close(); err != nil {
			log.Warn().Err(err).Msg("kafka writer close failed")
		}
	}
	if r.Rdb != nil {
		_ = r.Rdb.Close()
	}
	if r.DB != nil {
		if sqlDB, err := r.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	dsn := cfg.DatabaseURL
	if dsn == "" {
		if cfg.IsProduction() {
			return nil, errors.New("DATABASE_URL_PROD is not set")
		}
		log.Warn().Msg("no database URL configured, using in-memory SQLite")
		dsn = "sqlite::memory:"
	}
	db, err := database.Open(dsn)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func newLocker(cfg *config.Config, rdb *redis.Client) locks.Locker {
	if cfg.LockBackend == "redis" {
		return &locks.Redis{Rdb: rdb}
	}
	return locks.NewLocal()
}

func newDispatcher(cfg *config.Config, db *gorm.DB, rdb *redis.Client, mailer emailsvc.Sender, res *Resources) {
	sinks := []notifications.Sink{
		&notify.RedisSink{Rdb: rdb, Channel: cfg.NotifyRedisChannel},
	}
	if len(cfg.KafkaBrokers) > 0 {
		ks, err := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Warn().Err(err).Msg("kafka sink disabled")
		} else {
			sinks = append(sinks, ks)
			res.kafka = ks
		}
	}
	if mailer != nil {
		sinks = append(sinks, &notifications.EmailSink{DB: db, Sender: mailer})
	}
	res.Dispatcher = notifications.NewDispatcher(0, sinks...)
}

// CreateApp builds the Fiber app with global middleware and every route.
func CreateApp(cfg *config.Config) (*fiber.App, *Resources, error) {
	sessionCfg := middleware.SessionConfig{
		Secret:            cfg.SessionSecret,
		RedisURL:          cfg.RedisURL,
		AllowCrossSiteDev: cfg.AllowCrossSiteDev,
		IsProduction:      cfg.IsProduction(),
	}
	sessionHandler, rdb, err := middleware.Session(sessionCfg)
	if err != nil {
		return nil, nil, err
	}
	db, err := openDB(cfg)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	res := &Resources{DB: db, Rdb: rdb}

	var mailer emailsvc.Sender
	if cfg.SendinblueAPIKey != "" {
		mailer = &emailsvc.BrevoClient{APIKey: cfg.SendinblueAPIKey, MailFrom: cfg.MailFrom}
	}
	newDispatcher(cfg, db, rdb, mailer, res)

	locker := newLocker(cfg, rdb)
	ledgerSvc := &ledger.Service{DB: db, Locks: locker, LockTimeout: cfg.LockTimeout}
	wf := &workflow.Service{
		DB:          db,
		Locks:       locker,
		LockTimeout: cfg.LockTimeout,
		Escrow:      &escrow.Service{Ledger: ledgerSvc},
		Notifier:    res.Dispatcher,
	}
	dl := &deliverables.Service{DB: db, Locks: locker, LockTimeout: cfg.LockTimeout}
	payments := &paysvc.Service{
		DB:       db,
		Workflow: wf,
		Intents:  &stripeinfra.IntentCreator{SecretKey: cfg.StripeSecretKey},
		Currency: cfg.StripeCurrency,
	}
	users := &usersvc.Service{DB: db, Rdb: rdb, Mailer: mailer}

	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.ErrorHandler(rdb),
		EnableTrustedProxyCheck: true,
	})

	app.Use(middleware.Tracing())
	app.Use(middleware.RouteLogger())
	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedSuffix: cfg.FrontendURLEndsWith,
		DevPassword:   cfg.DevPassword,
	}))

	// Stripe signs the exact bytes it sent, so the webhook is mounted before session handling.
	wh := &payhandler.WebhookHandler{Service: payments, WebhookSecret: cfg.StripeWebhookSecret}
	app.Post("/api/v1/stripe/webhook", wh.HandleWebhook)

	app.Use(middleware.HealthMarker(rdb))
	app.Use(sessionHandler)

	hh := &healthhandler.Handlers{
		Rdb:            rdb,
		Deps:           healthsvc.Deps{DB: &gormDBPinger{db: db}, Ledger: ledgerSvc},
		HealthAdminKey: cfg.HealthAdminKey,
	}
	app.Get("/reset", hh.Reset)
	app.Get("/health/json", hh.JSON)
	app.Get("/health/errors", hh.Errors)

	ah := &authhandler.Handlers{
		UserFinder: &authsvc.GormUserFinder{DB: db},
		Users:      users,
		Config:     sessionCfg,
	}
	authGroup := app.Group("/api/v1/auth")
	authGroup.Post("/login", ah.Login)
	authGroup.Get("/me", ah.Me)
	authGroup.Delete("/logout", ah.Logout)
	authGroup.Delete("/logout-all", middleware.RequireAuth(), ah.LogoutAll)

	uh := &userhandler.Handlers{Service: users}
	app.Post("/api/v1/users/register", uh.Register)
	ug := app.Group("/api/v1/users", middleware.RequireAuth())
	ug.Get("/me", uh.ViewUser)
	ug.Put("/me", uh.UpdateUser)
	ug.Patch("/update-role", middleware.AuthorizePermission(constants.AssignRole), uh.UpdateRole)

	ph := &projecthandler.Handlers{Workflow: wf, Deliverables: dl, Payments: payments}
	pg := app.Group("/api/v1/projects", middleware.RequireAuth())
	pg.Post("/", middleware.AuthorizePermission(constants.SubmitProject), ph.Submit)
	pg.Get("/", ph.List)
	pg.Get("/:id", ph.Get)
	pg.Get("/:id/history", ph.History)
	pg.Post("/:id/transitions", ph.Transition)
	pg.Post("/:id/checkout", ph.Checkout)
	pg.Post("/:id/deliverables", middleware.AuthorizePermission(constants.SubmitDeliverable), ph.SubmitDeliverable)
	pg.Get("/:id/deliverables", ph.ListDeliverables)
	app.Patch("/api/v1/deliverables/:id/qc", middleware.RequireAuth(), ph.ReviewDeliverable)

	wlh := &wallethandler.Handlers{Ledger: ledgerSvc, Withdrawals: &withdrawals.Service{DB: db, Ledger: ledgerSvc}}
	wg := app.Group("/api/v1/wallet", middleware.RequireAuth())
	wg.Get("/", middleware.AuthorizePermission(constants.ViewWallet), wlh.Balance)
	wg.Get("/entries", middleware.AuthorizePermission(constants.ViewWallet), wlh.Entries)
	wg.Post("/withdrawals", middleware.AuthorizePermission(constants.RequestWithdrawal), wlh.RequestWithdrawal)
	wg.Get("/withdrawals", wlh.ListWithdrawals)
	wg.Get("/withdrawals/:id", wlh.GetWithdrawal)

	adm := app.Group("/api/v1/admin", middleware.RequireAuth())
	adm.Patch("/withdrawals/:id", middleware.AuthorizePermission(constants.ResolveWithdrawal), wlh.ResolveWithdrawal)
	adm.Post("/accounts/:id/verify", middleware.AuthorizePermission(constants.VerifyAccount), wlh.VerifyAccount)
	adm.Get("/ledger/totals", middleware.AuthorizePermission(constants.AuditLedger), wlh.Totals)
	adm.Get("/ledger/references/:ref", middleware.AuthorizePermission(constants.AuditLedger), wlh.ReferenceEntries)

	return app, res, nil
}

// Handler adapts the app for net/http hosts.
func Handler(app *fiber.App) http.Handler {
	return adaptor.FiberApp(app)
}
