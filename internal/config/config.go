package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env                 string
	Port                string
	LogLevel            string
	SessionSecret       string
	DatabaseURL         string
	RedisURL            string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeCurrency      string
	FrontendURLEndsWith string
	DevPassword         string
	AllowCrossSiteDev   bool
	HealthAdminKey      string
	SendinblueAPIKey    string // SENDINBLUE_API_KEY for welcome and status emails (Brevo)
	MailFrom            string
	KafkaBrokers        []string
	KafkaTopic          string
	NotifyRedisChannel  string
	LockBackend         string // "local" or "redis"
	LockTimeout         time.Duration
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STRIPE_CURRENCY", "usd")
	v.SetDefault("MAIL_FROM", "noreply@commissions.app")
	v.SetDefault("KAFKA_TOPIC", "project.status-changed")
	v.SetDefault("NOTIFY_REDIS_CHANNEL", "project-status")
	v.SetDefault("LOCK_BACKEND", "local")
	v.SetDefault("LOCK_TIMEOUT_MS", 750)

	env := v.GetString("APP_ENV")
	dbURL := v.GetString("DATABASE_URL_DEV")
	switch env {
	case "production":
		dbURL = v.GetString("DATABASE_URL_PROD")
	case "test":
		dbURL = v.GetString("DATABASE_URL_TEST")
	}

	return &Config{
		Env:                 env,
		Port:                v.GetString("PORT"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		SessionSecret:       v.GetString("SESSION_SECRET"),
		DatabaseURL:         dbURL,
		RedisURL:            v.GetString("REDIS_URL"),
		StripeSecretKey:     v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		StripeCurrency:      strings.ToLower(v.GetString("STRIPE_CURRENCY")),
		FrontendURLEndsWith: v.GetString("FRONTEND_URL_ENDS_WITH"),
		DevPassword:         v.GetString("DEV_PASSWORD"),
		AllowCrossSiteDev:   v.GetBool("ALLOW_CROSS_SITE_DEV"),
		HealthAdminKey:      v.GetString("HEALTH_ADMIN_KEY"),
		SendinblueAPIKey:    v.GetString("SENDINBLUE_API_KEY"),
		MailFrom:            v.GetString("MAIL_FROM"),
		KafkaBrokers:        splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:          v.GetString("KAFKA_TOPIC"),
		NotifyRedisChannel:  v.GetString("NOTIFY_REDIS_CHANNEL"),
		LockBackend:         strings.ToLower(v.GetString("LOCK_BACKEND")),
		LockTimeout:         time.Duration(v.GetInt("LOCK_TIMEOUT_MS")) * time.Millisecond,
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
