// Package config loads process configuration from the environment.
//
// Policy values (lockout thresholds, resend quotas, code lifetimes, sweep
// limits) live here rather than as constants in the services: they are
// product decisions, not structural ones, and ops can tune them per
// deployment. The defaults are the values the product has always shipped
// with.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port        int    `env:"PORT,default=8080"`
	DocStoreDSN string `env:"DOCSTORE_PATH,default=data/docstore.db"`
	IdentityDSN string `env:"IDENTITY_PATH,default=data/identity.db"`
	TokenSecret string `env:"TOKEN_SECRET"`

	Mail  MailConfig
	Sweep SweepConfig

	// Registration / verification policy.
	CodeTTL       time.Duration `env:"CODE_TTL,default=15m"`
	ResendCodeTTL time.Duration `env:"RESEND_CODE_TTL,default=24h"`
	MaxResends    int           `env:"MAX_RESENDS,default=3"`
	ResendWindow  time.Duration `env:"RESEND_WINDOW,default=1h"`

	// Login lockout policy.
	MaxLoginAttempts int           `env:"MAX_LOGIN_ATTEMPTS,default=5"`
	LockoutWindow    time.Duration `env:"LOCKOUT_WINDOW,default=15m"`
}

type MailConfig struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT,default=587"`
	Username string `env:"SMTP_USER"`
	Password string `env:"SMTP_PASS"`
	From     string `env:"MAIL_FROM,default=PathFit <no-reply@pathfit.app>"`
}

type SweepConfig struct {
	// PendingSchedule / QuizSchedule are cron specs; @every matches the
	// platform scheduler expressions the jobs historically ran under.
	PendingSchedule string        `env:"SWEEP_PENDING_SCHEDULE,default=@every 5m"`
	QuizSchedule    string        `env:"SWEEP_QUIZ_SCHEDULE,default=@every 2m"`
	PendingTimeout  time.Duration `env:"SWEEP_PENDING_TIMEOUT,default=10m"`
	// MaxDocs bounds one sweep run so a backlog drains across scheduled
	// runs instead of one unbounded pass.
	MaxDocs int `env:"SWEEP_MAX_DOCS,default=100"`
}

func Load(ctx context.Context) (Config, error) {
	cfg := Config{}
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing env vars: %w", err)
	}
	if cfg.TokenSecret == "" {
		return Config{}, fmt.Errorf("TOKEN_SECRET is required")
	}
	return cfg, nil
}
