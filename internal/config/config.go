// Package config aggregates all environment-driven configuration for the
// impress binary.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/impresshq/impress/pkg/db"
	"github.com/impresshq/impress/pkg/logger"
	"github.com/impresshq/impress/pkg/mailer/remote"
	"github.com/impresshq/impress/pkg/mailer/resend"
	"github.com/impresshq/impress/pkg/mailer/smtp"
	"github.com/impresshq/impress/pkg/redis"
)

// Mail backend selectors for Config.MailerBackend.
const (
	BackendSMTP   = "smtp"
	BackendResend = "resend"
	BackendRemote = "remote"
)

// Config is the full application configuration, parsed from the environment.
type Config struct {
	// HTTPAddr is the listen address of the API server.
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// AdminToken guards the /api/admin surface. Empty disables it.
	AdminToken string `env:"ADMIN_TOKEN"`

	// MailerBackend selects the delivery backend: smtp, resend, or remote.
	MailerBackend string `env:"MAILER_BACKEND" envDefault:"smtp"`

	// StrictVariables makes rendering fail on missing template variables
	// instead of substituting empty strings.
	StrictVariables bool `env:"STRICT_VARIABLES" envDefault:"false"`

	// FlushWorkers bounds concurrent deliveries during `impress flush`.
	FlushWorkers int `env:"FLUSH_WORKERS" envDefault:"4"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Logger logger.Config
	DB     db.Config
	Redis  redis.Config
	SMTP   smtp.Config
	Resend resend.Config
	Remote remote.Config
}

// Load parses the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	switch cfg.MailerBackend {
	case BackendSMTP, BackendResend, BackendRemote:
	default:
		return nil, fmt.Errorf("unknown MAILER_BACKEND %q", cfg.MailerBackend)
	}
	return cfg, nil
}
