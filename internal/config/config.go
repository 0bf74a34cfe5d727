package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"authgate/internal/secrets"
)

// Config centraliza la configuración del gateway, resuelta una sola vez.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`

	SecretKey    string `env:"SECRET_KEY"`
	JWTAlgorithm string `env:"JWT_ALGORITHM" envDefault:"HS256"`

	SessionTTLSeconds      int `env:"SESSION_TTL_SECONDS" envDefault:"3600"`
	VerificationTTLSeconds int `env:"VERIFICATION_TTL_SECONDS" envDefault:"86400"`
	ResetTTLSeconds        int `env:"RESET_TTL_SECONDS" envDefault:"3600"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleCallbackURL  string `env:"GOOGLE_CALLBACK_URL" envDefault:"http://localhost:8080/auth/google/callback"`

	VippsClientID     string `env:"VIPPS_CLIENT_ID"`
	VippsClientSecret string `env:"VIPPS_CLIENT_SECRET"`
	VippsBaseURL      string `env:"VIPPS_BASE_URL" envDefault:"https://apitest.vipps.no"`
	VippsCallbackURL  string `env:"VIPPS_CALLBACK_URL" envDefault:"http://localhost:8080/auth/vipps/callback"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPass     string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME"`
	SMTPUseTLS   bool   `env:"SMTP_USE_TLS" envDefault:"false"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	VaultURL   string `env:"VAULT_URL"`
	VaultToken string `env:"VAULT_TOKEN"`
}

// nombre del secreto de la clave de firma dentro del vault.
const signingKeySecretName = "secret-key"

var ErrMissingSecretKey = errors.New("secret key not configured")

// SessionTTL devuelve la vida útil de tokens de sesión.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// VerificationTTL devuelve la vida útil de tokens de verificación.
func (c *Config) VerificationTTL() time.Duration {
	return time.Duration(c.VerificationTTLSeconds) * time.Second
}

// ResetTTL devuelve la vida útil de tokens de reset.
func (c *Config) ResetTTL() time.Duration {
	return time.Duration(c.ResetTTLSeconds) * time.Second
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if cfg.JWTAlgorithm != "HS256" {
		return nil, fmt.Errorf("unsupported jwt algorithm %q", cfg.JWTAlgorithm)
	}
	return &cfg, nil
}

// Resolve carga la configuración y completa la clave de firma desde el
// vault cuando el entorno no la trae. Un fallo del vault no aborta el
// arranque por sí solo; si al final no hay clave, Resolve devuelve
// ErrMissingSecretKey.
func Resolve(ctx context.Context, vault secrets.Source) (*Config, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.SecretKey == "" && vault != nil {
		if value, err := vault.GetSecret(ctx, signingKeySecretName); err == nil {
			cfg.SecretKey = value
		}
	}
	if cfg.SecretKey == "" {
		return nil, ErrMissingSecretKey
	}
	return cfg, nil
}
