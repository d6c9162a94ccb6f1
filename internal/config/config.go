// Package config содержит логику чтения конфигурации платёжного прокси.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/cvbuilder-pay/internal/ratelimit"
	"github.com/mmeshcher/cvbuilder-pay/internal/service"
)

// Хранилища счётчиков ограничения частоты запросов.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// PlaceholderToken значение токена из шаблона .env, которое нельзя использовать.
const PlaceholderToken = "seu_access_token_aqui"

// Config содержит параметры конфигурации платёжного прокси.
type Config struct {
	RunAddress string `env:"RUN_ADDRESS"`

	AccessToken    string        `env:"MERCADO_PAGO_ACCESS_TOKEN"`
	GatewayURL     string        `env:"MERCADO_PAGO_API_URL" envDefault:"https://api.mercadopago.com"`
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	MinAmount          decimal.Decimal `env:"MIN_PAYMENT_AMOUNT" envDefault:"1.00"`
	MaxAmount          decimal.Decimal `env:"MAX_PAYMENT_AMOUNT" envDefault:"10.00"`
	DefaultAmount      decimal.Decimal `env:"DEFAULT_PAYMENT_AMOUNT" envDefault:"2.00"`
	PaymentDescription string          `env:"PAYMENT_DESCRIPTION" envDefault:"Download Currículo PDF - CV Builder Pro"`

	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"5"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	RateLimitStore    string        `env:"RATE_LIMIT_STORE"`

	RedisAddress  string `env:"REDIS_ADDRESS" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	DatabaseURI string `env:"DATABASE_URI"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и
// переменных окружения. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envStore := cfg.RateLimitStore

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI for the postgres rate limit store")
	flag.StringVar(&cfg.RateLimitStore, "s", StoreMemory, "rate limit store: memory, redis or postgres")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envStore != "" {
		cfg.RateLimitStore = envStore
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	cfg.RateLimitStore = strings.ToLower(strings.TrimSpace(cfg.RateLimitStore))
	if cfg.RateLimitStore == "" {
		cfg.RateLimitStore = StoreMemory
	}

	origins := cfg.AllowedOrigins[:0]
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.AllowedOrigins = origins

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет согласованность параметров. Отсутствие токена доступа
// ошибкой не считается: прокси отвечает отказом на каждый запрос.
func (c *Config) Validate() error {
	var errs []error

	if !c.MinAmount.IsPositive() {
		errs = append(errs, errors.New("MIN_PAYMENT_AMOUNT must be positive"))
	}
	if c.MaxAmount.LessThan(c.MinAmount) {
		errs = append(errs, fmt.Errorf("MAX_PAYMENT_AMOUNT %s is below MIN_PAYMENT_AMOUNT %s", c.MaxAmount, c.MinAmount))
	}
	if c.DefaultAmount.LessThan(c.MinAmount) || c.DefaultAmount.GreaterThan(c.MaxAmount) {
		errs = append(errs, fmt.Errorf("DEFAULT_PAYMENT_AMOUNT %s is outside [%s, %s]", c.DefaultAmount, c.MinAmount, c.MaxAmount))
	}
	if err := c.RateLimitRule().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.GatewayTimeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be positive"))
	}

	switch c.RateLimitStore {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddress == "" {
			errs = append(errs, errors.New("REDIS_ADDRESS is required for the redis rate limit store"))
		}
	case StorePostgres:
		if c.DatabaseURI == "" {
			errs = append(errs, errors.New("DATABASE_URI is required for the postgres rate limit store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RATE_LIMIT_STORE %q", c.RateLimitStore))
	}

	return errors.Join(errs...)
}

// TokenConfigured сообщает, задан ли настоящий токен доступа.
func (c *Config) TokenConfigured() bool {
	token := strings.TrimSpace(c.AccessToken)
	return token != "" && token != PlaceholderToken
}

// RateLimitRule возвращает правило ограничения частоты создания платежей.
func (c *Config) RateLimitRule() ratelimit.Rule {
	return ratelimit.Rule{Requests: c.RateLimitRequests, Window: c.RateLimitWindow}
}

// RedisConfig возвращает параметры подключения к Redis.
func (c *Config) RedisConfig() ratelimit.RedisConfig {
	return ratelimit.RedisConfig{
		Addr:     c.RedisAddress,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// ServiceConfig возвращает ограничения суммы и описание платежа.
func (c *Config) ServiceConfig() service.Config {
	return service.Config{
		MinAmount:     c.MinAmount,
		MaxAmount:     c.MaxAmount,
		DefaultAmount: c.DefaultAmount,
		Description:   c.PaymentDescription,
	}
}
