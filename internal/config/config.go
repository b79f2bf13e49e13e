package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr      string `env:"ADDR" envDefault:":8080"`
	DBDSN     string `env:"DB_DSN,required,notEmpty"`
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`

	TokenTTL time.Duration `env:"TOKEN_TTL" envDefault:"24h"`

	PageSizeDefault int `env:"PAGE_SIZE_DEFAULT" envDefault:"50"`
	PageSizeMax     int `env:"PAGE_SIZE_MAX" envDefault:"100"`

	DevLog bool `env:"DEV_LOG" envDefault:"false"`
}

// Load reads a .env file if one is present, then parses the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.PageSizeDefault <= 0 || cfg.PageSizeMax < cfg.PageSizeDefault {
		return Config{}, fmt.Errorf("invalid page size bounds: default=%d max=%d", cfg.PageSizeDefault, cfg.PageSizeMax)
	}
	return cfg, nil
}
