package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthSecret string `mapstructure:"AUTH_SECRET"`

	// Pipeline tunables. The clinical values (noise threshold, SLA window)
	// were tuned empirically in the source deployment, so they are
	// configuration, not code.
	WorkerCount         int           `mapstructure:"WORKER_COUNT"`
	NoiseThreshold      float64       `mapstructure:"NOISE_THRESHOLD"`
	AppendMaxRetries    int           `mapstructure:"APPEND_MAX_RETRIES"`
	ProcessBackoffBase  time.Duration `mapstructure:"PROCESS_BACKOFF_BASE"`
	DeliveryMaxAttempts int           `mapstructure:"DELIVERY_MAX_ATTEMPTS"`
	DeliveryBackoffBase time.Duration `mapstructure:"DELIVERY_BACKOFF_BASE"`
	ActionSLA           time.Duration `mapstructure:"ACTION_SLA"`
	SweepInterval       time.Duration `mapstructure:"SWEEP_INTERVAL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("WORKER_COUNT", 8)
	v.SetDefault("NOISE_THRESHOLD", 2.0)
	v.SetDefault("APPEND_MAX_RETRIES", 3)
	v.SetDefault("PROCESS_BACKOFF_BASE", "250ms")
	v.SetDefault("DELIVERY_MAX_ATTEMPTS", 3)
	v.SetDefault("DELIVERY_BACKOFF_BASE", "500ms")
	v.SetDefault("ACTION_SLA", "48h")
	v.SetDefault("SWEEP_INTERVAL", "15m")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_SECRET")
	v.BindEnv("WORKER_COUNT")
	v.BindEnv("NOISE_THRESHOLD")
	v.BindEnv("APPEND_MAX_RETRIES")
	v.BindEnv("PROCESS_BACKOFF_BASE")
	v.BindEnv("DELIVERY_MAX_ATTEMPTS")
	v.BindEnv("DELIVERY_BACKOFF_BASE")
	v.BindEnv("ACTION_SLA")
	v.BindEnv("SWEEP_INTERVAL")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get admin access.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run. Outside development
// AUTH_SECRET must be set so the doctor-facing API enforces real bearer auth.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required when ENV is not development")
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.WorkerCount)
	}
	if c.NoiseThreshold < 0 {
		return fmt.Errorf("NOISE_THRESHOLD must not be negative, got %v", c.NoiseThreshold)
	}
	if c.AppendMaxRetries < 1 {
		return fmt.Errorf("APPEND_MAX_RETRIES must be at least 1, got %d", c.AppendMaxRetries)
	}
	if c.ProcessBackoffBase <= 0 {
		return fmt.Errorf("PROCESS_BACKOFF_BASE must be positive, got %v", c.ProcessBackoffBase)
	}
	if c.DeliveryMaxAttempts < 1 {
		return fmt.Errorf("DELIVERY_MAX_ATTEMPTS must be at least 1, got %d", c.DeliveryMaxAttempts)
	}
	if c.DeliveryBackoffBase <= 0 {
		return fmt.Errorf("DELIVERY_BACKOFF_BASE must be positive, got %v", c.DeliveryBackoffBase)
	}
	if c.ActionSLA <= 0 {
		return fmt.Errorf("ACTION_SLA must be positive, got %v", c.ActionSLA)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %v", c.SweepInterval)
	}
	return nil
}
