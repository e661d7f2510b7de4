package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// CollectorConfig holds the collector server configuration.
type CollectorConfig struct {
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
	ServerAddr    string        `env:"COLLECTOR_ADDR" envDefault:":8080"`
	MetricsAddr   string        `env:"METRICS_ADDR" envDefault:":9091"`
	AuthUsername  string        `env:"AUTH_USERNAME,required"`
	AuthPassword  string        `env:"AUTH_PASSWORD,required"`
	JWTSecret     string        `env:"JWT_SECRET,required"`
	TokenExpiry   time.Duration `env:"TOKEN_EXPIRY" envDefault:"1h"`
	MaxBatchBytes int64         `env:"MAX_BATCH_BYTES" envDefault:"1048576"` // 1MB
}

// DemoConfig holds the demo event generator configuration.
type DemoConfig struct {
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
	CollectorURL string        `env:"COLLECTOR_URL" envDefault:"http://localhost:8080"`
	AuthUsername string        `env:"AUTH_USERNAME,required"`
	AuthPassword string        `env:"AUTH_PASSWORD,required"`
	DatabasePath string        `env:"DATABASE_PATH" envDefault:"demo-events.db"`
	EventRate    float64       `env:"EVENT_RATE" envDefault:"5"`
	Duration     time.Duration `env:"DURATION" envDefault:"30s"`
}

// LoadCollector reads the collector configuration from the environment.
func LoadCollector() (*CollectorConfig, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &CollectorConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDemo reads the demo configuration from the environment.
func LoadDemo() (*DemoConfig, error) {
	_ = godotenv.Load()

	cfg := &DemoConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
