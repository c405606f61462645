package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8090"`
	PostgresDSN string `env:"POSTGRES_DSN,notEmpty"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	Geocoder           string        `env:"GEOCODER" envDefault:"nominatim"`
	GeocoderBaseURL    string        `env:"GEOCODER_BASE_URL" envDefault:"https://nominatim.openstreetmap.org"`
	GeocoderEmail      string        `env:"GEOCODER_EMAIL"`
	GeocodeTimeout     time.Duration `env:"GEOCODE_TIMEOUT" envDefault:"10s"`
	GeocodeMinInterval time.Duration `env:"GEOCODE_MIN_INTERVAL" envDefault:"1s"`
	GeocodeCacheTTL    time.Duration `env:"GEOCODE_CACHE_TTL" envDefault:"720h"`

	BatchSize        int           `env:"BATCH_SIZE" envDefault:"10"`
	TickInterval     time.Duration `env:"TICK_INTERVAL" envDefault:"5m"`
	StuckAfter       time.Duration `env:"STUCK_AFTER" envDefault:"1h"`
	MaxRetries       int           `env:"MAX_RETRIES" envDefault:"3"`
	CleanupAfterDays int           `env:"CLEANUP_AFTER_DAYS" envDefault:"30"`
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
