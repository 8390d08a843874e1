package config

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App struct {
		Env       string `env:"APP_ENV" env-default:"development"`
		Port      int    `env:"APP_PORT" env-default:"8080"`
		SentryUrl string `env:"SENTRY_URL"`
	}
	Postgres struct {
		Port    int    `env:"POSTGRES_PORT"`
		Host    string `env:"POSTGRES_HOST"`
		User    string `env:"POSTGRES_USER"`
		Pass    string `env:"POSTGRES_PASS"`
		Name    string `env:"POSTGRES_NAME"`
		SslMode string `env:"POSTGRES_SSL_MODE" env-default:"disable"`
	}
	Platform struct {
		BaseURL string        `env:"PLATFORM_BASE_URL" env-default:"https://api.casaway.app"`
		Timeout time.Duration `env:"PLATFORM_TIMEOUT" env-default:"10s"`
	}
	Session struct {
		Path string `env:"SESSION_PATH" env-default:"./casaway-session.json"`
	}
	Playback struct {
		StoryDuration time.Duration `env:"PLAYBACK_STORY_DURATION" env-default:"5s"`
		TickInterval  time.Duration `env:"PLAYBACK_TICK_INTERVAL" env-default:"50ms"`
	}
	Prefetch struct {
		Workers    int           `env:"PREFETCH_WORKERS" env-default:"5"`
		PerHostRPS int           `env:"PREFETCH_PER_HOST_RPS" env-default:"4"`
		Burst      int           `env:"PREFETCH_BURST" env-default:"8"`
		TTL        time.Duration `env:"PREFETCH_TTL" env-default:"10m"`
	}
	Amqp struct {
		URL      string `env:"AMQP_URL"`
		Exchange string `env:"AMQP_EXCHANGE" env-default:"casaway.events"`
	}
	Scheduler struct {
		FeedRefreshMinutes int           `env:"FEED_REFRESH_MINUTES" env-default:"15"`
		ViewRetention      time.Duration `env:"VIEW_RETENTION" env-default:"120h"`
	}
}

var (
	once sync.Once
	cfg  *Config
)

func New() (*Config, error) {
	once.Do(func() {
		cfg = &Config{}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			help, _ := cleanenv.GetDescription(cfg, nil)
			log.Fatalf("Failed to read configuration: %v\n%v", err, help)
		}
	})
	return cfg, nil
}

// GetDSN returns the postgres connection string shared by the pool and the
// migration tooling.
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Pass,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.Name,
		c.Postgres.SslMode,
	)
}
