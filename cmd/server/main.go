package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/burnbox/burnbox/internal/api"
	"github.com/burnbox/burnbox/internal/audit"
	"github.com/burnbox/burnbox/internal/ratelimit"
	"github.com/burnbox/burnbox/internal/secret"
	"github.com/burnbox/burnbox/internal/storage"
)

type config struct {
	ListenAddr  string `yaml:"listen_addr"`
	TLSCertFile string `yaml:"tls_cert"`
	TLSKeyFile  string `yaml:"tls_key"`
	LogLevel    string `yaml:"log_level"`

	Store struct {
		Type  string `yaml:"type"` // memory, redis, postgres
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
		Postgres struct {
			URL           string `yaml:"url"`
			MigrationsDir string `yaml:"migrations_dir"`
			ReapInterval  string `yaml:"reap_interval"`
		} `yaml:"postgres"`
	} `yaml:"store"`

	Secrets struct {
		SiteSecret   string  `yaml:"site_secret"` // base64
		MinTTL       string  `yaml:"min_ttl"`
		MaxTTL       string  `yaml:"max_ttl"`
		DefaultTTL   string  `yaml:"default_ttl"`
		SoftLimit    int     `yaml:"soft_limit"`
		HardLimit    int     `yaml:"hard_limit"`
		BandFraction float64 `yaml:"band_fraction"`
	} `yaml:"secrets"`

	RateLimit struct {
		RequestsPerSec int     `yaml:"requests_per_sec"`
		Burst          int     `yaml:"burst"`
		CreatesPerMin  float64 `yaml:"creates_per_min"`
		AttemptsPerMin float64 `yaml:"attempts_per_min"`
	} `yaml:"rate_limit"`
}

func defaults() config {
	var cfg config
	cfg.ListenAddr = ":8080"
	cfg.LogLevel = "info"
	cfg.Store.Type = "memory"
	cfg.Store.Redis.Addr = "localhost:6379"
	cfg.Store.Postgres.MigrationsDir = "migrations"
	cfg.Store.Postgres.ReapInterval = "1m"
	cfg.Secrets.MinTTL = "1m"
	cfg.Secrets.MaxTTL = "168h"
	cfg.Secrets.DefaultTTL = "24h"
	cfg.Secrets.SoftLimit = 10000
	cfg.Secrets.HardLimit = 100000
	cfg.Secrets.BandFraction = 0.2
	cfg.RateLimit.RequestsPerSec = 100
	cfg.RateLimit.Burst = 200
	cfg.RateLimit.CreatesPerMin = 30
	cfg.RateLimit.AttemptsPerMin = 10
	return cfg
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgFile := "config.yaml"
	if v := os.Getenv("BURNBOX_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := defaults()
	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("BURNBOX_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BURNBOX_STORE"); v != "" {
		cfg.Store.Type = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.Postgres.URL = v
	}
	if v := os.Getenv("BURNBOX_SITE_SECRET"); v != "" {
		cfg.Secrets.SiteSecret = v
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	engineCfg, err := engineConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage backend")
	}
	defer store.Close()

	creates := ratelimit.NewTokenBucket(cfg.RateLimit.CreatesPerMin/60, int(cfg.RateLimit.CreatesPerMin))
	attempts := ratelimit.NewTokenBucket(cfg.RateLimit.AttemptsPerMin/60, int(cfg.RateLimit.AttemptsPerMin))
	recorder := audit.NewRecorder(log.Logger)

	engine := secret.NewEngine(store, engineCfg, creates, attempts, recorder)

	srv := api.NewServer(engine, api.Config{
		ListenAddr:     cfg.ListenAddr,
		TLSCertFile:    cfg.TLSCertFile,
		TLSKeyFile:     cfg.TLSKeyFile,
		RequestsPerSec: cfg.RateLimit.RequestsPerSec,
		Burst:          cfg.RateLimit.Burst,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Str("store", cfg.Store.Type).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}

func engineConfig(cfg config) (secret.Config, error) {
	var out secret.Config

	if cfg.Secrets.SiteSecret == "" {
		return out, fmt.Errorf("secrets.site_secret must be configured (or BURNBOX_SITE_SECRET env var)")
	}
	siteSecret, err := base64.StdEncoding.DecodeString(cfg.Secrets.SiteSecret)
	if err != nil {
		return out, fmt.Errorf("decoding site_secret: %w", err)
	}
	if len(siteSecret) < 32 {
		return out, fmt.Errorf("site_secret must be at least 32 bytes, got %d", len(siteSecret))
	}

	minTTL, err := time.ParseDuration(cfg.Secrets.MinTTL)
	if err != nil {
		return out, fmt.Errorf("parsing min_ttl: %w", err)
	}
	maxTTL, err := time.ParseDuration(cfg.Secrets.MaxTTL)
	if err != nil {
		return out, fmt.Errorf("parsing max_ttl: %w", err)
	}
	defaultTTL, err := time.ParseDuration(cfg.Secrets.DefaultTTL)
	if err != nil {
		return out, fmt.Errorf("parsing default_ttl: %w", err)
	}
	if minTTL <= 0 || maxTTL < minTTL || defaultTTL < minTTL || defaultTTL > maxTTL {
		return out, fmt.Errorf("ttl bounds must satisfy 0 < min <= default <= max")
	}
	if cfg.Secrets.SoftLimit <= 0 || cfg.Secrets.HardLimit < cfg.Secrets.SoftLimit {
		return out, fmt.Errorf("size limits must satisfy 0 < soft_limit <= hard_limit")
	}
	if cfg.Secrets.BandFraction < 0 || cfg.Secrets.BandFraction >= 1 {
		return out, fmt.Errorf("band_fraction must be in [0, 1)")
	}

	out = secret.Config{
		SiteSecret:   siteSecret,
		MinTTL:       minTTL,
		MaxTTL:       maxTTL,
		DefaultTTL:   defaultTTL,
		SoftLimit:    cfg.Secrets.SoftLimit,
		HardLimit:    cfg.Secrets.HardLimit,
		BandFraction: cfg.Secrets.BandFraction,
	}
	return out, nil
}

func openStore(ctx context.Context, cfg config) (storage.Backend, error) {
	switch cfg.Store.Type {
	case "memory":
		return storage.NewMemoryBackend(time.Minute), nil

	case "redis":
		return storage.NewRedisBackend(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})

	case "postgres":
		if cfg.Store.Postgres.URL == "" {
			return nil, fmt.Errorf("store.postgres.url must be configured (or DATABASE_URL env var)")
		}
		if err := storage.RunMigrations(cfg.Store.Postgres.URL, cfg.Store.Postgres.MigrationsDir); err != nil {
			return nil, err
		}
		log.Info().Msg("migrations applied")
		store, err := storage.NewPostgresBackend(ctx, cfg.Store.Postgres.URL)
		if err != nil {
			return nil, err
		}
		reap, err := time.ParseDuration(cfg.Store.Postgres.ReapInterval)
		if err != nil || reap <= 0 {
			reap = time.Minute
		}
		store.StartReaper(reap)
		return store, nil
	}
	return nil, fmt.Errorf("unknown store type %q (must be memory, redis, or postgres)", cfg.Store.Type)
}
