package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	AccessSecret string
}

type ClassifierConfig struct {
	URL            string
	AttemptTimeout time.Duration
	TotalBudget    time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
}

type EvidenceConfig struct {
	Dir        string
	PublicPath string
	MaxBytes   int64
}

type GeoConfig struct {
	FallbackLat     float64
	FallbackLng     float64
	PrimaryTimeout  time.Duration
	FallbackTimeout time.Duration
	PositionTTL     time.Duration
}

type ResolutionConfig struct {
	MaxDistanceMeters float64
}

type SubmissionConfig struct {
	DailyLimit int
	KeyTTL     time.Duration
	PendingTTL time.Duration
}

type Config struct {
	Environment string
	LogLevel    string
	HTTP        HTTPConfig
	DB          DBConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Classifier  ClassifierConfig
	Evidence    EvidenceConfig
	Geo         GeoConfig
	Resolution  ResolutionConfig
	Submission  SubmissionConfig
}

const pendingHeadroom = time.Minute

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")

	v.AutomaticEnv()
	setDefaults(v)

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Classifier: ClassifierConfig{
			URL:            v.GetString("CLASSIFIER_URL"),
			AttemptTimeout: v.GetDuration("CLASSIFIER_ATTEMPT_TIMEOUT"),
			TotalBudget:    v.GetDuration("CLASSIFIER_TOTAL_BUDGET"),
			MaxRetries:     v.GetInt("CLASSIFIER_MAX_RETRIES"),
			BackoffBase:    v.GetDuration("CLASSIFIER_BACKOFF_BASE"),
			BackoffCap:     v.GetDuration("CLASSIFIER_BACKOFF_CAP"),
		},
		Evidence: EvidenceConfig{
			Dir:        v.GetString("EVIDENCE_DIR"),
			PublicPath: v.GetString("EVIDENCE_PUBLIC_PATH"),
			MaxBytes:   v.GetInt64("EVIDENCE_MAX_BYTES"),
		},
		Geo: GeoConfig{
			FallbackLat:     v.GetFloat64("DISPATCH_FALLBACK_LAT"),
			FallbackLng:     v.GetFloat64("DISPATCH_FALLBACK_LNG"),
			PrimaryTimeout:  v.GetDuration("GEO_PRIMARY_TIMEOUT"),
			FallbackTimeout: v.GetDuration("GEO_FALLBACK_TIMEOUT"),
			PositionTTL:     v.GetDuration("GEO_POSITION_TTL"),
		},
		Resolution: ResolutionConfig{
			MaxDistanceMeters: v.GetFloat64("RESOLUTION_MAX_DISTANCE_METERS"),
		},
		Submission: SubmissionConfig{
			DailyLimit: v.GetInt("SUBMISSION_DAILY_LIMIT"),
			KeyTTL:     v.GetDuration("SUBMISSION_KEY_TTL"),
			PendingTTL: v.GetDuration("SUBMISSION_PENDING_TTL"),
		},
	}

	// an in-flight submission spends at most the classifier budget plus an
	// upload and an insert
	if cfg.Submission.PendingTTL <= 0 {
		cfg.Submission.PendingTTL = cfg.Classifier.TotalBudget + pendingHeadroom
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_HOST", "0.0.0.0")
	v.SetDefault("HTTP_PORT", 7090)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CLASSIFIER_ATTEMPT_TIMEOUT", 15*time.Second)
	v.SetDefault("CLASSIFIER_TOTAL_BUDGET", 45*time.Second)
	v.SetDefault("CLASSIFIER_MAX_RETRIES", 2)
	v.SetDefault("CLASSIFIER_BACKOFF_BASE", 2*time.Second)
	v.SetDefault("CLASSIFIER_BACKOFF_CAP", 10*time.Second)
	v.SetDefault("EVIDENCE_DIR", "./data/evidence")
	v.SetDefault("EVIDENCE_PUBLIC_PATH", "/evidence")
	v.SetDefault("EVIDENCE_MAX_BYTES", 10<<20)
	v.SetDefault("DISPATCH_FALLBACK_LAT", 23.2599)
	v.SetDefault("DISPATCH_FALLBACK_LNG", 77.4126)
	v.SetDefault("GEO_PRIMARY_TIMEOUT", 10*time.Second)
	v.SetDefault("GEO_FALLBACK_TIMEOUT", 20*time.Second)
	v.SetDefault("GEO_POSITION_TTL", 12*time.Hour)
	v.SetDefault("RESOLUTION_MAX_DISTANCE_METERS", 50)
	v.SetDefault("SUBMISSION_DAILY_LIMIT", 20)
	v.SetDefault("SUBMISSION_KEY_TTL", 24*time.Hour)
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.Classifier.URL == "" {
		return fmt.Errorf("CLASSIFIER_URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.Classifier.URL); err != nil {
		return fmt.Errorf("CLASSIFIER_URL is invalid: %w", err)
	}
	if cfg.Classifier.MaxRetries < 0 {
		return fmt.Errorf("CLASSIFIER_MAX_RETRIES must not be negative")
	}
	if cfg.Classifier.AttemptTimeout > cfg.Classifier.TotalBudget {
		return fmt.Errorf("CLASSIFIER_ATTEMPT_TIMEOUT must not exceed CLASSIFIER_TOTAL_BUDGET")
	}
	if cfg.Resolution.MaxDistanceMeters <= 0 {
		return fmt.Errorf("RESOLUTION_MAX_DISTANCE_METERS must be positive")
	}
	if cfg.Geo.FallbackLat < -90 || cfg.Geo.FallbackLat > 90 || cfg.Geo.FallbackLng < -180 || cfg.Geo.FallbackLng > 180 {
		return fmt.Errorf("DISPATCH_FALLBACK_LAT/LNG out of range")
	}
	if cfg.Submission.DailyLimit <= 0 {
		return fmt.Errorf("SUBMISSION_DAILY_LIMIT must be positive")
	}
	if cfg.Submission.PendingTTL < cfg.Classifier.TotalBudget {
		return fmt.Errorf("SUBMISSION_PENDING_TTL must not be shorter than CLASSIFIER_TOTAL_BUDGET")
	}
	if cfg.Submission.PendingTTL > cfg.Submission.KeyTTL {
		return fmt.Errorf("SUBMISSION_PENDING_TTL must not exceed SUBMISSION_KEY_TTL")
	}
	return nil
}
