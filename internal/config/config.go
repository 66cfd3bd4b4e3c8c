package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/skredvarsel/garmin-web/internal/backup"
	"github.com/skredvarsel/garmin-web/internal/vipps"
)

// Config captures runtime configuration for the service.
type Config struct {
	// Port the HTTP server listens on. Defaults to "8080".
	Port string

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string

	// DBPath is the SQLite database file. Defaults to "skredvarsel.db".
	DBPath string

	// BaseURL is the externally visible URL of this service, used in
	// emails and provider redirect URLs.
	BaseURL string

	Vipps vipps.Config

	// PostmarkToken and FromEmail configure outbound email. Email is
	// disabled when the token is empty.
	PostmarkToken string
	FromEmail     string

	Backup         backup.S3Config
	BackupInterval time.Duration
}

// Load reads configuration from the environment, after loading a .env file
// when one is present.
func Load() Config {
	godotenv.Load()

	cfg := Config{
		Port:     getenv("PORT", "8080"),
		LogLevel: os.Getenv("LOG_LEVEL"),
		DBPath:   getenv("DB_PATH", "skredvarsel.db"),
		Vipps: vipps.Config{
			BaseURL:              getenv("VIPPS_BASE_URL", "https://api.vipps.no"),
			ClientID:             os.Getenv("VIPPS_CLIENT_ID"),
			ClientSecret:         os.Getenv("VIPPS_CLIENT_SECRET"),
			SubscriptionKey:      os.Getenv("VIPPS_SUBSCRIPTION_KEY"),
			MerchantSerialNumber: os.Getenv("VIPPS_MERCHANT_SERIAL_NUMBER"),
		},
		PostmarkToken: os.Getenv("POSTMARK_TOKEN"),
		FromEmail:     os.Getenv("FROM_EMAIL"),
		Backup: backup.S3Config{
			Endpoint:  os.Getenv("BACKUP_S3_ENDPOINT"),
			Bucket:    os.Getenv("BACKUP_S3_BUCKET"),
			Region:    getenv("BACKUP_S3_REGION", "auto"),
			AccessKey: os.Getenv("BACKUP_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("BACKUP_S3_SECRET_KEY"),
		},
		BackupInterval: 24 * time.Hour,
	}

	cfg.BaseURL = getenv("BASE_URL", "http://localhost:"+cfg.Port)

	if raw := os.Getenv("BACKUP_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.BackupInterval = d
		}
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
