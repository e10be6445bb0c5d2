package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/internal/httpapi"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix = "REVIV"

	flagListenAddr           = "listen-addr"
	flagPublicAPIURL         = "public-api-url"
	flagFrontendURL          = "frontend-url"
	flagAllowedOrigins       = "allowed-origins"
	flagDatabaseURL          = "database-url"
	flagDatabaseMaxConns     = "database-max-conns"
	flagDatabaseConnLifetime = "database-conn-lifetime"
	flagRedisURL             = "redis-url"
	flagJWTSigningKey        = "jwt-signing-key"
	flagJWTIssuer            = "jwt-issuer"
	flagJWTCookieName        = "jwt-cookie-name"
	flagShareSigningKey      = "share-signing-key"
	flagShareConfirmDelay    = "share-confirm-delay"
	flagEnhancerBaseURL      = "enhancer-base-url"
	flagEnhancerAPIKey       = "enhancer-api-key"
	flagEnhancerModel        = "enhancer-model"
	flagEnhancerCallback     = "enhancer-callback"
	flagCallbackToken        = "callback-token"
	flagPollCeiling          = "poll-ceiling"
	flagWorkers              = "workers"
	flagQueueSize            = "queue-size"
	flagBlobBackend          = "blob-backend"
	flagMediaDir             = "media-dir"
	flagS3Bucket             = "s3-bucket"
	flagS3Region             = "s3-region"
	flagS3Endpoint           = "s3-endpoint"
	flagS3PublicBaseURL      = "s3-public-base-url"
	flagPaymentWebhookSecret = "payment-webhook-secret"
	flagExpiredSchedule      = "sweep-expired-schedule"
	flagFailedSchedule       = "sweep-failed-schedule"
	flagFailedAge            = "failed-age"
	flagRetention            = "retention"
	flagActiveJobLimit       = "active-job-limit"

	blobBackendLocal = "local"
	blobBackendS3    = "s3"

	defaultDatabaseURL  = "sqlite:///tmp/reviv.db"
	defaultEnhancerURL  = "https://api.kie.ai"
	defaultMediaDir     = "./media"
	defaultPollCeiling  = 600 * time.Second
	defaultRetention    = 60 * 24 * time.Hour
	defaultFailedAge    = 24 * time.Hour
	defaultFrontendURL  = "http://localhost:3000"
	defaultActiveJobCap = 6
)

type runtimeConfig struct {
	HTTP httpapi.Config

	DatabaseURL          string
	DatabaseMaxConns     int
	DatabaseConnLifetime time.Duration
	RedisURL             string
	FrontendURL          string
	ShareSigningKey      string
	ShareConfirmDelay    time.Duration

	EnhancerBaseURL  string
	EnhancerAPIKey   string
	EnhancerModel    string
	EnhancerCallback bool
	PollCeiling      time.Duration
	Workers          int
	QueueSize        int

	BlobBackend     string
	MediaDir        string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3PublicBaseURL string

	ExpiredSchedule string
	FailedSchedule  string
	FailedAge       time.Duration
	Retention       time.Duration
	ActiveJobLimit  int
}

func registerFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String(flagListenAddr, ":8080", "HTTP listen address")
	flags.String(flagPublicAPIURL, "http://localhost:8080", "externally reachable base URL of this server")
	flags.String(flagFrontendURL, defaultFrontendURL, "public frontend URL used in referral links")
	flags.String(flagAllowedOrigins, defaultFrontendURL, "comma-separated list of allowed CORS origins")
	flags.String(flagDatabaseURL, defaultDatabaseURL, "postgres:// or sqlite:// connection string")
	flags.Int(flagDatabaseMaxConns, 10, "postgres connection pool size")
	flags.Duration(flagDatabaseConnLifetime, 30*time.Minute, "recycle postgres connections after this long")
	flags.String(flagRedisURL, "", "redis:// URL for share state; in-process memory when empty")
	flags.String(flagJWTSigningKey, "", "session JWT signing key (required for serve)")
	flags.String(flagJWTIssuer, "reviv", "expected session JWT issuer")
	flags.String(flagJWTCookieName, "reviv_session", "session cookie name")
	flags.String(flagShareSigningKey, "", "share token signing key; defaults to the session key")
	flags.Duration(flagShareConfirmDelay, 0, "minimum wait between share redirect and confirmation")
	flags.String(flagEnhancerBaseURL, defaultEnhancerURL, "enhancement provider base URL")
	flags.String(flagEnhancerAPIKey, "", "enhancement provider API key (required for serve)")
	flags.String(flagEnhancerModel, "", "enhancement provider model")
	flags.Bool(flagEnhancerCallback, false, "ask the provider to call back instead of polling")
	flags.String(flagCallbackToken, "", "shared token expected on provider callbacks")
	flags.Duration(flagPollCeiling, defaultPollCeiling, "give up polling a task after this long")
	flags.Int(flagWorkers, 0, "background worker count")
	flags.Int(flagQueueSize, 0, "background queue size")
	flags.String(flagBlobBackend, blobBackendLocal, "artifact storage: local or s3")
	flags.String(flagMediaDir, defaultMediaDir, "directory for the local blob backend")
	flags.String(flagS3Bucket, "", "S3 bucket for the s3 blob backend")
	flags.String(flagS3Region, "", "S3 region")
	flags.String(flagS3Endpoint, "", "S3-compatible endpoint override")
	flags.String(flagS3PublicBaseURL, "", "public base URL for objects under public/")
	flags.String(flagPaymentWebhookSecret, "", "HMAC secret for payment webhooks (required for serve)")
	flags.String(flagExpiredSchedule, "", "cron spec for the expired-job sweep")
	flags.String(flagFailedSchedule, "", "cron spec for the failed-job sweep")
	flags.Duration(flagFailedAge, defaultFailedAge, "failed jobs older than this are purged")
	flags.Duration(flagRetention, defaultRetention, "how long completed jobs are kept")
	flags.Int(flagActiveJobLimit, defaultActiveJobCap, "maximum active jobs per owner")
}

func allFlags() []string {
	return []string{
		flagListenAddr, flagPublicAPIURL, flagFrontendURL, flagAllowedOrigins, flagDatabaseURL,
		flagDatabaseMaxConns, flagDatabaseConnLifetime, flagRedisURL,
		flagJWTSigningKey, flagJWTIssuer, flagJWTCookieName, flagShareSigningKey, flagShareConfirmDelay,
		flagEnhancerBaseURL, flagEnhancerAPIKey, flagEnhancerModel, flagEnhancerCallback, flagCallbackToken,
		flagPollCeiling, flagWorkers, flagQueueSize, flagBlobBackend, flagMediaDir, flagS3Bucket, flagS3Region,
		flagS3Endpoint, flagS3PublicBaseURL, flagPaymentWebhookSecret, flagExpiredSchedule, flagFailedSchedule,
		flagFailedAge, flagRetention, flagActiveJobLimit,
	}
}

// loadConfig reads .env, then flags overridden by REVIV_* environment variables.
func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, flagName := range allFlags() {
		if err := v.BindPFlag(flagName, cmd.Flag(flagName)); err != nil {
			return err
		}
	}

	cfg.HTTP = httpapi.Config{
		ListenAddr:           strings.TrimSpace(v.GetString(flagListenAddr)),
		AllowedOrigins:       httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		PublicAPIURL:         strings.TrimSpace(v.GetString(flagPublicAPIURL)),
		JWTSigningKey:        v.GetString(flagJWTSigningKey),
		JWTIssuer:            strings.TrimSpace(v.GetString(flagJWTIssuer)),
		JWTCookieName:        strings.TrimSpace(v.GetString(flagJWTCookieName)),
		CallbackToken:        strings.TrimSpace(v.GetString(flagCallbackToken)),
		PaymentWebhookSecret: v.GetString(flagPaymentWebhookSecret),
	}
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.DatabaseMaxConns = v.GetInt(flagDatabaseMaxConns)
	cfg.DatabaseConnLifetime = v.GetDuration(flagDatabaseConnLifetime)
	cfg.RedisURL = strings.TrimSpace(v.GetString(flagRedisURL))
	cfg.FrontendURL = strings.TrimSpace(v.GetString(flagFrontendURL))
	cfg.ShareSigningKey = v.GetString(flagShareSigningKey)
	cfg.ShareConfirmDelay = v.GetDuration(flagShareConfirmDelay)
	cfg.EnhancerBaseURL = strings.TrimSpace(v.GetString(flagEnhancerBaseURL))
	cfg.EnhancerAPIKey = strings.TrimSpace(v.GetString(flagEnhancerAPIKey))
	cfg.EnhancerModel = strings.TrimSpace(v.GetString(flagEnhancerModel))
	cfg.EnhancerCallback = v.GetBool(flagEnhancerCallback)
	cfg.PollCeiling = v.GetDuration(flagPollCeiling)
	cfg.Workers = v.GetInt(flagWorkers)
	cfg.QueueSize = v.GetInt(flagQueueSize)
	cfg.BlobBackend = strings.ToLower(strings.TrimSpace(v.GetString(flagBlobBackend)))
	cfg.MediaDir = strings.TrimSpace(v.GetString(flagMediaDir))
	cfg.S3Bucket = strings.TrimSpace(v.GetString(flagS3Bucket))
	cfg.S3Region = strings.TrimSpace(v.GetString(flagS3Region))
	cfg.S3Endpoint = strings.TrimSpace(v.GetString(flagS3Endpoint))
	cfg.S3PublicBaseURL = strings.TrimSpace(v.GetString(flagS3PublicBaseURL))
	cfg.ExpiredSchedule = strings.TrimSpace(v.GetString(flagExpiredSchedule))
	cfg.FailedSchedule = strings.TrimSpace(v.GetString(flagFailedSchedule))
	cfg.FailedAge = v.GetDuration(flagFailedAge)
	cfg.Retention = v.GetDuration(flagRetention)
	cfg.ActiveJobLimit = v.GetInt(flagActiveJobLimit)

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.ShareSigningKey == "" {
		cfg.ShareSigningKey = cfg.HTTP.JWTSigningKey
	}
	switch cfg.BlobBackend {
	case blobBackendLocal:
		if cfg.MediaDir == "" {
			cfg.MediaDir = defaultMediaDir
		}
	case blobBackendS3:
		if cfg.S3Bucket == "" {
			return fmt.Errorf("%s is required for the s3 backend", flagS3Bucket)
		}
	default:
		return fmt.Errorf("unsupported %s %q", flagBlobBackend, cfg.BlobBackend)
	}
	return nil
}

// validateServe checks the settings only the long-running server needs.
func (cfg *runtimeConfig) validateServe() error {
	if cfg.EnhancerAPIKey == "" {
		return fmt.Errorf("%s is required", flagEnhancerAPIKey)
	}
	return cfg.HTTP.Validate()
}
