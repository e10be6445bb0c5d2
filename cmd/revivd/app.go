package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/internal/blobstore"
	"github.com/MarkoPoloResearchLab/reviv/internal/httpapi"
	"github.com/MarkoPoloResearchLab/reviv/internal/oplog"
	"github.com/MarkoPoloResearchLab/reviv/internal/sharestate"
	"github.com/MarkoPoloResearchLab/reviv/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/reviv/internal/sweeper"
	"github.com/MarkoPoloResearchLab/reviv/pkg/ledger"
	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
	sqliteMemory   = ":memory:"
)

// application holds the collaborators shared by every subcommand.
type application struct {
	logger  *zap.Logger
	db      *gorm.DB
	jobs    *restoration.Service
	ledger  *ledger.Service
	blobs   blobstore.Store
	sweeper *sweeper.Sweeper
	redis   *redis.Client
	media   *blobstore.LocalStore
	closers []func() error
}

func openApplication(ctx context.Context, cfg *runtimeConfig, logger *zap.Logger) (*application, error) {
	app := &application{logger: logger}
	db, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL, poolSettings{
		maxOpenConns:    cfg.DatabaseMaxConns,
		connMaxLifetime: cfg.DatabaseConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("database open: %w", err)
	}
	app.db = db
	app.closers = append(app.closers, cleanup)
	if err := prepareSchema(db); err != nil {
		app.Close()
		return nil, err
	}
	logger.Info("database ready", zap.String("driver", driver))

	clock := func() int64 { return time.Now().UTC().Unix() }
	operations := oplog.New(logger.Named("operations"))

	app.jobs, err = restoration.NewService(gormstore.NewJobStore(db), clock,
		restoration.WithOperationLogger(operations.Restoration()),
		restoration.WithRetentionSeconds(int64(cfg.Retention/time.Second)),
		restoration.WithActiveJobLimit(cfg.ActiveJobLimit),
	)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("job service init: %w", err)
	}

	ledgerOptions := []ledger.ServiceOption{
		ledger.WithOperationLogger(operations),
		ledger.WithShareConfirmDelay(int64(cfg.ShareConfirmDelay / time.Second)),
	}
	if cfg.ShareSigningKey != "" {
		states, err := app.openShareStates(ctx, cfg)
		if err != nil {
			app.Close()
			return nil, err
		}
		signer, err := ledger.NewShareTokenSigner([]byte(cfg.ShareSigningKey), 0, nil)
		if err != nil {
			app.Close()
			return nil, err
		}
		ledgerOptions = append(ledgerOptions, ledger.WithShareFlow(states, signer, ledger.NewShareLinks(cfg.FrontendURL)))
	} else {
		logger.Warn("share signing key missing; social share unlock disabled")
	}
	app.ledger, err = ledger.NewService(gormstore.NewLedgerStore(db), clock, ledgerOptions...)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("ledger service init: %w", err)
	}

	if err := app.openBlobs(ctx, cfg); err != nil {
		app.Close()
		return nil, err
	}
	app.sweeper, err = sweeper.New(app.jobs, app.blobs,
		sweeper.WithFailedAge(cfg.FailedAge),
		sweeper.WithLogger(logger.Named("sweeper")),
	)
	if err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (app *application) openShareStates(ctx context.Context, cfg *runtimeConfig) (ledger.ShareStateStore, error) {
	if cfg.RedisURL == "" {
		app.logger.Warn("redis url missing; share state kept in process memory")
		return sharestate.NewMemoryStore(nil), nil
	}
	client, err := sharestate.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	app.redis = client
	app.closers = append(app.closers, client.Close)
	return sharestate.NewRedisStore(client), nil
}

func (app *application) openBlobs(ctx context.Context, cfg *runtimeConfig) error {
	switch cfg.BlobBackend {
	case blobBackendS3:
		store, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
		if err != nil {
			return fmt.Errorf("s3 blob store: %w", err)
		}
		app.blobs = store
	default:
		baseURL := strings.TrimRight(cfg.HTTP.PublicAPIURL, "/") + httpapi.MediaPath
		if cfg.HTTP.JWTSigningKey == "" {
			app.logger.Warn("signing key missing; private media will not be served")
		}
		store, err := blobstore.NewLocalStore(cfg.MediaDir, baseURL,
			blobstore.WithURLSigning([]byte(cfg.HTTP.JWTSigningKey), 0, nil))
		if err != nil {
			return fmt.Errorf("local blob store: %w", err)
		}
		app.blobs = store
		app.media = store
	}
	return nil
}

func (app *application) healthChecks() map[string]httpapi.HealthCheck {
	checks := map[string]httpapi.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := app.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if app.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return app.redis.Ping(ctx).Err()
		}
	}
	return checks
}

// Close releases connections in reverse order of acquisition.
func (app *application) Close() {
	for index := len(app.closers) - 1; index >= 0; index-- {
		if err := app.closers[index](); err != nil {
			app.logger.Warn("close failed", zap.Error(err))
		}
	}
	app.closers = nil
}

// databaseTarget is a parsed --database-url: a postgres URL or a sqlite file path.
type databaseTarget struct {
	driver string
	dsn    string
}

// poolSettings apply to postgres only; sqlite always runs a single connection.
type poolSettings struct {
	maxOpenConns    int
	connMaxLifetime time.Duration
}

// sqlitePragmas let a second writer wait instead of failing with SQLITE_BUSY.
const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

func openDatabase(ctx context.Context, rawURL string, pool poolSettings) (*gorm.DB, func() error, string, error) {
	target, err := parseDatabaseURL(rawURL)
	if err != nil {
		return nil, nil, "", err
	}
	var dialector gorm.Dialector
	switch target.driver {
	case driverPostgres:
		dialector = postgres.New(postgres.Config{DSN: target.dsn})
	case driverSQLite:
		dialector = sqlite.Open(sqliteDSN(target.dsn))
	default:
		return nil, nil, "", fmt.Errorf("unsupported database driver %q", target.driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	switch target.driver {
	case driverSQLite:
		sqlDB.SetMaxOpenConns(1)
	case driverPostgres:
		if pool.maxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(pool.maxOpenConns)
			sqlDB.SetMaxIdleConns(pool.maxOpenConns / 2)
		}
		if pool.connMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(pool.connMaxLifetime)
		}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, "", fmt.Errorf("ping %s: %w", target.driver, err)
	}
	return db.WithContext(ctx), sqlDB.Close, target.driver, nil
}

func parseDatabaseURL(rawURL string) (databaseTarget, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return databaseTarget{}, errors.New("database url is empty")
	}
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return databaseTarget{driver: driverPostgres, dsn: trimmed}, nil
	}
	path := trimmed
	if strings.HasPrefix(trimmed, "sqlite://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return databaseTarget{}, fmt.Errorf("parse sqlite url: %w", err)
		}
		path = parsed.Host + parsed.Path
		if path == "" || path == "/" {
			path = "reviv.db"
		}
	}
	sqlitePath, err := prepareSQLiteFile(path)
	if err != nil {
		return databaseTarget{}, err
	}
	return databaseTarget{driver: driverSQLite, dsn: sqlitePath}, nil
}

// prepareSQLiteFile resolves path to an absolute file and creates its directory.
func prepareSQLiteFile(path string) (string, error) {
	if path == sqliteMemory {
		return path, nil
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve sqlite path: %w", err)
	}
	if info, err := os.Stat(absolute); err == nil && info.IsDir() {
		return "", fmt.Errorf("sqlite path %s is a directory", absolute)
	}
	if err := os.MkdirAll(filepath.Dir(absolute), 0o755); err != nil {
		return "", fmt.Errorf("create sqlite directory: %w", err)
	}
	return absolute, nil
}

func sqliteDSN(path string) string {
	if path == sqliteMemory {
		return path
	}
	return path + "?" + sqlitePragmas
}

func prepareSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
