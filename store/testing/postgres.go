package storetesting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresDBConfig holds the Postgres test container configuration.
type PostgresDBConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

// PostgresDB represents a Postgres test container.
type PostgresDB struct {
	log       *slog.Logger
	cfg       *PostgresDBConfig
	dsn       string
	container *tcpostgres.PostgresContainer
}

// DSN returns the connection string for the container.
func (db *PostgresDB) DSN() string {
	return db.dsn
}

// Close terminates the Postgres container.
func (db *PostgresDB) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(terminateCtx); err != nil {
		db.log.Error("failed to terminate Postgres container", "error", err)
	}
}

func (cfg *PostgresDBConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "waybill_test"
	}
	if cfg.Username == "" {
		cfg.Username = "postgres"
	}
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "postgres:16-alpine"
	}
	return nil
}

// NewPostgresDB creates a new Postgres testcontainer.
func NewPostgresDB(ctx context.Context, log *slog.Logger, cfg *PostgresDBConfig) (*PostgresDB, error) {
	if cfg == nil {
		cfg = &PostgresDBConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate Postgres DB config: %w", err)
	}

	var container *tcpostgres.PostgresContainer
	var lastErr error
	for attempt := 1; attempt <= containerStartAttempts; attempt++ {
		var err error
		container, err = tcpostgres.Run(ctx,
			cfg.ContainerImage,
			tcpostgres.WithDatabase(cfg.Database),
			tcpostgres.WithUsername(cfg.Username),
			tcpostgres.WithPassword(cfg.Password),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			lastErr = err
			if isRetryableContainerStartErr(err) && attempt < containerStartAttempts {
				time.Sleep(startBackoff(attempt))
				continue
			}
			return nil, fmt.Errorf("failed to start Postgres container after retries: %w", lastErr)
		}
		break
	}
	if container == nil {
		return nil, fmt.Errorf("failed to start Postgres container after retries: %w", lastErr)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get Postgres connection string: %w", err)
	}

	return &PostgresDB{
		log:       log,
		cfg:       cfg,
		dsn:       dsn,
		container: container,
	}, nil
}
