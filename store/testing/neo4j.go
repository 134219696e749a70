package storetesting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
)

// Neo4jDBConfig holds the Neo4j test container configuration.
type Neo4jDBConfig struct {
	Password       string
	ContainerImage string
}

// Neo4jDB represents a Neo4j test container.
type Neo4jDB struct {
	log       *slog.Logger
	cfg       *Neo4jDBConfig
	boltURL   string
	container *tcneo4j.Neo4jContainer
}

// BoltURL returns the Bolt protocol URL for the container.
func (db *Neo4jDB) BoltURL() string {
	return db.boltURL
}

// Username returns the Neo4j username.
func (db *Neo4jDB) Username() string {
	return "neo4j"
}

// Password returns the Neo4j password.
func (db *Neo4jDB) Password() string {
	return db.cfg.Password
}

// Close terminates the Neo4j container.
func (db *Neo4jDB) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.container.Terminate(terminateCtx); err != nil {
		db.log.Error("failed to terminate Neo4j container", "error", err)
	}
}

func (cfg *Neo4jDBConfig) Validate() error {
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "neo4j:5-community"
	}
	return nil
}

// NewNeo4jDB creates a new Neo4j testcontainer.
func NewNeo4jDB(ctx context.Context, log *slog.Logger, cfg *Neo4jDBConfig) (*Neo4jDB, error) {
	if cfg == nil {
		cfg = &Neo4jDBConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate Neo4j DB config: %w", err)
	}

	var container *tcneo4j.Neo4jContainer
	var lastErr error
	for attempt := 1; attempt <= containerStartAttempts; attempt++ {
		var err error
		container, err = tcneo4j.Run(ctx,
			cfg.ContainerImage,
			tcneo4j.WithAdminPassword(cfg.Password),
		)
		if err != nil {
			lastErr = err
			if isRetryableContainerStartErr(err) && attempt < containerStartAttempts {
				time.Sleep(startBackoff(attempt))
				continue
			}
			return nil, fmt.Errorf("failed to start Neo4j container after retries: %w", lastErr)
		}
		break
	}
	if container == nil {
		return nil, fmt.Errorf("failed to start Neo4j container after retries: %w", lastErr)
	}

	boltURL, err := container.BoltUrl(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get Neo4j bolt URL: %w", err)
	}

	return &Neo4jDB{
		log:       log,
		cfg:       cfg,
		boltURL:   boltURL,
		container: container,
	}, nil
}
