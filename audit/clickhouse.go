// Package audit records executed queries for observability. The
// ClickHouse sink is optional; when unconfigured, audit entries only
// reach the structured log.
package audit

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/malbeclabs/waybill/agent/pkg/workflow"
)

// Config holds the ClickHouse sink configuration.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Secure   bool
}

// ClickHouseSink appends audit entries to the query_audit table.
type ClickHouseSink struct {
	conn driver.Conn
	log  *slog.Logger
}

// NewClickHouseSink connects, pings, and ensures the audit table.
func NewClickHouseSink(ctx context.Context, log *slog.Logger, cfg Config) (*ClickHouseSink, error) {
	opts := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:     5 * time.Second,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
	if cfg.Secure {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("create clickhouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	if err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS query_audit (
			thread_id   String,
			turn_id     String,
			route       LowCardinality(String),
			sql         String,
			row_count   UInt32,
			duration_ms UInt32,
			error       String,
			at          DateTime
		) ENGINE = MergeTree()
		ORDER BY (at, thread_id)`); err != nil {
		return nil, fmt.Errorf("ensure query_audit table: %w", err)
	}

	log.Info("clickhouse audit sink initialized", "addr", cfg.Addr, "database", cfg.Database)
	return &ClickHouseSink{conn: conn, log: log}, nil
}

// Record implements workflow.AuditSink.
func (s *ClickHouseSink) Record(ctx context.Context, e workflow.AuditEntry) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO query_audit (thread_id, turn_id, route, sql, row_count, duration_ms, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ThreadID, e.TurnID, e.Route, e.SQL,
		uint32(e.RowCount), uint32(e.Duration.Milliseconds()), e.Error, e.At,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}

// LogSink writes audit entries to the structured log only.
type LogSink struct {
	Log *slog.Logger
}

// Record implements workflow.AuditSink.
func (s *LogSink) Record(_ context.Context, e workflow.AuditEntry) error {
	s.Log.Info("query executed",
		"thread", e.ThreadID,
		"turn", e.TurnID,
		"route", e.Route,
		"sql", e.SQL,
		"rows", e.RowCount,
		"duration", e.Duration,
		"error", e.Error,
	)
	return nil
}
