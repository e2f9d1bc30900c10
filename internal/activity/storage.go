package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/phildougherty/mcp-trader-bridge/internal/logging"
)

// Store persists activity beyond the in-memory ring.
type Store interface {
	Store(ctx context.Context, msg Message) error
	Recent(ctx context.Context, limit int) ([]Message, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
	Close() error
}

// PostgresStore keeps activity in the activity_events table.
type PostgresStore struct {
	db     *sql.DB
	logger *logging.Logger
}

const createTablesQuery = `
CREATE TABLE IF NOT EXISTS activity_events (
    id BIGSERIAL PRIMARY KEY,
    activity_id VARCHAR(255) NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    level VARCHAR(50) NOT NULL,
    type VARCHAR(100) NOT NULL,
    server VARCHAR(255),
    client VARCHAR(255),
    message TEXT NOT NULL,
    details JSONB,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_activity_events_timestamp ON activity_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_activity_events_type ON activity_events(type);
CREATE INDEX IF NOT EXISTS idx_activity_events_created_at ON activity_events(created_at);
`

const insertActivityQuery = `
INSERT INTO activity_events (activity_id, timestamp, level, type, server, client, message, details)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const recentActivityQuery = `
SELECT activity_id, timestamp, level, type,
       COALESCE(server, '') AS server,
       COALESCE(client, '') AS client,
       message, COALESCE(details, '{}') AS details
FROM activity_events
ORDER BY timestamp DESC
LIMIT $1
`

// NewPostgresStore connects to dbURL, creating the database and table when
// they do not exist yet.
func NewPostgresStore(ctx context.Context, dbURL string, logger *logging.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = logging.NewLogger("info")
	}
	logger.Info("Initializing activity storage...")

	dbName, err := extractDatabaseName(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if err := createDatabaseIfNotExists(ctx, dbURL, dbName, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure database exists: %w", err)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, createTablesQuery); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info("Activity storage initialized (database %s)", dbName)

	return &PostgresStore{db: db, logger: logger}, nil
}

// extractDatabaseName extracts the database name from a PostgreSQL connection URL
func extractDatabaseName(dbURL string) (string, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported scheme '%s'", u.Scheme)
	}

	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return "", fmt.Errorf("no database name found in URL")
	}

	return dbName, nil
}

func createDatabaseIfNotExists(ctx context.Context, dbURL, targetDB string, logger *logging.Logger) error {
	u, err := url.Parse(dbURL)
	if err != nil {
		return err
	}
	systemURL := *u
	systemURL.Path = "/postgres"

	db, err := sql.Open("postgres", systemURL.String())
	if err != nil {
		return fmt.Errorf("failed to connect to postgres system database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warning("failed to close database connection: %v", err)
		}
	}()

	var exists bool
	err = db.QueryRowContext(ctx, "SELECT EXISTS(SELECT datname FROM pg_database WHERE datname = $1)", targetDB).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if database exists: %w", err)
	}
	if exists {
		return nil
	}

	logger.Info("Creating database '%s'...", targetDB)
	if _, err := db.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(targetDB)); err != nil {
		return fmt.Errorf("failed to create database '%s': %w", targetDB, err)
	}

	return nil
}

func (s *PostgresStore) Store(ctx context.Context, msg Message) error {
	details, err := json.Marshal(msg.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	timestamp, err := time.Parse(time.RFC3339Nano, msg.Timestamp)
	if err != nil {
		timestamp = time.Now()
	}

	_, err = s.db.ExecContext(ctx, insertActivityQuery, msg.ID, timestamp, msg.Level, msg.Type,
		msg.Server, msg.Client, msg.Message, string(details))
	if err != nil {
		return fmt.Errorf("failed to store activity: %w", err)
	}

	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, recentActivityQuery, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warning("failed to close rows: %v", err)
		}
	}()

	var out []Message
	for rows.Next() {
		var msg Message
		var timestamp time.Time
		var details string

		if err := rows.Scan(&msg.ID, &timestamp, &msg.Level, &msg.Type, &msg.Server, &msg.Client, &msg.Message, &details); err != nil {
			return nil, err
		}
		msg.Timestamp = timestamp.UTC().Format(time.RFC3339Nano)
		msg.Details = decodeDetails(details)

		out = append(out, msg)
	}

	return out, rows.Err()
}

func decodeDetails(raw string) map[string]interface{} {
	details := make(map[string]interface{})
	if raw == "" || raw == "{}" || raw == "null" {
		return details
	}
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return make(map[string]interface{})
	}

	return details
}

func (s *PostgresStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, "DELETE FROM activity_events WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, err
	}

	n, _ := result.RowsAffected()
	if n > 0 {
		s.logger.Info("Cleaned up %d old activity records", n)
	}

	return n, nil
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}

	return s.db.Close()
}

// RunCleanup deletes records older than retention every interval until ctx
// is done.
func RunCleanup(ctx context.Context, store Store, retention, interval time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := store.Cleanup(ctx, retention); err != nil && ctx.Err() == nil {
				logger.Error("Activity cleanup failed: %v", err)
			}
		}
	}
}
