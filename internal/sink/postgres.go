package sink

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/bryanchriswhite/riverwatch/internal/config"
	"github.com/bryanchriswhite/riverwatch/internal/logger"
)

const defaultAlarmTable = "alarms"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresSink archives alarms in a table, one row per alarm.
type PostgresSink struct {
	db     *sql.DB
	insert string
}

// NewPostgresSink opens the database and creates the table if needed.
func NewPostgresSink(cfg config.PostgresConfig) (*PostgresSink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres sink needs a dsn")
	}
	table := cfg.Table
	if table == "" {
		table = defaultAlarmTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	createTable := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		alarm_id    TEXT PRIMARY KEY,
		video_id    TEXT NOT NULL,
		scene_type  INTEGER NOT NULL,
		start_time  TEXT NOT NULL,
		extend_data TEXT NOT NULL,
		body        JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, table)
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table %s: %w", table, err)
	}

	logger.WithComponent("sink").Info().Str("table", table).Msg("Postgres alarm archive ready")

	return &PostgresSink{
		db: db,
		insert: fmt.Sprintf(
			`INSERT INTO %s (alarm_id, video_id, scene_type, start_time, extend_data, body)
			VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (alarm_id) DO NOTHING`, table),
	}, nil
}

// Name returns the sink name
func (s *PostgresSink) Name() string {
	return TypePostgres
}

// Send inserts msg.
func (s *PostgresSink) Send(ctx context.Context, msg *Message) error {
	p := msg.Payload
	_, err := s.db.ExecContext(ctx, s.insert, p.AlarmID, p.VideoID, p.SceneType, p.StartTime, p.ExtendData, string(msg.Body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}
	return nil
}

// Close closes the database handle
func (s *PostgresSink) Close() error {
	return s.db.Close()
}
