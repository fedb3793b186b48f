package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/medcode-agent/backend/internal/storage/models"
	"github.com/medcode-agent/backend/internal/telemetry"
	"github.com/medcode-agent/backend/pkg/logger"
)

// Client is the SQLite-backed telemetry sink. It stores run snapshots and
// flattened evaluation scores for audit.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pipeline_runs (
		trace_id TEXT PRIMARY KEY,
		success INTEGER NOT NULL,
		state TEXT NOT NULL,
		error TEXT,
		input_text TEXT,
		output_json TEXT,
		tokens_used INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON pipeline_runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_success ON pipeline_runs(success);

	CREATE TABLE IF NOT EXISTS evaluation_scores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id TEXT NOT NULL,
		name TEXT NOT NULL,
		value REAL NOT NULL,
		comment TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scores_trace ON evaluation_scores(trace_id);
	CREATE INDEX IF NOT EXISTS idx_scores_name ON evaluation_scores(name);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")

	return nil
}

// RecordSnapshot implements telemetry.Sink.
func (c *Client) RecordSnapshot(ctx context.Context, snapshot telemetry.Snapshot) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pipeline_runs
			(trace_id, success, state, error, input_text, output_json, tokens_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snapshot.TraceID,
		boolToInt(snapshot.Success),
		snapshot.State,
		snapshot.Error,
		snapshot.InputText,
		snapshot.OutputJSON,
		snapshot.TokensUsed,
		snapshot.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run snapshot: %w", err)
	}

	return nil
}

// RecordScores implements telemetry.Sink.
func (c *Client) RecordScores(ctx context.Context, traceID string, scores []telemetry.Score) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO evaluation_scores (trace_id, name, value, comment, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare score insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, score := range scores {
		_, err = stmt.ExecContext(ctx, traceID, score.Name, score.Value, score.Comment, now)
		if err != nil {
			return fmt.Errorf("failed to insert score %s: %w", score.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scores: %w", err)
	}

	return nil
}

// GetRun returns the stored snapshot for one trace.
func (c *Client) GetRun(ctx context.Context, traceID string) (*models.RunRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT trace_id, success, state, error, input_text, output_json, tokens_used, created_at
		FROM pipeline_runs WHERE trace_id = ?`, traceID)

	var record models.RunRecord
	var success int
	var createdAt int64
	var errText, inputText, outputJSON sql.NullString

	err := row.Scan(&record.TraceID, &success, &record.State, &errText, &inputText, &outputJSON, &record.TokensUsed, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	record.Success = success == 1
	record.Error = errText.String
	record.InputText = inputText.String
	record.OutputJSON = outputJSON.String
	record.CreatedAt = time.Unix(createdAt, 0)

	return &record, nil
}

// ListScores returns all scores recorded for one trace in insertion order.
func (c *Client) ListScores(ctx context.Context, traceID string) ([]models.ScoreRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, trace_id, name, value, comment, created_at
		FROM evaluation_scores WHERE trace_id = ? ORDER BY id`, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	var records []models.ScoreRecord
	for rows.Next() {
		var record models.ScoreRecord
		var comment sql.NullString
		var createdAt int64

		err = rows.Scan(&record.ID, &record.TraceID, &record.Name, &record.Value, &comment, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}

		record.Comment = comment.String
		record.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, record)
	}

	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
