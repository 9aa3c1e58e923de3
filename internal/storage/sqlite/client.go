package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/insightsboard/backend/internal/storage/models"
	"github.com/insightsboard/backend/pkg/logger"
)

var ErrRunNotFound = errors.New("dashboard run not found")

// driverName is swapped in tests.
var driverName = "sqlite3"

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open(driverName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := configure(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func configure(db *sql.DB) error {
	_, err := db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	return nil
}

// NewClientWithDB wraps an already opened handle.
func NewClientWithDB(db *sql.DB) *Client {
	return &Client{db: db}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dashboard_runs (
		id TEXT PRIMARY KEY,
		source_kind TEXT NOT NULL,
		source TEXT,
		row_count INTEGER DEFAULT 0,
		columns TEXT,
		num_visuals INTEGER NOT NULL,
		customizations TEXT,
		insights TEXT,
		model TEXT,
		prompt_tokens INTEGER DEFAULT 0,
		completion_tokens INTEGER DEFAULT 0,
		cached INTEGER DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON dashboard_runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON dashboard_runs(status);

	CREATE TABLE IF NOT EXISTS run_charts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		chart_index INTEGER NOT NULL,
		line_index INTEGER NOT NULL,
		kind TEXT NOT NULL,
		title TEXT,
		x_column TEXT,
		y_column TEXT,
		content_type TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES dashboard_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_charts_run ON run_charts(run_id);

	CREATE TABLE IF NOT EXISTS system_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		metric_name TEXT NOT NULL,
		metric_value REAL NOT NULL,
		tags TEXT,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_name ON system_metrics(metric_name);
	CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON system_metrics(timestamp);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertRun(ctx context.Context, run *models.DashboardRun) error {
	query := `
		INSERT INTO dashboard_runs (id, source_kind, source, row_count, columns, num_visuals, customizations,
			insights, model, prompt_tokens, completion_tokens, cached, status, error, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	columnsJSON, err := json.Marshal(run.Columns)
	if err != nil {
		return fmt.Errorf("failed to encode columns: %w", err)
	}

	cached := 0
	if run.Cached {
		cached = 1
	}

	_, err = c.db.ExecContext(
		ctx,
		query,
		run.ID,
		run.SourceKind,
		run.Source,
		run.Rows,
		string(columnsJSON),
		run.NumVisuals,
		run.Customizations,
		run.Insights,
		run.Model,
		run.PromptTokens,
		run.CompletionTokens,
		cached,
		run.Status,
		run.Error,
		run.LatencyMS,
		run.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert dashboard run: %w", err)
	}

	logger.Info("Dashboard run recorded",
		zap.String("run_id", run.ID),
		zap.String("status", run.Status),
		zap.Int("latency_ms", run.LatencyMS),
	)

	return nil
}

func (c *Client) InsertRunChart(ctx context.Context, chart *models.RunChart) error {
	query := `
		INSERT INTO run_charts (run_id, chart_index, line_index, kind, title, x_column, y_column, content_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(
		ctx,
		query,
		chart.RunID,
		chart.ChartIndex,
		chart.LineIndex,
		chart.Kind,
		chart.Title,
		chart.XColumn,
		chart.YColumn,
		chart.ContentType,
		chart.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert run chart: %w", err)
	}

	return nil
}

const runColumns = `id, source_kind, source, row_count, columns, num_visuals, customizations, insights,
	model, prompt_tokens, completion_tokens, cached, status, error, latency_ms, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*models.DashboardRun, error) {
	var (
		r           models.DashboardRun
		columnsJSON sql.NullString
		source      sql.NullString
		custom      sql.NullString
		insights    sql.NullString
		model       sql.NullString
		errText     sql.NullString
		cached      int
		createdAt   int64
	)

	err := s.Scan(
		&r.ID,
		&r.SourceKind,
		&source,
		&r.Rows,
		&columnsJSON,
		&r.NumVisuals,
		&custom,
		&insights,
		&model,
		&r.PromptTokens,
		&r.CompletionTokens,
		&cached,
		&r.Status,
		&errText,
		&r.LatencyMS,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if columnsJSON.Valid && columnsJSON.String != "" {
		if err := json.Unmarshal([]byte(columnsJSON.String), &r.Columns); err != nil {
			return nil, fmt.Errorf("failed to decode columns: %w", err)
		}
	}
	r.Source = source.String
	r.Customizations = custom.String
	r.Insights = insights.String
	r.Model = model.String
	r.Error = errText.String
	r.Cached = cached == 1
	r.CreatedAt = time.Unix(createdAt, 0)

	return &r, nil
}

// GetRun returns the run with its chart descriptors.
func (c *Client) GetRun(ctx context.Context, id string) (*models.DashboardRun, error) {
	query := `SELECT ` + runColumns + ` FROM dashboard_runs WHERE id = ?`

	run, err := scanRun(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dashboard run: %w", err)
	}

	charts, err := c.GetRunCharts(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Charts = charts

	return run, nil
}

func (c *Client) GetRunCharts(ctx context.Context, runID string) ([]models.RunChart, error) {
	query := `
		SELECT id, run_id, chart_index, line_index, kind, title, x_column, y_column, content_type, created_at
		FROM run_charts
		WHERE run_id = ?
		ORDER BY chart_index
	`

	rows, err := c.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run charts: %w", err)
	}
	defer rows.Close()

	var charts []models.RunChart
	for rows.Next() {
		var ch models.RunChart
		var createdAt int64

		err := rows.Scan(&ch.ID, &ch.RunID, &ch.ChartIndex, &ch.LineIndex, &ch.Kind, &ch.Title,
			&ch.XColumn, &ch.YColumn, &ch.ContentType, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		ch.CreatedAt = time.Unix(createdAt, 0)
		charts = append(charts, ch)
	}

	return charts, rows.Err()
}

// ListRuns returns the most recent runs first, without their charts.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]models.DashboardRun, error) {
	query := `SELECT ` + runColumns + ` FROM dashboard_runs ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dashboard runs: %w", err)
	}
	defer rows.Close()

	var runs []models.DashboardRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		runs = append(runs, *r)
	}

	return runs, rows.Err()
}

func (c *Client) RecordMetric(name string, value float64, tags map[string]string) error {
	tagsJSON, _ := json.Marshal(tags)

	query := `INSERT INTO system_metrics (metric_name, metric_value, tags, timestamp) VALUES (?, ?, ?, ?)`

	_, err := c.db.Exec(query, name, value, string(tagsJSON), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record metric: %w", err)
	}

	return nil
}

// MetricTotal sums every recorded value of a metric.
func (c *Client) MetricTotal(name string) (float64, error) {
	var total sql.NullFloat64
	err := c.db.QueryRow(`SELECT SUM(metric_value) FROM system_metrics WHERE metric_name = ?`, name).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum metric: %w", err)
	}
	return total.Float64, nil
}
