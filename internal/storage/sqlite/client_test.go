package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightsboard/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClientClosesDBWhenPragmaFails(t *testing.T) {
	_, mock, err := sqlmock.NewWithDSN("history-pragma-failure")
	require.NoError(t, err)
	mock.ExpectExec("PRAGMA foreign_keys").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectClose()

	driverName = "sqlmock"
	t.Cleanup(func() { driverName = "sqlite3" })

	_, err = NewClient("history-pragma-failure")
	assert.ErrorContains(t, err, "failed to enable foreign keys")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	created := time.Unix(1700000000, 0)

	run := &models.DashboardRun{
		ID:               "run-1",
		SourceKind:       "upload",
		Source:           "upload:sales.csv",
		Rows:             12,
		Columns:          []string{"month", "revenue"},
		NumVisuals:       2,
		Customizations:   "use blue",
		Insights:         "bar of revenue\nline of growth",
		Model:            "gpt-4o-mini",
		PromptTokens:     40,
		CompletionTokens: 12,
		Cached:           true,
		Status:           models.RunStatusOK,
		LatencyMS:        321,
		CreatedAt:        created,
	}
	require.NoError(t, c.InsertRun(ctx, run))

	for i, kind := range []string{"bar", "line"} {
		require.NoError(t, c.InsertRunChart(ctx, &models.RunChart{
			RunID: "run-1", ChartIndex: i, LineIndex: i, Kind: kind, Title: kind,
			XColumn: "month", YColumn: "revenue", ContentType: "image/png", CreatedAt: created,
		}))
	}

	got, err := c.GetRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, run.Columns, got.Columns)
	assert.Equal(t, run.Insights, got.Insights)
	assert.Equal(t, "use blue", got.Customizations)
	assert.True(t, got.Cached)
	assert.Equal(t, created.Unix(), got.CreatedAt.Unix())
	require.Len(t, got.Charts, 2)
	assert.Equal(t, "line", got.Charts[1].Kind)
	assert.Equal(t, "revenue", got.Charts[1].YColumn)
}

func TestGetRunNotFound(t *testing.T) {
	c := newTestClient(t)

	_, err := c.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.InsertRun(ctx, &models.DashboardRun{
			ID:         id,
			SourceKind: "database",
			NumVisuals: 1,
			Status:     models.RunStatusLoadError,
			Error:      "Error loading data from database: boom",
			CreatedAt:  time.Unix(int64(1700000000+i), 0),
		}))
	}

	runs, err := c.ListRuns(ctx, 2)
	require.NoError(t, err)

	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Empty(t, runs[0].Columns)
	assert.Equal(t, "Error loading data from database: boom", runs[0].Error)
}

func TestRecordMetric(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.RecordMetric("charts_rendered", 3, map[string]string{"kind": "bar"}))
	require.NoError(t, c.RecordMetric("charts_rendered", 2, nil))

	total, err := c.MetricTotal("charts_rendered")
	require.NoError(t, err)
	assert.Equal(t, 5.0, total)

	total, err = c.MetricTotal("unknown")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestInsertRunWrapsDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO dashboard_runs").WillReturnError(errors.New("disk full"))

	c := NewClientWithDB(db)
	err = c.InsertRun(context.Background(), &models.DashboardRun{ID: "x", CreatedAt: time.Now()})

	assert.ErrorContains(t, err, "failed to insert dashboard run: disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}
