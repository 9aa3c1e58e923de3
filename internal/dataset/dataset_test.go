package dataset

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	input := "\ufeffmonth,sales,,sales\nJan,10,a,1\nFeb,20\n"

	d, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"month", "sales", "Unnamed: 2", "sales.1"}, d.Columns)
	assert.Equal(t, 2, d.NumRows())
	assert.Equal(t, []string{"Feb", "20", "", ""}, d.Rows[1])
}

func TestReadCSVEmpty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestReadCSVTooManyFields(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a,b\n1,2,3\n"))
	assert.ErrorContains(t, err, "line 2 has 3 fields, expected 2")
}

func TestReadHTMLTable(t *testing.T) {
	html := `<html><body>
<table>
  <thead><tr><th>city</th><th>visits</th></tr></thead>
  <tbody>
    <tr><td>Lagos</td><td>12</td></tr>
    <tr><td> New
      York </td><td>7</td></tr>
  </tbody>
</table>
<table><tr><td>ignored</td></tr></table>
</body></html>`

	d, err := ReadHTMLTable(strings.NewReader(html))
	require.NoError(t, err)

	assert.Equal(t, []string{"city", "visits"}, d.Columns)
	assert.Equal(t, [][]string{{"Lagos", "12"}, {"New York", "7"}}, d.Rows)
}

func TestReadHTMLTableMissing(t *testing.T) {
	_, err := ReadHTMLTable(strings.NewReader("<p>nothing here</p>"))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestLoadUploadPicksReaderByExtension(t *testing.T) {
	d, err := LoadUpload("report.HTML", strings.NewReader("<table><tr><th>a</th></tr><tr><td>1</td></tr></table>"))
	require.NoError(t, err)
	assert.Equal(t, "upload:report.HTML", d.Source)
	assert.Equal(t, []string{"a"}, d.Columns)

	d, err = LoadUpload("data.csv", strings.NewReader("x,y\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, d.Columns)
}

func TestHeadAndColumn(t *testing.T) {
	d := &Dataset{Columns: []string{"a", "b"}, Rows: [][]string{{"1", "2"}, {"3", "4"}, {"5", "6"}}}

	assert.Equal(t, 2, d.Head(2).NumRows())
	assert.Equal(t, 3, d.Head(10).NumRows())
	assert.Equal(t, 0, d.Head(-1).NumRows())

	col, err := d.Column(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "4", "6"}, col)

	_, err = d.Column(2)
	assert.Error(t, err)
}

func TestFormatTable(t *testing.T) {
	d := &Dataset{
		Columns: []string{"month", "sales"},
		Rows:    [][]string{{"Jan", "10"}, {"Feb", "200"}},
	}

	want := "   month  sales\n" +
		"0    Jan     10\n" +
		"1    Feb    200"
	assert.Equal(t, want, FormatTable(d))
}

func TestFormatTableEmpty(t *testing.T) {
	d := &Dataset{Columns: []string{"a", "b"}}
	assert.Equal(t, "Empty table\nColumns: [a, b]", FormatTable(d))
}

func TestInsightPromptUsesSample(t *testing.T) {
	d := &Dataset{Columns: []string{"n"}}
	for i := 0; i < 20; i++ {
		d.Rows = append(d.Rows, []string{"v"})
	}

	prompt := InsightPrompt(d, 5)
	require.True(t, strings.HasPrefix(prompt, insightPreamble))

	table := strings.TrimPrefix(prompt, insightPreamble)
	assert.Len(t, strings.Split(table, "\n"), 6, "header plus five rows")
}

func TestParseDatabaseURL(t *testing.T) {
	cases := []struct {
		raw     string
		driver  string
		dsn     string
		dialect Dialect
	}{
		{"sqlite:///data.db", "sqlite3", "file:data.db?mode=ro", DialectSQLite},
		{"sqlite:////var/lib/app.db", "sqlite3", "file:/var/lib/app.db?mode=ro", DialectSQLite},
		{"sqlite:///odd?name#1.db", "sqlite3", "file:odd%3fname%231.db?mode=ro", DialectSQLite},
		{"sqlite://", "sqlite3", ":memory:", DialectSQLite},
		{"postgresql+psycopg2://u:p@db:5432/shop?sslmode=disable", "postgres", "postgres://u:p@db:5432/shop?sslmode=disable", DialectPostgres},
		{"mysql+pymysql://u:p@db/shop", "mysql", "u:p@tcp(db:3306)/shop?parseTime=true", DialectMySQL},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			target, err := ParseDatabaseURL(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.driver, target.Driver)
			assert.Equal(t, tc.dsn, target.DSN)
			assert.Equal(t, tc.dialect, target.Dialect)
		})
	}
}

func TestParseDatabaseURLRejectsUnknown(t *testing.T) {
	for _, raw := range []string{"", "not a url", "oracle://scott:tiger@db/orcl"} {
		_, err := ParseDatabaseURL(raw)
		assert.ErrorIs(t, err, ErrUnsupportedURL, raw)
	}
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"sales"."orders"`, DialectPostgres.QuoteIdent("sales.orders"))
	assert.Equal(t, "`we``ird`", DialectMySQL.QuoteIdent("we`ird"))
}

func TestReadSQLTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT \* FROM "orders" LIMIT 100`).
		WillReturnRows(sqlmock.NewRows([]string{"day", "amount", "note", "paid"}).
			AddRow(ts, 12.5, nil, true).
			AddRow([]byte("2024-03-02"), int64(7), "late", false))

	d, err := ReadSQLTable(context.Background(), db, DialectSQLite, "orders", 100)
	require.NoError(t, err)

	assert.Equal(t, []string{"day", "amount", "note", "paid"}, d.Columns)
	assert.Equal(t, []string{"2024-03-01T12:00:00Z", "12.5", "", "true"}, d.Rows[0])
	assert.Equal(t, []string{"2024-03-02", "7", "late", "false"}, d.Rows[1])
	assert.Equal(t, "sqlite:orders", d.Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadSQLTableQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT \* FROM "missing"`).WillReturnError(sql.ErrConnDone)

	d, err := ReadSQLTable(context.Background(), db, DialectPostgres, "missing", 0)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestLoadTableFromSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "source.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE sales (region TEXT, revenue REAL);
		INSERT INTO sales VALUES ('north', 10.5), ('south', 4);`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	d, err := LoadTable(context.Background(), "sqlite:///"+path, "sales", LoadOptions{Timeout: 5 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, []string{"region", "revenue"}, d.Columns)
	assert.Equal(t, [][]string{{"north", "10.5"}, {"south", "4"}}, d.Rows)
}

func TestLoadTableOpensSQLiteReadOnly(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.db")

	d, err := LoadTable(context.Background(), "sqlite:///"+missing, "sales", LoadOptions{Timeout: 5 * time.Second})
	assert.Nil(t, d)
	assert.Error(t, err)
	assert.NoFileExists(t, missing)

	path := filepath.Join(dir, "source.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE sales (region TEXT, revenue REAL)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	target, err := ParseDatabaseURL("sqlite:///" + path)
	require.NoError(t, err)
	ro, err := sql.Open(target.Driver, target.DSN)
	require.NoError(t, err)
	defer ro.Close()
	_, err = ro.Exec(`INSERT INTO sales VALUES ('north', 1)`)
	assert.ErrorContains(t, err, "readonly")
}

func TestLoadTableFailureLeavesNoDataset(t *testing.T) {
	d, err := LoadTable(context.Background(), "bogus-url", "sales", LoadOptions{})
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrUnsupportedURL)

	d, err = LoadTable(context.Background(), "sqlite://", "does_not_exist", LoadOptions{})
	assert.Nil(t, d)
	assert.Error(t, err)

	d, err = LoadTable(context.Background(), "sqlite://", " ", LoadOptions{})
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrNoTable)
}
