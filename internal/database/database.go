package database

import (
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"

	"lyric-studio/internal/models"
)

// DB wraps the SQL database with request-log helpers
type DB struct {
	*sql.DB
}

// New opens the sqlite database at dataSourceName
func New(dataSourceName string) (*DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", dataSourceName)
	}
	// sqlite serializes writers; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	return &DB{db}, nil
}

// InitSchema initializes the database schema
func (db *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS request_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		client_ip TEXT,
		prompt TEXT,
		status TEXT NOT NULL,
		detail TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_log_job ON request_log(job_id);
	CREATE INDEX IF NOT EXISTS idx_log_kind_status ON request_log(kind, status);
	CREATE INDEX IF NOT EXISTS idx_log_created ON request_log(created_at);
	`

	_, err := db.Exec(schema)
	return errors.Wrap(err, "init schema")
}

// InsertEntry appends one request-log row
func (db *DB) InsertEntry(entry *models.LogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	res, err := db.Exec(`
		INSERT INTO request_log (job_id, kind, client_ip, prompt, status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.JobID, entry.Kind, nullString(entry.ClientIP), nullString(entry.Prompt),
		entry.Status, nullString(entry.Detail), entry.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "insert %s entry for job %s", entry.Kind, entry.JobID)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// ListEntries returns the newest entries, optionally filtered by job id
func (db *DB) ListEntries(jobID string, limit int) ([]models.LogEntry, error) {
	query := `SELECT id, job_id, kind, client_ip, prompt, status, detail, created_at
	          FROM request_log WHERE 1=1`
	args := []interface{}{}

	if jobID != "" {
		query += " AND job_id = ?"
		args = append(args, jobID)
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list entries")
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetMetrics aggregates request-log counters for the dashboard
func (db *DB) GetMetrics() (*models.Metrics, error) {
	metrics := models.Metrics{JobsByState: map[models.State]int64{}}

	counters := []struct {
		dest  *int64
		query string
		args  []interface{}
	}{
		{&metrics.LyricsRequests, "SELECT COUNT(*) FROM request_log WHERE kind = ?", []interface{}{models.KindLyrics}},
		{&metrics.LyricsFallbacks, "SELECT COUNT(*) FROM request_log WHERE kind = ? AND status = ?", []interface{}{models.KindLyrics, "fallback"}},
		{&metrics.Confirmations, "SELECT COUNT(*) FROM request_log WHERE kind = ?", []interface{}{models.KindConfirm}},
		{&metrics.Succeeded, "SELECT COUNT(*) FROM request_log WHERE kind = ? AND status = ?", []interface{}{models.KindResult, string(models.StateSucceeded)}},
		{&metrics.Failed, "SELECT COUNT(*) FROM request_log WHERE kind = ? AND status = ?", []interface{}{models.KindResult, string(models.StateFailed)}},
	}
	for _, c := range counters {
		if err := db.QueryRow(c.query, c.args...).Scan(c.dest); err != nil {
			return nil, errors.Wrap(err, "query metrics")
		}
	}

	return &metrics, nil
}

func scanEntries(rows *sql.Rows) ([]models.LogEntry, error) {
	entries := []models.LogEntry{}
	for rows.Next() {
		var e models.LogEntry
		var clientIP, prompt, detail sql.NullString

		if err := rows.Scan(&e.ID, &e.JobID, &e.Kind, &clientIP, &prompt,
			&e.Status, &detail, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan entry")
		}

		e.ClientIP = clientIP.String
		e.Prompt = prompt.String
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, errors.Wrap(rows.Err(), "iterate entries")
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
