package runlog

// #region imports
import (
	"database/sql"
	"fmt"
	"time"
)

// #endregion

// #region status

// Status is the single terminal status every run ends with. An operator can
// audit completeness externally by joining run ids against this table.
type Status string

const (
	StatusLearned    Status = "completed-with-learning"
	StatusNoLearning Status = "completed-without-learning"
	StatusFailed     Status = "failed"
)

// #endregion

// #region schema

const runLogSchema = `
CREATE TABLE IF NOT EXISTS run_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	status      TEXT NOT NULL,
	mode        TEXT NOT NULL,
	novel_count INTEGER NOT NULL DEFAULT 0,
	reason      TEXT,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_log_run ON run_log(run_id);
`

// Init creates the run_log table.
func Init(db *sql.DB) error {
	if _, err := db.Exec(runLogSchema); err != nil {
		return fmt.Errorf("migrate run log: %w", err)
	}
	return nil
}

// #endregion

// #region entry

// Entry is one terminal run record.
type Entry struct {
	RunID      string
	Status     Status
	Mode       string // exploit | explore | explore-targeted
	NovelCount int
	Reason     string
	CreatedAt  time.Time
}

// #endregion

// #region log

// Log writes a terminal status entry for a run.
func Log(db *sql.DB, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := db.Exec(
		`INSERT INTO run_log (run_id, status, mode, novel_count, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		string(entry.Status),
		entry.Mode,
		entry.NovelCount,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log run: %w", err)
	}
	return nil
}

// #endregion log

// #region recent

// Recent returns the most recent run entries, newest first.
func Recent(db *sql.DB, limit int) ([]Entry, error) {
	rows, err := db.Query(
		`SELECT run_id, status, mode, novel_count, reason, created_at
		 FROM run_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var status, createdStr string
		var reason sql.NullString
		if err := rows.Scan(&e.RunID, &status, &e.Mode, &e.NovelCount, &reason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Status = Status(status)
		if reason.Valid {
			e.Reason = reason.String
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
