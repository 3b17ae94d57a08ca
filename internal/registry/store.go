package registry

// #region imports
import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/muse-engine/internal/origin"
	"github.com/danielpatrickdp/muse-engine/internal/taxonomy"
)

// #endregion

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS discoveries (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	tier          TEXT NOT NULL,
	domain        TEXT NOT NULL,
	key           TEXT NOT NULL,
	name          TEXT NOT NULL,
	flagged_name  INTEGER NOT NULL DEFAULT 0,
	depth_json    TEXT NOT NULL,
	depth_pct     REAL NOT NULL,
	count         INTEGER NOT NULL DEFAULT 1,
	good          INTEGER NOT NULL DEFAULT 0,
	first_seen    TEXT NOT NULL,
	last_seen     TEXT NOT NULL,
	source_runs   TEXT NOT NULL DEFAULT '[]',
	UNIQUE (tier, domain, key)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_discoveries_tier_name
ON discoveries(tier, name);

CREATE INDEX IF NOT EXISTS idx_discoveries_domain
ON discoveries(domain);

CREATE TABLE IF NOT EXISTS run_acks (
	run_id      TEXT PRIMARY KEY,
	novel_count INTEGER NOT NULL,
	created_at  TEXT NOT NULL
);
`
// #endregion schema

// #region limits

// maxSourceRuns bounds the per-discovery run id sample for storage economy.
const maxSourceRuns = 16

// #endregion

// #region store-struct
// Store is the single owner of all discovery records. Every component reads
// through its query methods and writes through Upsert/UpsertBatch; no
// component caches a mutable copy across runs.
type Store struct {
	db      *sql.DB
	origins *origin.Table
}
// #endregion store-struct

// #region constructor
// NewStore opens the registry database and runs migrations. The origin table
// supplies key-space cardinalities for coverage queries.
// The pragmas ride on the DSN so every pooled connection carries them, and
// _txlock=immediate makes write transactions take the write lock up front
// instead of failing the deferred read-to-write upgrade under contention.
func NewStore(dbPath string, origins *origin.Table) (*Store, error) {
	dsn := "file:" + dbPath +
		"?_txlock=immediate" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, origins: origins}, nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. runlog).
func (s *Store) DB() *sql.DB {
	return s.db
}
// #endregion db-accessor

// #region upsert
// Upsert inserts a discovery or, if (tier, domain, key) already exists,
// atomically increments its count, refreshes last_seen, appends to the
// bounded run sample, and leaves name and breakdown untouched. Atomicity is
// enforced by the store's uniqueness constraint, not by check-then-insert:
// two racing writers converge on one row and one name.
func (s *Store) Upsert(d taxonomy.Discovery) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	novel, err := upsertTx(tx, d)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return novel, nil
}

func upsertTx(tx *sql.Tx, d taxonomy.Discovery) (bool, error) {
	depthJSON, err := json.Marshal(d.DepthBreakdown)
	if err != nil {
		return false, fmt.Errorf("marshal breakdown: %w", err)
	}
	runs := d.SourceRunIDs
	if len(runs) > maxSourceRuns {
		runs = runs[:maxSourceRuns]
	}
	runsJSON, err := json.Marshal(runs)
	if err != nil {
		return false, fmt.Errorf("marshal source runs: %w", err)
	}

	now := time.Now().UTC()
	firstSeen := d.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = now
	}
	lastSeen := d.LastSeen
	if lastSeen.IsZero() {
		lastSeen = now
	}
	flagged := 0
	if d.FlaggedName {
		flagged = 1
	}
	good := 0
	if d.Good {
		good = 1
	}

	var count int64
	err = tx.QueryRow(
		`INSERT INTO discoveries
		 (tier, domain, key, name, flagged_name, depth_json, depth_pct, count, good, first_seen, last_seen, source_runs)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)
		 ON CONFLICT(tier, domain, key) DO UPDATE SET
			count     = count + 1,
			last_seen = excluded.last_seen,
			good      = CASE WHEN excluded.good = 1 THEN 1 ELSE discoveries.good END
		 RETURNING count`,
		string(d.Tier), string(d.Domain), d.Key, d.Name, flagged,
		string(depthJSON), d.DepthPct, good,
		firstSeen.Format(time.RFC3339Nano), lastSeen.Format(time.RFC3339Nano),
		string(runsJSON),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("upsert discovery: %w", err)
	}

	novel := count == 1
	if !novel && len(d.SourceRunIDs) > 0 {
		if err := appendSourceRuns(tx, d, d.SourceRunIDs); err != nil {
			return false, err
		}
	}
	return novel, nil
}

func appendSourceRuns(tx *sql.Tx, d taxonomy.Discovery, ids []string) error {
	var runsStr string
	err := tx.QueryRow(
		`SELECT source_runs FROM discoveries WHERE tier = ? AND domain = ? AND key = ?`,
		string(d.Tier), string(d.Domain), d.Key,
	).Scan(&runsStr)
	if err != nil {
		return fmt.Errorf("read source runs: %w", err)
	}

	var runs []string
	if err := json.Unmarshal([]byte(runsStr), &runs); err != nil {
		return fmt.Errorf("unmarshal source runs: %w", err)
	}
	if len(runs) >= maxSourceRuns {
		return nil
	}
	for _, id := range ids {
		if len(runs) >= maxSourceRuns {
			break
		}
		runs = append(runs, id)
	}
	updated, err := json.Marshal(runs)
	if err != nil {
		return fmt.Errorf("marshal source runs: %w", err)
	}
	_, err = tx.Exec(
		`UPDATE discoveries SET source_runs = ? WHERE tier = ? AND domain = ? AND key = ?`,
		string(updated), string(d.Tier), string(d.Domain), d.Key,
	)
	if err != nil {
		return fmt.Errorf("update source runs: %w", err)
	}
	return nil
}
// #endregion upsert

// #region upsert-batch
// UpsertBatch writes one run's classified-and-scored discoveries in a single
// transaction, keyed on run id for idempotence: resubmitting the same run
// (e.g. after a retried ack) never double-counts. Returns novel discovery
// counts per tier and whether the run had already been acknowledged.
func (s *Store) UpsertBatch(runID string, ds []taxonomy.Discovery) (map[taxonomy.Tier]int, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seen int
	err = tx.QueryRow(`SELECT COUNT(*) FROM run_acks WHERE run_id = ?`, runID).Scan(&seen)
	if err != nil {
		return nil, false, fmt.Errorf("check ack: %w", err)
	}
	if seen > 0 {
		return nil, true, nil
	}

	novel := make(map[taxonomy.Tier]int)
	total := 0
	for _, d := range ds {
		isNovel, err := upsertTx(tx, d)
		if err != nil {
			return nil, false, err
		}
		if isNovel {
			novel[d.Tier]++
			total++
		}
	}

	_, err = tx.Exec(
		`INSERT INTO run_acks (run_id, novel_count, created_at) VALUES (?, ?, ?)`,
		runID, total, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert ack: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return novel, false, nil
}
// #endregion upsert-batch

// #region lookup
// Lookup returns the discovery for (tier, domain, key), or nil if absent.
func (s *Store) Lookup(tier taxonomy.Tier, domain taxonomy.Domain, key string) (*taxonomy.Discovery, error) {
	row := s.db.QueryRow(
		selectCols+` WHERE tier = ? AND domain = ? AND key = ?`,
		string(tier), string(domain), key,
	)
	d, err := scanDiscovery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s/%s/%s: %w", tier, domain, key, err)
	}
	return d, nil
}

// NameExists reports whether a name is already taken within a tier.
func (s *Store) NameExists(tier taxonomy.Tier, name string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM discoveries WHERE tier = ? AND name = ?`,
		string(tier), name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("name exists: %w", err)
	}
	return n > 0, nil
}
// #endregion lookup

// #region query-good
// QueryGood returns good discoveries for a (tier, domain) ordered to favor
// underused (low count) and recently discovered entries, which is the order
// the policy engine's weighted sampling expects.
func (s *Store) QueryGood(tier taxonomy.Tier, domain taxonomy.Domain, limit int) ([]taxonomy.Discovery, error) {
	rows, err := s.db.Query(
		selectCols+` WHERE tier = ? AND domain = ? AND good = 1
		 ORDER BY count ASC, first_seen DESC LIMIT ?`,
		string(tier), string(domain), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query good: %w", err)
	}
	defer rows.Close()
	return scanDiscoveries(rows)
}

// List returns a domain's discoveries ordered most-recently-seen first.
func (s *Store) List(domain taxonomy.Domain, limit int) ([]taxonomy.Discovery, error) {
	rows, err := s.db.Query(
		selectCols+` WHERE domain = ? ORDER BY last_seen DESC LIMIT ?`,
		string(domain), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list discoveries: %w", err)
	}
	defer rows.Close()
	return scanDiscoveries(rows)
}
// #endregion query-good

// #region coverage
// Coverage derives the per-domain coverage snapshot: distinct keys present
// over the bounded-finite key space. Snapshots are eventually consistent
// across workers and never stored durably.
func (s *Store) Coverage(domain taxonomy.Domain) (taxonomy.CoverageSnapshot, error) {
	var observed int64
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM discoveries WHERE domain = ?`, string(domain),
	).Scan(&observed)
	if err != nil {
		return taxonomy.CoverageSnapshot{}, fmt.Errorf("coverage count: %w", err)
	}

	space := s.origins.SpaceSize(domain)
	snap := taxonomy.CoverageSnapshot{
		Domain:             domain,
		ObservedCount:      observed,
		EstimatedSpaceSize: space,
	}
	if space > 0 {
		snap.CoveragePct = float64(observed) / float64(space) * 100
		if snap.CoveragePct > 100 {
			snap.CoveragePct = 100
		}
	}
	return snap, nil
}

// CoverageAll returns snapshots for every known domain in stable order.
func (s *Store) CoverageAll() ([]taxonomy.CoverageSnapshot, error) {
	var out []taxonomy.CoverageSnapshot
	for _, d := range taxonomy.AllDomains() {
		snap, err := s.Coverage(d)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}
// #endregion coverage

// #region scan
const selectCols = `SELECT tier, domain, key, name, flagged_name, depth_json,
 depth_pct, count, good, first_seen, last_seen, source_runs FROM discoveries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiscovery(row rowScanner) (*taxonomy.Discovery, error) {
	var d taxonomy.Discovery
	var tier, domain, depthJSON, firstStr, lastStr, runsJSON string
	var flagged, good int

	err := row.Scan(&tier, &domain, &d.Key, &d.Name, &flagged, &depthJSON,
		&d.DepthPct, &d.Count, &good, &firstStr, &lastStr, &runsJSON)
	if err != nil {
		return nil, err
	}

	d.Tier = taxonomy.Tier(tier)
	d.Domain = taxonomy.Domain(domain)
	d.FlaggedName = flagged == 1
	d.Good = good == 1
	if err := json.Unmarshal([]byte(depthJSON), &d.DepthBreakdown); err != nil {
		return nil, fmt.Errorf("unmarshal breakdown: %w", err)
	}
	if err := json.Unmarshal([]byte(runsJSON), &d.SourceRunIDs); err != nil {
		return nil, fmt.Errorf("unmarshal source runs: %w", err)
	}
	d.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstStr)
	d.LastSeen, _ = time.Parse(time.RFC3339Nano, lastStr)
	return &d, nil
}

func scanDiscoveries(rows *sql.Rows) ([]taxonomy.Discovery, error) {
	var out []taxonomy.Discovery
	for rows.Next() {
		d, err := scanDiscovery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
// #endregion scan

// #region transient
// IsTransient reports whether a store error is worth retrying with backoff:
// writer contention or timeouts, as opposed to constraint or logic errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "timeout")
}

// IsNameConflict reports whether an upsert hit the per-tier name uniqueness
// index: another writer committed the same name for a different key first.
// The caller regenerates the name and retries.
func IsNameConflict(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "discoveries.name")
}
// #endregion transient
