package publish

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"wattline/internal/domain"
)

// Journal records one row per account batch per cycle in a local SQLite
// database, including dropped batches, so operators can reconcile what was
// published against upstream state after the fact.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// BatchOutcome is one journal row.
type BatchOutcome struct {
	RecordedAt time.Time
	Contracts  string // comma-joined distinct contract IDs in the batch
	Points     int
	Status     string // "published" or "dropped"
	Error      string // empty when published
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS batch_outcomes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at TEXT    NOT NULL,
	contracts   TEXT    NOT NULL,
	points      INTEGER NOT NULL,
	status      TEXT    NOT NULL,
	error       TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_batch_outcomes_recorded_at
	ON batch_outcomes (recorded_at);
`

// OpenJournal opens (or creates) the journal database at dbPath and ensures
// the schema exists.
func OpenJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening journal db: %w", err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record inserts one outcome row for the batch. publishErr is the result of
// the publish call, nil on success.
func (j *Journal) Record(ctx context.Context, points []domain.TimeSeriesPoint, publishErr error) error {
	status := "published"
	errText := ""
	if publishErr != nil {
		status = "dropped"
		errText = publishErr.Error()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO batch_outcomes (recorded_at, contracts, points, status, error)
		 VALUES (?, ?, ?, ?, ?)`,
		j.now().UTC().Format(time.RFC3339),
		contractList(points),
		len(points),
		status,
		errText,
	)
	if err != nil {
		return fmt.Errorf("inserting batch outcome: %w", err)
	}
	return nil
}

// Recent returns the most recent outcomes, newest first, up to limit.
func (j *Journal) Recent(ctx context.Context, limit int) ([]BatchOutcome, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT recorded_at, contracts, points, status, error
		 FROM batch_outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying batch outcomes: %w", err)
	}
	defer rows.Close()

	var out []BatchOutcome
	for rows.Next() {
		var o BatchOutcome
		var recordedAt string
		if err := rows.Scan(&recordedAt, &o.Contracts, &o.Points, &o.Status, &o.Error); err != nil {
			return nil, fmt.Errorf("scanning batch outcome: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, recordedAt); err == nil {
			o.RecordedAt = ts
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// contractList renders the distinct contract IDs in a batch, sorted.
func contractList(points []domain.TimeSeriesPoint) string {
	seen := make(map[string]struct{})
	for _, p := range points {
		seen[p.Tags.Contract] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}
