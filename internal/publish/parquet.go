package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"wattline/internal/domain"
)

// ParquetArchive keeps a local columnar copy of every published point, one
// Parquet file per source-timezone calendar date. It exists for offline
// inspection and replay; the metrics store remains the system of record.
type ParquetArchive struct {
	DataDir string
}

// NewParquetArchive creates an archive rooted at the given data directory.
func NewParquetArchive(dataDir string) *ParquetArchive {
	return &ParquetArchive{DataDir: dataDir}
}

// PointRecord is the Parquet schema for archived points.
type PointRecord struct {
	Measurement string  `parquet:"measurement"`
	EntityID    string  `parquet:"entity_id"`
	Contract    string  `parquet:"contract"`
	Timestamp   int64   `parquet:"timestamp,timestamp(microsecond)"` // Unix µs
	Value       float64 `parquet:"value"`
}

// Archive appends the points to their per-date files, merging with any
// records already present. Re-archiving an identical batch is a no-op.
func (a *ParquetArchive) Archive(_ context.Context, points []domain.TimeSeriesPoint) error {
	if len(points) == 0 {
		return nil
	}

	groups := make(map[string][]PointRecord)
	for _, p := range points {
		ts, err := time.Parse(domain.PointTimeLayout, p.Time)
		if err != nil {
			panic(fmt.Sprintf("publish: point with malformed timestamp %q: %v", p.Time, err))
		}
		date := ts.UTC().Format(domain.DateLayout)
		groups[date] = append(groups[date], PointRecord{
			Measurement: p.Measurement,
			EntityID:    p.Tags.EntityID,
			Contract:    p.Tags.Contract,
			Timestamp:   ts.UnixMicro(),
			Value:       p.Fields.Value,
		})
	}

	for date, records := range groups {
		path := a.pointPath(date)

		// Read existing records to merge.
		existing, _ := readParquetFile[PointRecord](path)
		merged := mergePointRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("archiving points for %s: %w", date, err)
		}
	}
	return nil
}

// Read returns the archived points for the given UTC dates, inclusive.
func (a *ParquetArchive) Read(_ context.Context, start, end time.Time) ([]PointRecord, error) {
	var out []PointRecord
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		path := a.pointPath(d.Format(domain.DateLayout))
		records, err := readParquetFile[PointRecord](path)
		if err != nil {
			// No file for this date — skip.
			continue
		}
		out = append(out, records...)
	}
	return out, nil
}

// pointPath returns the filesystem path for one date's archive file.
// Layout: <dataDir>/points/<YYYY-MM-DD>.parquet
func (a *ParquetArchive) pointPath(date string) string {
	return filepath.Join(a.DataDir, "points", date+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergePointRecords deduplicates records by (measurement, entity, contract,
// timestamp), preferring new records over existing ones. Results are sorted
// by timestamp.
func mergePointRecords(existing, incoming []PointRecord) []PointRecord {
	type key struct {
		measurement string
		entity      string
		contract    string
		ts          int64
	}
	seen := make(map[key]PointRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Measurement, r.EntityID, r.Contract, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Measurement, r.EntityID, r.Contract, r.Timestamp}] = r
	}

	merged := make([]PointRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].EntityID < merged[j].EntityID
	})
	return merged
}
