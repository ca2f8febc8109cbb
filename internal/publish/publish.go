// Package publish defines the point-writing capability consumed by the
// cycle runner, an InfluxDB implementation of it, and two optional local
// sinks: a Parquet archive of published points and a SQLite journal of
// batch outcomes.
package publish

import (
	"context"
	"log/slog"

	"wattline/internal/domain"
)

// Writer persists one account's batch of points. A batch is all-or-nothing:
// implementations must not partially apply it, and the cycle runner calls
// WritePoints at most once per account per cycle.
type Writer interface {
	WritePoints(ctx context.Context, points []domain.TimeSeriesPoint) error
}

// Recorder wraps a primary Writer with the optional local sinks. The
// archive and journal observe batches; they never affect whether the
// publish itself succeeds.
type Recorder struct {
	primary Writer
	archive *ParquetArchive // may be nil
	journal *Journal        // may be nil
	log     *slog.Logger
}

// Compile-time interface check.
var _ Writer = (*Recorder)(nil)

// NewRecorder wraps primary with the given sinks; archive and journal may
// each be nil.
func NewRecorder(primary Writer, archive *ParquetArchive, journal *Journal) *Recorder {
	return &Recorder{
		primary: primary,
		archive: archive,
		journal: journal,
		log:     slog.Default().With("component", "publish"),
	}
}

// WritePoints publishes the batch via the primary writer, then records the
// outcome. Sink failures are logged and swallowed: the batch has already
// been accepted or rejected by the metrics store at that point.
func (r *Recorder) WritePoints(ctx context.Context, points []domain.TimeSeriesPoint) error {
	err := r.primary.WritePoints(ctx, points)

	if r.archive != nil && err == nil && len(points) > 0 {
		if aerr := r.archive.Archive(ctx, points); aerr != nil {
			r.log.Warn("archiving published points failed", "points", len(points), "err", aerr)
		}
	}

	if r.journal != nil {
		if jerr := r.journal.Record(ctx, points, err); jerr != nil {
			r.log.Warn("journaling batch outcome failed", "err", jerr)
		}
	}

	return err
}
