package publish

import (
	"context"
	"fmt"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	"wattline/internal/domain"
)

// Compile-time interface check.
var _ Writer = (*InfluxWriter)(nil)

// InfluxWriter publishes point batches to an InfluxDB 1.x database over its
// HTTP write API. One batch maps to one write call; there is no retry here.
type InfluxWriter struct {
	client   client.Client
	database string
}

// NewInfluxWriter connects to InfluxDB at addr (e.g. "http://localhost:8086")
// and verifies the server is reachable before returning.
func NewInfluxWriter(addr, username, password, database string, timeout time.Duration) (*InfluxWriter, error) {
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     addr,
		Username: username,
		Password: password,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating influxdb client: %w", err)
	}

	if _, _, err := c.Ping(timeout); err != nil {
		c.Close()
		return nil, fmt.Errorf("pinging influxdb at %s: %w", addr, err)
	}

	return &InfluxWriter{client: c, database: database}, nil
}

// WritePoints submits the batch as a single InfluxDB write. Any failure
// surfaces as a PublishError; the caller drops the batch.
func (w *InfluxWriter) WritePoints(ctx context.Context, points []domain.TimeSeriesPoint) error {
	if len(points) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &domain.PublishError{Err: err}
	}

	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  w.database,
		Precision: "u",
	})
	if err != nil {
		return &domain.PublishError{Err: err}
	}

	for _, p := range points {
		bp.AddPoint(toInfluxPoint(p))
	}

	if err := w.client.Write(bp); err != nil {
		return &domain.PublishError{Err: err}
	}
	return nil
}

// Close releases the underlying HTTP client.
func (w *InfluxWriter) Close() error {
	return w.client.Close()
}

// toInfluxPoint converts a domain point to the client's representation. The
// point's timestamp was rendered by the builder; failing to parse it back is
// a programmer error.
func toInfluxPoint(p domain.TimeSeriesPoint) *client.Point {
	ts, err := time.Parse(domain.PointTimeLayout, p.Time)
	if err != nil {
		panic(fmt.Sprintf("publish: point with malformed timestamp %q: %v", p.Time, err))
	}

	pt, err := client.NewPoint(
		p.Measurement,
		map[string]string{
			"entity_id": p.Tags.EntityID,
			"contract":  p.Tags.Contract,
		},
		map[string]interface{}{
			"value": p.Fields.Value,
		},
		ts,
	)
	if err != nil {
		panic(fmt.Sprintf("publish: building influx point: %v", err))
	}
	return pt
}
