// Package report renders one contract's usage snapshot for humans, and
// offers a one-shot influx write of the same data for ad-hoc use outside
// the daemon.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"wattline/internal/collect"
	"wattline/internal/domain"
	"wattline/internal/point"
	"wattline/internal/publish"
	"wattline/internal/upstream"
)

// ErrNotImplemented is returned by the JSON formatter, which is reserved but
// not built yet.
var ErrNotImplemented = errors.New("report: json output not implemented")

// Data is the usage snapshot the formatters render.
type Data struct {
	ContractID string
	Balance    float64
	Date       string // resolved date, may be older than yesterday
	HasDaily   bool
	Daily      domain.DailySummary
	Hourly     domain.HourlyData
}

// Collect gathers the snapshot for one contract through an authenticated
// client, resolving the usable date the same way the daemon does.
func Collect(ctx context.Context, client upstream.AccountClient, contractID string, zone *time.Location) (*Data, error) {
	if err := client.FetchCurrentPeriod(ctx, contractID); err != nil {
		return nil, err
	}

	balance, err := client.Balance(contractID)
	if err != nil {
		return nil, err
	}

	yesterday := time.Now().In(zone).AddDate(0, 0, -1).Format(domain.DateLayout)
	date, daily, ok, err := collect.ResolveDailyDate(ctx, client, contractID, yesterday, zone)
	if err != nil {
		return nil, err
	}

	data := &Data{
		ContractID: contractID,
		Balance:    balance,
		Date:       yesterday,
		HasDaily:   ok,
	}
	if !ok {
		return data, nil
	}

	data.Date = date
	data.Daily = daily

	hourly, err := client.FetchHourlyData(ctx, contractID, date)
	if err != nil {
		return nil, err
	}
	data.Hourly = hourly
	return data, nil
}

// Text writes a readable report. showHourly appends the per-hour table.
func Text(w io.Writer, d *Data, showHourly bool) error {
	fmt.Fprintf(w, "Contract: %s\n", d.ContractID)
	fmt.Fprintf(w, "Balance: %.2f $\n", d.Balance)

	if !d.HasDaily {
		fmt.Fprintf(w, "\nNo daily data published for %s or the day before.\n", d.Date)
		return nil
	}

	fmt.Fprintf(w, "\nDaily usage for %s\n", d.Date)
	fmt.Fprintf(w, "  Consumption: %8.2f kWh\n", d.Daily.TotalConsumption)
	fmt.Fprintf(w, "  Cost:        %8.2f $\n", d.Daily.TotalCost)
	fmt.Fprintf(w, "  Avg temp:    %8.1f C\n", d.Daily.AverageTemperature)

	if !showHourly || len(d.Hourly) == 0 {
		return nil
	}

	fmt.Fprintf(w, "\n  Hour   Consumption (kWh)   High-price (kWh)\n")
	hours := make([]int, 0, len(d.Hourly))
	for hour := range d.Hourly {
		hours = append(hours, hour)
	}
	sort.Ints(hours)
	for _, hour := range hours {
		r := d.Hourly[hour]
		fmt.Fprintf(w, "  %02d:00  %17.2f   %16.2f\n", hour, r.TotalConsumption, r.HighPriceConsumption)
	}
	return nil
}

// JSON is reserved for machine-readable output.
func JSON(io.Writer, *Data) error {
	return ErrNotImplemented
}

// Influx builds the snapshot's points and writes them as one batch, exactly
// the shape the daemon publishes.
func Influx(ctx context.Context, writer publish.Writer, d *Data, zone *time.Location) error {
	points := []domain.TimeSeriesPoint{
		point.Build(domain.MeasurementCost, d.ContractID, domain.EntityDailyBalance, d.Date, 0, d.Balance, zone),
	}

	hours := make([]int, 0, len(d.Hourly))
	for hour := range d.Hourly {
		hours = append(hours, hour)
	}
	sort.Ints(hours)
	for _, hour := range hours {
		points = append(points, point.Build(
			domain.MeasurementEnergyKWh, d.ContractID, domain.EntityTotalConsumption,
			d.Date, hour, d.Hourly[hour].TotalConsumption, zone,
		))
	}

	return writer.WritePoints(ctx, points)
}
