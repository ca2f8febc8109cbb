// Package collect implements one collection cycle: resolving which calendar
// date's usage data is actually available, building the point batch for each
// account, and handing batches to the publisher.
package collect

import (
	"context"
	"time"

	"wattline/internal/domain"
	"wattline/internal/upstream"
)

// ResolveDailyDate determines the most recent date at or before preferred
// for which the portal has published daily data. It requests preferred
// first; if that day is absent it steps back exactly one calendar day and
// retries once. Deeper gaps return ok=false: the portal takes up to a day
// to publish usage, and anything older than that is a data problem the
// collector should not paper over.
//
// The error return carries upstream failures only; an absent date is not an
// error.
func ResolveDailyDate(ctx context.Context, client upstream.AccountClient, contractID, preferred string, zone *time.Location) (string, domain.DailySummary, bool, error) {
	date := preferred
	for attempt := 0; attempt < 2; attempt++ {
		data, err := client.FetchDailyData(ctx, contractID, date, date)
		if err != nil {
			return "", domain.DailySummary{}, false, err
		}
		if summary, ok := data[date]; ok {
			return date, summary, true, nil
		}
		date = previousDay(date, zone)
	}
	return "", domain.DailySummary{}, false, nil
}

// previousDay steps a portal-labelled calendar date back by one day. A date
// that fails to parse here came from our own formatting, so it panics.
func previousDay(date string, zone *time.Location) string {
	day, err := time.ParseInLocation(domain.DateLayout, date, zone)
	if err != nil {
		panic("collect: malformed date " + date + ": " + err.Error())
	}
	return day.AddDate(0, 0, -1).Format(domain.DateLayout)
}
