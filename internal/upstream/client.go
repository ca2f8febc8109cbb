// Package upstream defines the account-client capability the collector
// consumes, and the HTTP client for the utility portal that implements it.
package upstream

import (
	"context"

	"wattline/internal/domain"
)

// AccountClient is one account-bound session against the upstream portal.
// A client is created fresh for each collection cycle, used, and closed;
// it is not reused across cycles.
type AccountClient interface {
	// Login establishes an authenticated session and loads the account's
	// live contract list.
	Login(ctx context.Context) error

	// Contracts returns the live contracts on the account. Valid only
	// after a successful Login.
	Contracts() []domain.Contract

	// FetchCurrentPeriod refreshes current billing-period data for the
	// contract, including the live account balance.
	FetchCurrentPeriod(ctx context.Context, contractID string) error

	// FetchDailyData returns daily usage summaries for [start, end],
	// keyed by date. Dates the portal has not published are absent.
	FetchDailyData(ctx context.Context, contractID, start, end string) (domain.DailyData, error)

	// FetchHourlyData returns the hourly breakdown for one date, keyed by
	// hour of day. Returns an empty map when the breakdown does not exist
	// yet.
	FetchHourlyData(ctx context.Context, contractID, date string) (domain.HourlyData, error)

	// Balance returns the account balance for the contract as reported by
	// the last FetchCurrentPeriod.
	Balance(contractID string) (float64, error)

	// CloseSession releases the portal session. Safe to call after a
	// failed Login.
	CloseSession(ctx context.Context) error
}

// Factory builds a fresh AccountClient for one account. The cycle runner
// calls it once per account per cycle.
type Factory func(acct domain.Account) AccountClient
