package collect

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"wattline/internal/domain"
	"wattline/internal/point"
	"wattline/internal/publish"
	"wattline/internal/upstream"
)

// Runner executes one collection cycle across all configured accounts. It
// holds no state between cycles; everything it needs from the portal is
// read fresh through a new client each time.
type Runner struct {
	accounts   []domain.Account
	factory    upstream.Factory
	writer     publish.Writer
	zone       *time.Location
	maxWorkers int

	now func() time.Time
	log *slog.Logger
}

// NewRunner wires a Runner. maxWorkers controls how many accounts are
// collected concurrently; 1 processes them sequentially.
func NewRunner(accounts []domain.Account, factory upstream.Factory, writer publish.Writer, zone *time.Location, maxWorkers int) *Runner {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Runner{
		accounts:   accounts,
		factory:    factory,
		writer:     writer,
		zone:       zone,
		maxWorkers: maxWorkers,
		now:        time.Now,
		log:        slog.Default().With("component", "collect"),
	}
}

// RunCycle performs one full pass over all accounts. Failures are contained
// to the account or contract they occur in; RunCycle itself never fails.
// Accounts share no mutable state, so they may be collected concurrently;
// each account still gets exactly one publish call.
func (r *Runner) RunCycle(ctx context.Context) {
	if r.maxWorkers == 1 || len(r.accounts) <= 1 {
		for _, acct := range r.accounts {
			r.collectAccount(ctx, acct)
		}
		return
	}

	acctCh := make(chan domain.Account, len(r.accounts))
	for _, acct := range r.accounts {
		acctCh <- acct
	}
	close(acctCh)

	var wg sync.WaitGroup
	workers := min(r.maxWorkers, len(r.accounts))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for acct := range acctCh {
				r.collectAccount(ctx, acct)
			}
		}()
	}
	wg.Wait()
}

// collectAccount gathers points for every contract on one account and
// publishes them as a single batch. The portal session is released
// unconditionally, even when a contract mid-account fails.
func (r *Runner) collectAccount(ctx context.Context, acct domain.Account) {
	cycleStart := r.now().UTC()
	log := r.log.With("account", acct.Username, "cycle", cycleStart.Format(time.RFC3339))

	client := r.factory(acct)
	defer client.CloseSession(ctx)

	if err := client.Login(ctx); err != nil {
		log.Error("login failed, skipping account this cycle", "err", err)
		return
	}

	// Typed lookup: one map built per cycle from the live contract list.
	live := make(map[string]domain.Contract)
	for _, c := range client.Contracts() {
		live[c.ID] = c
	}

	var batch []domain.TimeSeriesPoint
	for _, contract := range acct.Contracts {
		if _, ok := live[contract.ID]; !ok {
			log.Warn("contract not found on account", "contract", contract.ID)
			continue
		}

		pts, err := r.collectContract(ctx, client, contract.ID)
		if err != nil {
			log.Warn("contract skipped this cycle", "contract", contract.ID, "err", err)
			continue
		}
		batch = append(batch, pts...)
	}

	if err := r.writer.WritePoints(ctx, batch); err != nil {
		log.Error("batch dropped", "points", len(batch), "err", err)
	}
}

// collectContract builds the points for one contract: a balance point
// stamped with the resolved date, plus one consumption point per hour the
// portal reports for that date. Any upstream failure skips the whole
// contract; an unpublished date only skips the consumption points.
func (r *Runner) collectContract(ctx context.Context, client upstream.AccountClient, contractID string) ([]domain.TimeSeriesPoint, error) {
	if err := client.FetchCurrentPeriod(ctx, contractID); err != nil {
		return nil, err
	}

	yesterday := r.now().In(r.zone).AddDate(0, 0, -1).Format(domain.DateLayout)

	resolvedDate, _, ok, err := ResolveDailyDate(ctx, client, contractID, yesterday, r.zone)
	if err != nil {
		return nil, err
	}

	// Balance is a live account property, not date-indexed; it is written
	// even when no daily data resolved, labelled with the closest honest
	// date.
	balanceDate := resolvedDate
	if !ok {
		balanceDate = yesterday
		r.log.Debug("no daily data resolved, balance only", "contract", contractID, "preferred", yesterday)
	}

	balance, err := client.Balance(contractID)
	if err != nil {
		return nil, err
	}

	pts := []domain.TimeSeriesPoint{
		point.Build(domain.MeasurementCost, contractID, domain.EntityDailyBalance, balanceDate, 0, balance, r.zone),
	}

	if !ok {
		return pts, nil
	}

	// The hourly breakdown is a separate portal dataset; it can be absent
	// even when the daily summary exists.
	hourly, err := client.FetchHourlyData(ctx, contractID, resolvedDate)
	if err != nil {
		return nil, err
	}

	hours := make([]int, 0, len(hourly))
	for hour := range hourly {
		hours = append(hours, hour)
	}
	sort.Ints(hours)

	for _, hour := range hours {
		pts = append(pts, point.Build(
			domain.MeasurementEnergyKWh, contractID, domain.EntityTotalConsumption,
			resolvedDate, hour, hourly[hour].TotalConsumption, r.zone,
		))
	}
	return pts, nil
}
