package collect

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"wattline/internal/domain"
	"wattline/internal/point"
	"wattline/internal/publish"
	"wattline/internal/upstream"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeAccountClient struct {
	contracts []domain.Contract
	daily     map[string]map[string]domain.DailySummary // contract → date → summary
	hourly    map[string]map[string]domain.HourlyData   // contract → date → readings
	balances  map[string]float64

	loginErr  error
	periodErr map[string]error
	dailyErr  map[string]error
	hourlyErr map[string]error

	dailyRequests []string
	closeCalls    int
}

func (f *fakeAccountClient) Login(context.Context) error { return f.loginErr }

func (f *fakeAccountClient) Contracts() []domain.Contract { return f.contracts }

func (f *fakeAccountClient) FetchCurrentPeriod(_ context.Context, contractID string) error {
	return f.periodErr[contractID]
}

func (f *fakeAccountClient) FetchDailyData(_ context.Context, contractID, start, _ string) (domain.DailyData, error) {
	f.dailyRequests = append(f.dailyRequests, start)
	if err := f.dailyErr[contractID]; err != nil {
		return nil, err
	}
	out := domain.DailyData{}
	if summary, ok := f.daily[contractID][start]; ok {
		out[start] = summary
	}
	return out, nil
}

func (f *fakeAccountClient) FetchHourlyData(_ context.Context, contractID, date string) (domain.HourlyData, error) {
	if err := f.hourlyErr[contractID]; err != nil {
		return nil, err
	}
	return f.hourly[contractID][date], nil
}

func (f *fakeAccountClient) Balance(contractID string) (float64, error) {
	balance, ok := f.balances[contractID]
	if !ok {
		return 0, &domain.UpstreamError{Op: "get_balance", Err: errors.New("no current-period data")}
	}
	return balance, nil
}

func (f *fakeAccountClient) CloseSession(context.Context) error {
	f.closeCalls++
	return nil
}

type fakeWriter struct {
	batches [][]domain.TimeSeriesPoint
	err     error
}

func (w *fakeWriter) WritePoints(_ context.Context, points []domain.TimeSeriesPoint) error {
	w.batches = append(w.batches, points)
	return w.err
}

// fixedNow is 12:00 UTC on 2024-01-16; yesterday in UTC-4 is 2024-01-15.
var fixedNow = time.Date(2024, 1, 16, 12, 0, 0, 0, time.UTC)

var testZone = point.SourceZone(-4)

type syncWriter struct {
	mu      sync.Mutex
	batches [][]domain.TimeSeriesPoint
}

func (w *syncWriter) WritePoints(_ context.Context, points []domain.TimeSeriesPoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, points)
	return nil
}

func (w *syncWriter) calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batches)
}

func newTestRunner(clients map[string]*fakeAccountClient, accounts []domain.Account, writer publish.Writer, workers int) *Runner {
	factory := func(acct domain.Account) upstream.AccountClient {
		return clients[acct.Username]
	}
	r := NewRunner(accounts, factory, writer, testZone, workers)
	r.now = func() time.Time { return fixedNow }
	return r
}

// ---------------------------------------------------------------------------
// Resolver
// ---------------------------------------------------------------------------

func TestResolveDailyDatePreferredPresent(t *testing.T) {
	client := &fakeAccountClient{
		daily: map[string]map[string]domain.DailySummary{
			"111": {"2024-01-15": {TotalConsumption: 42.5}},
		},
	}

	date, summary, ok, err := ResolveDailyDate(context.Background(), client, "111", "2024-01-15", testZone)
	if err != nil {
		t.Fatalf("ResolveDailyDate failed: %v", err)
	}
	if !ok {
		t.Fatal("expected data for the preferred date")
	}
	if date != "2024-01-15" {
		t.Errorf("resolved date = %q, want %q", date, "2024-01-15")
	}
	if summary.TotalConsumption != 42.5 {
		t.Errorf("summary.TotalConsumption = %v, want 42.5", summary.TotalConsumption)
	}
}

func TestResolveDailyDateFallbackSuccess(t *testing.T) {
	client := &fakeAccountClient{
		daily: map[string]map[string]domain.DailySummary{
			"111": {"2024-01-14": {TotalConsumption: 39.1}},
		},
	}

	date, _, ok, err := ResolveDailyDate(context.Background(), client, "111", "2024-01-15", testZone)
	if err != nil {
		t.Fatalf("ResolveDailyDate failed: %v", err)
	}
	if !ok {
		t.Fatal("expected fallback to find the previous day")
	}
	if date != "2024-01-14" {
		t.Errorf("resolved date = %q, want %q", date, "2024-01-14")
	}
}

func TestResolveDailyDateFallbackBound(t *testing.T) {
	// Data exists only two days back; the resolver must not search that far.
	client := &fakeAccountClient{
		daily: map[string]map[string]domain.DailySummary{
			"111": {"2024-01-13": {TotalConsumption: 37.0}},
		},
	}

	_, _, ok, err := ResolveDailyDate(context.Background(), client, "111", "2024-01-15", testZone)
	if err != nil {
		t.Fatalf("ResolveDailyDate failed: %v", err)
	}
	if ok {
		t.Error("resolver searched beyond the one-day fallback")
	}
	want := []string{"2024-01-15", "2024-01-14"}
	if !reflect.DeepEqual(client.dailyRequests, want) {
		t.Errorf("daily requests = %v, want %v", client.dailyRequests, want)
	}
}

func TestResolveDailyDateUpstreamError(t *testing.T) {
	cause := &domain.UpstreamError{Op: "fetch_daily_data", Err: errors.New("timeout")}
	client := &fakeAccountClient{dailyErr: map[string]error{"111": cause}}

	_, _, _, err := ResolveDailyDate(context.Background(), client, "111", "2024-01-15", testZone)
	if !errors.Is(err, cause) {
		t.Errorf("ResolveDailyDate error = %v, want the upstream cause", err)
	}
}

// ---------------------------------------------------------------------------
// Cycle runner
// ---------------------------------------------------------------------------

func healthyClient() *fakeAccountClient {
	return &fakeAccountClient{
		contracts: []domain.Contract{{ID: "111"}, {ID: "222"}},
		daily: map[string]map[string]domain.DailySummary{
			"111": {"2024-01-15": {TotalConsumption: 42.5}},
			"222": {"2024-01-15": {TotalConsumption: 18.2}},
		},
		hourly: map[string]map[string]domain.HourlyData{
			"111": {"2024-01-15": {0: {TotalConsumption: 1.2}, 5: {TotalConsumption: 2.4}}},
			"222": {"2024-01-15": {3: {TotalConsumption: 0.7}}},
		},
		balances: map[string]float64{"111": 133.70, "222": 45.10},
	}
}

func TestRunCycleBuildsExpectedBatch(t *testing.T) {
	client := healthyClient()
	writer := &fakeWriter{}
	accounts := []domain.Account{{
		Username:  "alice",
		Contracts: []domain.Contract{{ID: "111"}, {ID: "222"}},
	}}
	runner := newTestRunner(map[string]*fakeAccountClient{"alice": client}, accounts, writer, 1)

	runner.RunCycle(context.Background())

	if len(writer.batches) != 1 {
		t.Fatalf("publish calls = %d, want 1", len(writer.batches))
	}
	batch := writer.batches[0]
	// Two balance points + three hourly points.
	if len(batch) != 5 {
		t.Fatalf("len(batch) = %d, want 5", len(batch))
	}

	// Balance point for contract 111: resolved date midnight UTC-4.
	bal := batch[0]
	if bal.Measurement != domain.MeasurementCost || bal.Tags.Contract != "111" {
		t.Errorf("batch[0] = %+v, want cost point for contract 111", bal)
	}
	if bal.Time != "2024-01-15T04:00:00.000000Z" {
		t.Errorf("balance point time = %q, want 2024-01-15T04:00:00.000000Z", bal.Time)
	}
	if bal.Fields.Value != 133.70 {
		t.Errorf("balance point value = %v, want 133.70", bal.Fields.Value)
	}

	// Hourly point at hour 5 is 09:00 UTC.
	hour5 := batch[2]
	if hour5.Measurement != domain.MeasurementEnergyKWh || hour5.Time != "2024-01-15T09:00:00.000000Z" {
		t.Errorf("batch[2] = %+v, want energy point at 09:00Z", hour5)
	}

	if client.closeCalls != 1 {
		t.Errorf("closeCalls = %d, want 1", client.closeCalls)
	}
}

func TestRunCyclePartialFailureIsolation(t *testing.T) {
	// Contract 222 fails its current-period refresh; 111's points must
	// survive and the account's publish call must still happen.
	client := healthyClient()
	client.periodErr = map[string]error{
		"222": &domain.UpstreamError{Op: "fetch_current_period", Err: errors.New("502")},
	}
	writer := &fakeWriter{}
	accounts := []domain.Account{{
		Username:  "alice",
		Contracts: []domain.Contract{{ID: "111"}, {ID: "222"}},
	}}
	runner := newTestRunner(map[string]*fakeAccountClient{"alice": client}, accounts, writer, 1)

	runner.RunCycle(context.Background())

	if len(writer.batches) != 1 {
		t.Fatalf("publish calls = %d, want 1", len(writer.batches))
	}
	batch := writer.batches[0]
	if len(batch) != 3 {
		t.Fatalf("len(batch) = %d, want 3 (contract 111 only)", len(batch))
	}
	for _, p := range batch {
		if p.Tags.Contract != "111" {
			t.Errorf("point for contract %q leaked into batch", p.Tags.Contract)
		}
	}
	if client.closeCalls != 1 {
		t.Errorf("closeCalls = %d, want 1 (session released despite failure)", client.closeCalls)
	}
}

func TestRunCycleMissingContractSkipped(t *testing.T) {
	client := healthyClient()
	writer := &fakeWriter{}
	accounts := []domain.Account{{
		Username:  "alice",
		Contracts: []domain.Contract{{ID: "111"}, {ID: "999"}}, // 999 not on the account
	}}
	runner := newTestRunner(map[string]*fakeAccountClient{"alice": client}, accounts, writer, 1)

	runner.RunCycle(context.Background())

	if len(writer.batches) != 1 {
		t.Fatalf("publish calls = %d, want 1", len(writer.batches))
	}
	for _, p := range writer.batches[0] {
		if p.Tags.Contract == "999" {
			t.Error("points built for a contract the portal does not know")
		}
	}
}

func TestRunCycleLoginFailureSkipsAccountOnly(t *testing.T) {
	broken := healthyClient()
	broken.loginErr = &domain.UpstreamError{Op: "login", Err: errors.New("bad credentials")}
	healthy := healthyClient()

	writer := &fakeWriter{}
	accounts := []domain.Account{
		{Username: "alice", Contracts: []domain.Contract{{ID: "111"}}},
		{Username: "bob", Contracts: []domain.Contract{{ID: "111"}}},
	}
	clients := map[string]*fakeAccountClient{"alice": broken, "bob": healthy}
	runner := newTestRunner(clients, accounts, writer, 1)

	runner.RunCycle(context.Background())

	// Only bob's batch is published; alice's session is still released.
	if len(writer.batches) != 1 {
		t.Fatalf("publish calls = %d, want 1", len(writer.batches))
	}
	if broken.closeCalls != 1 {
		t.Errorf("failed account closeCalls = %d, want 1", broken.closeCalls)
	}
}

func TestRunCycleBatchPerAccount(t *testing.T) {
	writer := &fakeWriter{}
	accounts := []domain.Account{
		{Username: "alice", Contracts: []domain.Contract{{ID: "111"}}},
		{Username: "bob", Contracts: []domain.Contract{{ID: "222"}}},
	}
	clients := map[string]*fakeAccountClient{"alice": healthyClient(), "bob": healthyClient()}
	runner := newTestRunner(clients, accounts, writer, 1)

	runner.RunCycle(context.Background())

	if len(writer.batches) != 2 {
		t.Fatalf("publish calls = %d, want 2 (one per account)", len(writer.batches))
	}
	for i, batch := range writer.batches {
		contracts := make(map[string]struct{})
		for _, p := range batch {
			contracts[p.Tags.Contract] = struct{}{}
		}
		if len(contracts) != 1 {
			t.Errorf("batch %d mixes contracts from different accounts: %v", i, contracts)
		}
	}
}

func TestRunCycleNoDailyDataStillWritesBalance(t *testing.T) {
	client := healthyClient()
	client.daily = map[string]map[string]domain.DailySummary{} // nothing published yet
	writer := &fakeWriter{}
	accounts := []domain.Account{{
		Username:  "alice",
		Contracts: []domain.Contract{{ID: "111"}},
	}}
	runner := newTestRunner(map[string]*fakeAccountClient{"alice": client}, accounts, writer, 1)

	runner.RunCycle(context.Background())

	if len(writer.batches) != 1 {
		t.Fatalf("publish calls = %d, want 1", len(writer.batches))
	}
	batch := writer.batches[0]
	if len(batch) != 1 {
		t.Fatalf("len(batch) = %d, want 1 (balance only)", len(batch))
	}
	if batch[0].Measurement != domain.MeasurementCost {
		t.Errorf("lone point measurement = %q, want cost", batch[0].Measurement)
	}
	// Labelled with the preferred date (yesterday) at midnight UTC-4.
	if batch[0].Time != "2024-01-15T04:00:00.000000Z" {
		t.Errorf("balance point time = %q, want 2024-01-15T04:00:00.000000Z", batch[0].Time)
	}
}

func TestRunCycleIdempotentBatches(t *testing.T) {
	writer := &fakeWriter{}
	accounts := []domain.Account{{
		Username:  "alice",
		Contracts: []domain.Contract{{ID: "111"}, {ID: "222"}},
	}}
	clients := map[string]*fakeAccountClient{"alice": healthyClient()}
	runner := newTestRunner(clients, accounts, writer, 1)

	runner.RunCycle(context.Background())
	runner.RunCycle(context.Background())

	if len(writer.batches) != 2 {
		t.Fatalf("publish calls = %d, want 2", len(writer.batches))
	}
	if !reflect.DeepEqual(writer.batches[0], writer.batches[1]) {
		t.Errorf("identical upstream responses produced different batches:\n%v\n%v",
			writer.batches[0], writer.batches[1])
	}
}

func TestRunCycleParallelAccounts(t *testing.T) {
	writer := &syncWriter{}
	accounts := []domain.Account{
		{Username: "alice", Contracts: []domain.Contract{{ID: "111"}}},
		{Username: "bob", Contracts: []domain.Contract{{ID: "222"}}},
		{Username: "carol", Contracts: []domain.Contract{{ID: "111"}}},
	}
	clients := map[string]*fakeAccountClient{
		"alice": healthyClient(), "bob": healthyClient(), "carol": healthyClient(),
	}
	runner := newTestRunner(clients, accounts, writer, 3)

	runner.RunCycle(context.Background())

	if writer.calls() != 3 {
		t.Errorf("publish calls = %d, want 3 (one per account)", writer.calls())
	}
}
