package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"wattline/internal/domain"
	"wattline/internal/util"
)

// Compile-time interface check.
var _ AccountClient = (*PortalClient)(nil)

// PortalClient talks to the utility portal's customer-space JSON API for a
// single account. Each call carries the fixed per-call timeout configured on
// the embedded http.Client; there is no automatic retry except for login,
// which the portal is known to reject transiently during nightly
// maintenance windows.
type PortalClient struct {
	baseURL  string
	username string
	password string

	http    *http.Client
	limiter *util.RateLimiter
	log     *slog.Logger

	loginAttempts int
	loginBackoff  time.Duration

	token     string
	contracts []domain.Contract
	balances  map[string]float64
}

// NewPortalClient creates a client for one account. timeout applies to every
// portal call; ratePerMin paces requests.
func NewPortalClient(baseURL string, timeout time.Duration, ratePerMin int, acct domain.Account) *PortalClient {
	return &PortalClient{
		baseURL:  baseURL,
		username: acct.Username,
		password: acct.Password,
		http:     &http.Client{Timeout: timeout},
		limiter:  util.NewRateLimiter(ratePerMin),
		log:      slog.Default().With("component", "portal", "account", acct.Username),
		balances: make(map[string]float64),

		loginAttempts: 3,
		loginBackoff:  2 * time.Second,
	}
}

// ---------------------------------------------------------------------------
// Wire types (portal JSON payloads)
// ---------------------------------------------------------------------------

type sessionResponse struct {
	Token string `json:"token"`
}

type contractsResponse struct {
	Contracts []struct {
		ContractID string `json:"contract_id"`
		Address    string `json:"address"`
	} `json:"contracts"`
}

type periodResponse struct {
	Balance            float64 `json:"balance"`
	PeriodTotalDays    int     `json:"period_total_days"`
	PeriodConsumption  float64 `json:"period_consumption"`
	PeriodProjectedKWh float64 `json:"period_projected_kwh"`
}

type dailyResponse struct {
	Days []struct {
		Date               string  `json:"date"`
		TotalConsumption   float64 `json:"total_consumption"`
		AverageTemperature float64 `json:"average_temperature"`
		TotalCost          float64 `json:"total_cost"`
	} `json:"days"`
}

type hourlyResponse struct {
	Hours []struct {
		Hour                 int     `json:"hour"`
		TotalConsumption     float64 `json:"total_consumption"`
		HighPriceConsumption float64 `json:"high_price_consumption"`
		AverageTemperature   float64 `json:"average_temperature"`
	} `json:"hours"`
}

// ---------------------------------------------------------------------------
// AccountClient implementation
// ---------------------------------------------------------------------------

// Login authenticates against the portal and loads the live contract list.
// The session call is retried with backoff before giving up.
func (c *PortalClient) Login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return &domain.UpstreamError{Op: "login", Err: err}
	}

	var sess sessionResponse
	err = util.Retry(ctx, c.loginAttempts, c.loginBackoff, func() error {
		return c.postJSON(ctx, "/api/v1/session", body, &sess)
	})
	if err != nil {
		return &domain.UpstreamError{Op: "login", Err: err}
	}
	c.token = sess.Token

	var cr contractsResponse
	if err := c.getJSON(ctx, "/api/v1/contracts", nil, &cr); err != nil {
		return &domain.UpstreamError{Op: "list_contracts", Err: err}
	}

	c.contracts = c.contracts[:0]
	for _, raw := range cr.Contracts {
		c.contracts = append(c.contracts, domain.Contract{
			ID:      raw.ContractID,
			Address: raw.Address,
		})
	}

	c.log.Debug("session established", "contracts", len(c.contracts))
	return nil
}

// Contracts returns the live contracts loaded by Login.
func (c *PortalClient) Contracts() []domain.Contract {
	return c.contracts
}

// FetchCurrentPeriod refreshes current billing-period data for the contract
// and caches the reported balance.
func (c *PortalClient) FetchCurrentPeriod(ctx context.Context, contractID string) error {
	var pr periodResponse
	path := fmt.Sprintf("/api/v1/contracts/%s/period", url.PathEscape(contractID))
	if err := c.getJSON(ctx, path, nil, &pr); err != nil {
		return &domain.UpstreamError{Op: "fetch_current_period", Err: err}
	}
	c.balances[contractID] = pr.Balance
	return nil
}

// FetchDailyData returns daily summaries for [start, end] keyed by date.
func (c *PortalClient) FetchDailyData(ctx context.Context, contractID, start, end string) (domain.DailyData, error) {
	var dr dailyResponse
	path := fmt.Sprintf("/api/v1/contracts/%s/usage/daily", url.PathEscape(contractID))
	query := url.Values{"start": {start}, "end": {end}}
	if err := c.getJSON(ctx, path, query, &dr); err != nil {
		return nil, &domain.UpstreamError{Op: "fetch_daily_data", Err: err}
	}

	data := make(domain.DailyData, len(dr.Days))
	for _, day := range dr.Days {
		data[day.Date] = domain.DailySummary{
			TotalConsumption:   day.TotalConsumption,
			AverageTemperature: day.AverageTemperature,
			TotalCost:          day.TotalCost,
		}
	}
	return data, nil
}

// FetchHourlyData returns the hourly breakdown for one date keyed by hour.
func (c *PortalClient) FetchHourlyData(ctx context.Context, contractID, date string) (domain.HourlyData, error) {
	var hr hourlyResponse
	path := fmt.Sprintf("/api/v1/contracts/%s/usage/hourly", url.PathEscape(contractID))
	query := url.Values{"date": {date}}
	if err := c.getJSON(ctx, path, query, &hr); err != nil {
		return nil, &domain.UpstreamError{Op: "fetch_hourly_data", Err: err}
	}

	data := make(domain.HourlyData, len(hr.Hours))
	for _, h := range hr.Hours {
		data[h.Hour] = domain.HourlyReading{
			TotalConsumption:     h.TotalConsumption,
			HighPriceConsumption: h.HighPriceConsumption,
			AverageTemperature:   h.AverageTemperature,
		}
	}
	return data, nil
}

// Balance returns the balance cached by the last FetchCurrentPeriod.
func (c *PortalClient) Balance(contractID string) (float64, error) {
	balance, ok := c.balances[contractID]
	if !ok {
		return 0, &domain.UpstreamError{
			Op:  "get_balance",
			Err: fmt.Errorf("no current-period data for contract %s", contractID),
		}
	}
	return balance, nil
}

// CloseSession releases the portal session. Errors are logged, not
// returned: a leaked server-side session expires on its own.
func (c *PortalClient) CloseSession(ctx context.Context) error {
	if c.token == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v1/session", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("session close failed", "err", err)
		return nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	c.token = ""
	return nil
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

func (c *PortalClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *PortalClient) postJSON(ctx context.Context, path string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *PortalClient) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URL.Path, err)
	}
	return nil
}
