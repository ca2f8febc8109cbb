// Package domain defines the core value types shared across the collector:
// accounts, contracts, daily and hourly usage records, and time-series
// points, plus the error kinds used to classify failures.
package domain

// Measurement names written to the metrics store.
const (
	MeasurementCost      = "cost"
	MeasurementEnergyKWh = "energy_kwh"
)

// Entity IDs tagged on points, naming the thing being measured.
const (
	EntityDailyBalance     = "daily_balance"
	EntityTotalConsumption = "total_consumption"
)

// DateLayout is the calendar-date format used by the upstream portal.
const DateLayout = "2006-01-02"

// PointTimeLayout renders point timestamps with microsecond precision and a
// literal "Z" suffix. Points are always UTC, so the zone pattern always
// collapses to "Z".
const PointTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Account holds one portal account's credentials and the contracts owed for
// it. Loaded once at startup; immutable for the process lifetime.
type Account struct {
	Username  string
	Password  string
	Contracts []Contract
}

// Contract identifies a single utility contract on an account.
type Contract struct {
	ID      string
	Address string
}

// DailySummary is the portal's usage summary for one calendar date.
type DailySummary struct {
	TotalConsumption   float64 // kWh
	AverageTemperature float64 // °C
	TotalCost          float64
}

// DailyData maps "YYYY-MM-DD" dates to their summaries. A missing date means
// the portal has not published that day yet; that is an expected state, not
// an error.
type DailyData map[string]DailySummary

// HourlyReading is one hour's consumption breakdown.
type HourlyReading struct {
	TotalConsumption      float64 // kWh
	HighPriceConsumption  float64 // kWh billed at the high rate
	AverageTemperature    float64
}

// HourlyData maps hour-of-day (0-23) to readings. Hours with no reading are
// simply absent.
type HourlyData map[int]HourlyReading

// PointTags identify what a point measures and which contract it belongs to.
type PointTags struct {
	EntityID string `json:"entity_id"`
	Contract string `json:"contract"`
}

// PointFields carry the measured value.
type PointFields struct {
	Value float64 `json:"value"`
}

// TimeSeriesPoint is one immutable datapoint ready for the metrics store.
// Time is always a UTC timestamp rendered with PointTimeLayout.
type TimeSeriesPoint struct {
	Measurement string      `json:"measurement"`
	Tags        PointTags   `json:"tags"`
	Time        string      `json:"time"`
	Fields      PointFields `json:"fields"`
}
