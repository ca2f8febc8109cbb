package domain

import "fmt"

// ConfigError reports missing or invalid required configuration. It is fatal
// at startup; the process must not start the main loop.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// UpstreamError wraps auth, network, or payload failures from the portal.
// Recovered at contract or account granularity: the unit is logged and
// skipped, the cycle continues.
type UpstreamError struct {
	Op  string // portal operation, e.g. "login", "fetch_daily_data"
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream: %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PublishError wraps metrics-store write failures. Recovered at account-batch
// granularity: the batch is dropped with an error log, the cycle continues.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish: %v", e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
