package backtest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"signalboard/internal/platform/engineapi"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

// Defaults applied by the analytics backend when a field is omitted.
const (
	DefaultInitialCapital = 100000.0
	DefaultFeeBps         = 10.0
	DefaultSlippageBps    = 8.0
)

// ErrInvalidParams wraps every validation failure of Params.
var ErrInvalidParams = errors.New("invalid backtest parameters")

// Params is the user-facing request for a backtest run. Dates are
// YYYY-MM-DD.
type Params struct {
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
	InitialCapital float64  `json:"initial_capital"`
	FeeBps         *float64 `json:"fee_bps,omitempty"`
	SlippageBps    *float64 `json:"slippage_bps,omitempty"`
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidParams, fmt.Sprintf(format, args...))
}

func parseDate(field, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, invalid("%s is required", field)
	}
	d, err := time.Parse(openapi_types.DateFormat, v)
	if err != nil {
		return time.Time{}, invalid("%s must be YYYY-MM-DD, got %q", field, v)
	}
	return d, nil
}

// Request validates p, fills in the backend defaults and returns the wire
// request.
func (p Params) Request() (engineapi.BacktestCreateRequest, error) {
	start, err := parseDate("start_date", p.StartDate)
	if err != nil {
		return engineapi.BacktestCreateRequest{}, err
	}
	end, err := parseDate("end_date", p.EndDate)
	if err != nil {
		return engineapi.BacktestCreateRequest{}, err
	}
	if !start.Before(end) {
		return engineapi.BacktestCreateRequest{}, invalid("start_date %s must be before end_date %s", p.StartDate, p.EndDate)
	}

	capital := p.InitialCapital
	if capital == 0 {
		capital = DefaultInitialCapital
	}
	if capital < 0 {
		return engineapi.BacktestCreateRequest{}, invalid("initial_capital must be positive")
	}

	fee := DefaultFeeBps
	if p.FeeBps != nil {
		fee = *p.FeeBps
	}
	slippage := DefaultSlippageBps
	if p.SlippageBps != nil {
		slippage = *p.SlippageBps
	}
	if fee < 0 || slippage < 0 {
		return engineapi.BacktestCreateRequest{}, invalid("fee_bps and slippage_bps must not be negative")
	}

	return engineapi.BacktestCreateRequest{
		StartDate:      openapi_types.Date{Time: start},
		EndDate:        openapi_types.Date{Time: end},
		InitialCapital: capital,
		FeeBps:         &fee,
		SlippageBps:    &slippage,
	}, nil
}

// Validate reports whether p would produce a valid request.
func (p Params) Validate() error {
	_, err := p.Request()
	return err
}
