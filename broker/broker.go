// Package broker defines the narrow contract the core consumes from the
// brokerage collaborator. The connection itself (auth, socket lifecycle,
// reconnects) lives behind these interfaces so the core can be tested
// against in-memory fakes.
package broker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rustyeddy/sellwatch/market"
)

// ErrPacing marks a request rejected by the venue's historical-data
// pacing rules. Callers back off and retry rather than failing.
var ErrPacing = errors.New("broker: pacing violation")

// IsPacing classifies an error as a pacing rejection. Besides wrapped
// ErrPacing it recognizes the gateway's textual pacing/throttle
// messages.
func IsPacing(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPacing) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "pacing") || strings.Contains(msg, "throttl")
}

// Side of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Position is a read-only snapshot of a holding.
type Position struct {
	Instrument string
	Quantity   float64
	AvgCost    float64
}

// Order describes an order at the venue, open or prepared.
type Order struct {
	ID         string
	Instrument string
	Side       Side
	Quantity   float64
	Type       string // MKT, STP, ...
	StopPrice  float64
}

// OrderResult is the venue's response to a placement.
type OrderResult struct {
	OrderID string
	Status  string
}

// Order status values reported by OrderStatus.
const (
	StatusFilled    = "filled"
	StatusCancelled = "cancelled"
	StatusWorking   = "working"
)

// HistoricalDataSource serves historical bars. It may return fewer bars
// than requested near the start of available history; an empty slice is
// a valid terminal response, not an error.
type HistoricalDataSource interface {
	// HistoricalBars returns up to maxCount bars of granularity g for
	// instrument, ending at end (zero time means "latest"), oldest
	// first.
	HistoricalBars(ctx context.Context, instrument string, g market.Granularity, end time.Time, maxCount int) (market.Series, error)
}

// PositionSource reads the account's holdings and open orders.
type PositionSource interface {
	Positions(ctx context.Context) ([]Position, error)
	OpenOrders(ctx context.Context) ([]Order, error)
}

// OrderSink transmits and manages orders. The core only calls it behind
// an explicit live-mode gate; the default is to never transmit.
type OrderSink interface {
	PlaceOrder(ctx context.Context, o Order) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (string, error)
}
