// Package orders turns a sell decision into a close order, dry-run by
// default.
package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/sellwatch/broker"
	"github.com/rustyeddy/sellwatch/intent"
	"github.com/rustyeddy/sellwatch/pkg/id"
)

// Prepared is a close order ready to execute, keyed by an intent id so
// re-running the same decision never places twice.
type Prepared struct {
	IntentID   string
	Instrument string
	Quantity   float64
	SignalID   string
}

// PrepareClose builds the close-out description for one holding.
func PrepareClose(instrument string, quantity float64, signalID string) (Prepared, error) {
	if quantity <= 0 {
		return Prepared{}, fmt.Errorf("orders: cannot close %s with quantity %v", instrument, quantity)
	}
	return Prepared{
		IntentID:   id.New(),
		Instrument: instrument,
		Quantity:   quantity,
		SignalID:   signalID,
	}, nil
}

// Executor runs prepared orders. Unless constructed live it only
// records the intent; nothing is ever transmitted.
type Executor struct {
	sink        broker.OrderSink
	positions   broker.PositionSource
	intents     *intent.Store
	log         zerolog.Logger
	live        bool
	fillTimeout time.Duration
	poll        time.Duration
}

// NewExecutor builds a dry-run executor.
func NewExecutor(sink broker.OrderSink, positions broker.PositionSource, intents *intent.Store, log zerolog.Logger) *Executor {
	return &Executor{
		sink:        sink,
		positions:   positions,
		intents:     intents,
		log:         log,
		fillTimeout: 30 * time.Second,
		poll:        time.Second,
	}
}

// GoLive arms real transmission. Deliberately a separate call so a
// live executor cannot be built by accident.
func (e *Executor) GoLive(fillTimeout time.Duration) {
	e.live = true
	if fillTimeout > 0 {
		e.fillTimeout = fillTimeout
	}
}

// Live reports whether the executor transmits.
func (e *Executor) Live() bool { return e.live }

// Execute carries out a prepared close. The intent is recorded first;
// an intent id that already exists means the work was already done and
// the call is a no-op.
func (e *Executor) Execute(ctx context.Context, p Prepared) (string, error) {
	if e.intents.Exists(p.IntentID) {
		e.log.Info().Str("intent", p.IntentID).Msg("intent already recorded, skipping")
		existing, _ := e.intents.Get(p.IntentID)
		return existing.OrderID, nil
	}

	status := intent.StatusDryRun
	if e.live {
		status = intent.StatusPrepared
	}
	err := e.intents.Append(intent.Intent{
		ID:         p.IntentID,
		Time:       time.Now().UTC(),
		Instrument: p.Instrument,
		Side:       string(broker.Sell),
		Quantity:   p.Quantity,
		Status:     status,
		SignalID:   p.SignalID,
	})
	if err != nil {
		return "", err
	}

	if !e.live {
		e.log.Info().
			Str("instrument", p.Instrument).
			Float64("quantity", p.Quantity).
			Str("intent", p.IntentID).
			Msg("dry run: close order recorded, not transmitted")
		return "", nil
	}
	return e.transmit(ctx, p)
}

func (e *Executor) transmit(ctx context.Context, p Prepared) (string, error) {
	log := e.log.With().Str("instrument", p.Instrument).Str("intent", p.IntentID).Logger()

	res, err := e.sink.PlaceOrder(ctx, broker.Order{
		Instrument: p.Instrument,
		Side:       broker.Sell,
		Quantity:   p.Quantity,
		Type:       "MKT",
	})
	if err != nil {
		e.fail(p.IntentID, err)
		return "", fmt.Errorf("orders: place %s: %w", p.Instrument, err)
	}
	log.Info().Str("order", res.OrderID).Msg("close order placed")
	if uerr := e.intents.Update(p.IntentID, func(in *intent.Intent) {
		in.Status = intent.StatusPlaced
		in.OrderID = res.OrderID
	}); uerr != nil {
		return res.OrderID, uerr
	}

	filled, err := e.waitFill(ctx, res.OrderID)
	if err != nil {
		e.fail(p.IntentID, err)
		return res.OrderID, err
	}
	if !filled {
		log.Warn().Str("order", res.OrderID).Msg("order not filled within timeout")
		e.fail(p.IntentID, fmt.Errorf("fill timeout"))
		return res.OrderID, fmt.Errorf("orders: %s not filled within %s", res.OrderID, e.fillTimeout)
	}
	if uerr := e.intents.Update(p.IntentID, func(in *intent.Intent) {
		in.Status = intent.StatusFilled
	}); uerr != nil {
		return res.OrderID, uerr
	}
	log.Info().Str("order", res.OrderID).Msg("close order filled")

	if err := e.CancelProtectiveStops(ctx, p.Instrument); err != nil {
		return res.OrderID, err
	}
	return res.OrderID, nil
}

func (e *Executor) fail(intentID string, cause error) {
	uerr := e.intents.Update(intentID, func(in *intent.Intent) {
		in.Status = intent.StatusFailed
		in.Note = cause.Error()
	})
	if uerr != nil {
		e.log.Error().Err(uerr).Str("intent", intentID).Msg("could not record failure")
	}
}

// waitFill polls the order until it is filled, cancelled, or the fill
// timeout passes.
func (e *Executor) waitFill(ctx context.Context, orderID string) (bool, error) {
	deadline := time.Now().Add(e.fillTimeout)
	for {
		status, err := e.sink.OrderStatus(ctx, orderID)
		if err != nil {
			return false, fmt.Errorf("orders: status %s: %w", orderID, err)
		}
		switch status {
		case broker.StatusFilled:
			return true, nil
		case broker.StatusCancelled:
			return false, fmt.Errorf("orders: %s cancelled at the venue", orderID)
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		timer := time.NewTimer(e.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

// CancelProtectiveStops cancels any remaining stop orders for a closed
// instrument and verifies each cancel took.
func (e *Executor) CancelProtectiveStops(ctx context.Context, instrument string) error {
	open, err := e.positions.OpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("orders: list open orders: %w", err)
	}
	for _, o := range open {
		if o.Instrument != instrument || o.Type != "STP" {
			continue
		}
		if err := e.sink.CancelOrder(ctx, o.ID); err != nil {
			return fmt.Errorf("orders: cancel stop %s: %w", o.ID, err)
		}
		if err := e.verifyCancelled(ctx, o.ID); err != nil {
			return err
		}
		e.log.Info().Str("order", o.ID).Str("instrument", instrument).Msg("protective stop cancelled")
	}
	return nil
}

func (e *Executor) verifyCancelled(ctx context.Context, orderID string) error {
	for attempt := 0; attempt < 5; attempt++ {
		status, err := e.sink.OrderStatus(ctx, orderID)
		if err != nil {
			return fmt.Errorf("orders: verify cancel %s: %w", orderID, err)
		}
		if status == broker.StatusCancelled || status == broker.StatusFilled {
			return nil
		}
		timer := time.NewTimer(e.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("orders: stop %s still working after cancel", orderID)
}
