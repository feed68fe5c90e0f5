package orders

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/sellwatch/broker"
	"github.com/rustyeddy/sellwatch/intent"
)

// fakeVenue is an in-memory OrderSink + PositionSource.
type fakeVenue struct {
	mu       sync.Mutex
	placed   []broker.Order
	statuses map[string][]string // orderID -> status sequence
	canceled []string
	open     []broker.Order
	nextID   int
}

func (v *fakeVenue) PlaceOrder(_ context.Context, o broker.Order) (broker.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	o.ID = "ord-" + string(rune('0'+v.nextID))
	v.placed = append(v.placed, o)
	return broker.OrderResult{OrderID: o.ID, Status: broker.StatusWorking}, nil
}

func (v *fakeVenue) CancelOrder(_ context.Context, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.canceled = append(v.canceled, orderID)
	v.statuses[orderID] = []string{broker.StatusCancelled}
	return nil
}

func (v *fakeVenue) OrderStatus(_ context.Context, orderID string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	seq := v.statuses[orderID]
	if len(seq) == 0 {
		return broker.StatusWorking, nil
	}
	status := seq[0]
	if len(seq) > 1 {
		v.statuses[orderID] = seq[1:]
	}
	return status, nil
}

func (v *fakeVenue) Positions(context.Context) ([]broker.Position, error) { return nil, nil }

func (v *fakeVenue) OpenOrders(context.Context) ([]broker.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]broker.Order(nil), v.open...), nil
}

func newTestExecutor(t *testing.T) (*Executor, *fakeVenue, *intent.Store) {
	t.Helper()
	venue := &fakeVenue{statuses: map[string][]string{}}
	store, err := intent.Open(filepath.Join(t.TempDir(), "intents.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	e := NewExecutor(venue, venue, store, zerolog.Nop())
	e.poll = time.Millisecond
	return e, venue, store
}

func TestPrepareClose(t *testing.T) {
	p, err := PrepareClose("IBM", 100, "sig-1")
	require.NoError(t, err)
	assert.NotEmpty(t, p.IntentID)
	assert.Equal(t, "IBM", p.Instrument)

	_, err = PrepareClose("IBM", 0, "sig-1")
	assert.Error(t, err)
	_, err = PrepareClose("IBM", -5, "sig-1")
	assert.Error(t, err)
}

func TestDryRunNeverTransmits(t *testing.T) {
	e, venue, store := newTestExecutor(t)

	p, err := PrepareClose("IBM", 100, "sig-1")
	require.NoError(t, err)

	orderID, err := e.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, orderID)
	assert.Empty(t, venue.placed)

	got, ok := store.Get(p.IntentID)
	require.True(t, ok)
	assert.Equal(t, intent.StatusDryRun, got.Status)
}

func TestExecuteIsIdempotentByIntentID(t *testing.T) {
	e, venue, _ := newTestExecutor(t)
	e.GoLive(time.Second)

	p, err := PrepareClose("IBM", 100, "sig-1")
	require.NoError(t, err)
	venue.statuses["ord-1"] = []string{broker.StatusFilled}

	first, err := e.Execute(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, venue.placed, 1)

	second, err := e.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, venue.placed, 1, "reexecuting the same intent must not place again")
}

func TestLivePlacesWaitsAndCancelsStops(t *testing.T) {
	e, venue, store := newTestExecutor(t)
	e.GoLive(time.Second)

	venue.open = []broker.Order{
		{ID: "stp-1", Instrument: "IBM", Type: "STP", StopPrice: 130},
		{ID: "stp-2", Instrument: "AAPL", Type: "STP", StopPrice: 150},
	}
	venue.statuses["ord-1"] = []string{broker.StatusWorking, broker.StatusFilled}

	p, err := PrepareClose("IBM", 100, "sig-1")
	require.NoError(t, err)

	orderID, err := e.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", orderID)

	require.Len(t, venue.placed, 1)
	assert.Equal(t, broker.Sell, venue.placed[0].Side)
	assert.Equal(t, "MKT", venue.placed[0].Type)

	// Only this instrument's stop is cancelled.
	assert.Equal(t, []string{"stp-1"}, venue.canceled)

	got, ok := store.Get(p.IntentID)
	require.True(t, ok)
	assert.Equal(t, intent.StatusFilled, got.Status)
	assert.Equal(t, "ord-1", got.OrderID)
}

func TestLiveFillTimeoutFailsIntent(t *testing.T) {
	e, venue, store := newTestExecutor(t)
	e.GoLive(10 * time.Millisecond)

	// Status stays working forever.
	p, err := PrepareClose("IBM", 100, "sig-1")
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), p)
	require.Error(t, err)
	require.Len(t, venue.placed, 1)

	got, ok := store.Get(p.IntentID)
	require.True(t, ok)
	assert.Equal(t, intent.StatusFailed, got.Status)
	assert.NotEmpty(t, got.Note)
}

func TestLiveVenueCancellationFailsIntent(t *testing.T) {
	e, venue, store := newTestExecutor(t)
	e.GoLive(time.Second)

	venue.statuses["ord-1"] = []string{broker.StatusCancelled}
	p, err := PrepareClose("IBM", 100, "sig-1")
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), p)
	require.Error(t, err)

	got, _ := store.Get(p.IntentID)
	assert.Equal(t, intent.StatusFailed, got.Status)
}
