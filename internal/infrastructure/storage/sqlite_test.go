package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_manager/internal/domain"
	"github.com/vitos/crypto_trade_manager/internal/infrastructure/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleOrder(id string) *domain.Order {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Order{
		ID:                id,
		Symbol:            "BTCUSDT",
		Instrument:        "BTCUSDT",
		Side:              domain.SideBuy,
		Type:              domain.OrderTypeLimit,
		Status:            domain.OrderStatusOpen,
		Tag:               domain.OrderTagEntry,
		RequestedQuantity: 1.5,
		RequestedPrice:    50000,
		BrokerOrderID:     "remote-" + id,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	order := sampleOrder("o-1")
	require.NoError(t, store.SaveOrder(ctx, order))

	loaded, err := store.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, order.Symbol, loaded.Symbol)
	assert.Equal(t, order.RequestedPrice, loaded.RequestedPrice)
	assert.Equal(t, order.BrokerOrderID, loaded.BrokerOrderID)

	loaded.Status = domain.OrderStatusCancelled
	loaded.StatusReason = "replaced_stale_order"
	require.NoError(t, store.UpdateOrder(ctx, loaded))

	reloaded, err := store.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, reloaded.Status)
	assert.Equal(t, "replaced_stale_order", reloaded.StatusReason)
}

func TestListOrdersByStatuses(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	open := sampleOrder("o-open")
	filled := sampleOrder("o-filled")
	filled.Status = domain.OrderStatusFilled
	pending := sampleOrder("o-pending")
	pending.Status = domain.OrderStatusPending
	for _, o := range []*domain.Order{open, filled, pending} {
		require.NoError(t, store.SaveOrder(ctx, o))
	}

	orders, err := store.ListOrdersByStatuses(ctx, domain.OpenOrderStatuses)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	none, err := store.ListOrdersByStatuses(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFindReplacementSource(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	old := sampleOrder("o-old")
	old.Status = domain.OrderStatusCancelled
	old.ReplacedByOrderID = "o-new"
	require.NoError(t, store.SaveOrder(ctx, old))
	require.NoError(t, store.SaveOrder(ctx, sampleOrder("o-new")))

	source, err := store.FindReplacementSource(ctx, "o-new")
	require.NoError(t, err)
	require.NotNil(t, source)
	assert.Equal(t, "o-old", source.ID)

	// The chain head has no predecessor.
	source, err = store.FindReplacementSource(ctx, "o-old")
	require.NoError(t, err)
	assert.Nil(t, source)
}

func TestPositionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	position := &domain.Position{
		Symbol:           "BTCUSDT",
		Instrument:       "BTCUSDT",
		Shares:           2,
		EntryPrice:       50000,
		CurrentPrice:     51000,
		StopLoss:         48000,
		TakeProfit:       55000,
		AIExitConditions: []byte(`{"max_hold_days":3}`),
		EntryTime:        time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.SavePosition(ctx, position))

	loaded, err := store.GetPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 2.0, loaded.Shares)
	assert.JSONEq(t, `{"max_hold_days":3}`, string(loaded.AIExitConditions))

	// Saving the same symbol again upserts.
	position.CurrentPrice = 52000
	require.NoError(t, store.SavePosition(ctx, position))
	positions, err := store.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 52000.0, positions[0].CurrentPrice)

	require.NoError(t, store.UpdateTrailingStop(ctx, "BTCUSDT", 49500))
	loaded, err = store.GetPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 49500.0, loaded.TrailingStop)

	require.NoError(t, store.DeletePosition(ctx, "BTCUSDT"))
	loaded, err = store.GetPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func sampleConditional(id, group string) *domain.ConditionalOrder {
	return &domain.ConditionalOrder{
		ID:               id,
		Symbol:           "ETHUSDT",
		TriggerType:      domain.TriggerPriceAbove,
		TriggerCondition: []byte(`{"price":3500}`),
		Action:           []byte(`{"side":"sell","type":"market","quantity":1}`),
		Status:           domain.ConditionalStatusPending,
		OCOGroupID:       group,
		CreatedAt:        time.Now().UTC().Truncate(time.Second),
	}
}

func TestConditionalOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	order := sampleConditional("c-1", "")
	order.ExpiresAt = time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, store.SaveConditionalOrder(ctx, order))

	loaded, err := store.GetConditionalOrder(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerPriceAbove, loaded.TriggerType)
	assert.JSONEq(t, `{"price":3500}`, string(loaded.TriggerCondition))
	assert.False(t, loaded.ExpiresAt.IsZero())
	assert.True(t, loaded.TriggeredAt.IsZero())

	count, err := store.CountActiveConditionalOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, store.UpdateConditionalOrderStatus(ctx, "c-1", domain.ConditionalStatusExpired))
	count, err = store.CountActiveConditionalOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	bySymbol, err := store.ListConditionalOrdersBySymbol(ctx, "ETHUSDT", domain.ConditionalStatusExpired)
	require.NoError(t, err)
	assert.Len(t, bySymbol, 1)
}

func TestMarkTriggeredAndCancelSiblings(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	leg1 := sampleConditional("c-leg1", "group-1")
	leg2 := sampleConditional("c-leg2", "group-1")
	leg2.LinkedOrderID = leg1.ID
	outsider := sampleConditional("c-other", "")
	for _, c := range []*domain.ConditionalOrder{leg1, leg2, outsider} {
		require.NoError(t, store.SaveConditionalOrder(ctx, c))
	}

	leg1.TriggeredAt = time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.MarkTriggeredAndCancelSiblings(ctx, leg1))

	triggered, err := store.GetConditionalOrder(ctx, "c-leg1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConditionalStatusTriggered, triggered.Status)
	assert.False(t, triggered.TriggeredAt.IsZero())

	sibling, err := store.GetConditionalOrder(ctx, "c-leg2")
	require.NoError(t, err)
	assert.Equal(t, domain.ConditionalStatusCancelled, sibling.Status)

	unrelated, err := store.GetConditionalOrder(ctx, "c-other")
	require.NoError(t, err)
	assert.Equal(t, domain.ConditionalStatusPending, unrelated.Status)
}

func TestMarkTriggeredAndCancelSiblings_NotPending(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	leg1 := sampleConditional("c-leg1", "group-1")
	leg2 := sampleConditional("c-leg2", "group-1")
	require.NoError(t, store.SaveConditionalOrder(ctx, leg1))
	require.NoError(t, store.SaveConditionalOrder(ctx, leg2))

	leg1.TriggeredAt = time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.MarkTriggeredAndCancelSiblings(ctx, leg1))

	// leg2 was cancelled by leg1's trigger; marking it must refuse.
	leg2.TriggeredAt = time.Now().UTC().Truncate(time.Second)
	err := store.MarkTriggeredAndCancelSiblings(ctx, leg2)
	require.ErrorIs(t, err, domain.ErrNotPending)

	sibling, err := store.GetConditionalOrder(ctx, "c-leg2")
	require.NoError(t, err)
	assert.Equal(t, domain.ConditionalStatusCancelled, sibling.Status)
	assert.True(t, sibling.TriggeredAt.IsZero())
}

func TestTradeJournal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i, reason := range []string{"Stop-loss triggered", "closed_externally"} {
		trade := &domain.Trade{
			Symbol:     "BTCUSDT",
			Side:       domain.SideSell,
			Quantity:   float64(i + 1),
			EntryPrice: 50000,
			ExitPrice:  51000,
			PnL:        1000 * float64(i+1),
			Reason:     reason,
			CreatedAt:  time.Now().UTC().Truncate(time.Second),
		}
		require.NoError(t, store.SaveTrade(ctx, trade))
	}

	trades, err := store.ListTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	// Newest first.
	assert.Equal(t, "closed_externally", trades[0].Reason)
	assert.NotZero(t, trades[0].ID)

	limited, err := store.ListTrades(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
