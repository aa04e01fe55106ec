package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_manager/internal/domain"
)

func TestTriggerConditionCodec(t *testing.T) {
	t.Run("price round trip", func(t *testing.T) {
		raw, err := domain.EncodeTriggerCondition(domain.TriggerPriceAbove, domain.TriggerCondition{
			Price: &domain.PriceCondition{Price: 50000},
		})
		require.NoError(t, err)

		decoded, err := domain.DecodeTriggerCondition(domain.TriggerPriceAbove, raw)
		require.NoError(t, err)
		require.NotNil(t, decoded.Price)
		assert.Equal(t, 50000.0, decoded.Price.Price)
	})

	t.Run("time round trip", func(t *testing.T) {
		at := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
		raw, err := domain.EncodeTriggerCondition(domain.TriggerTime, domain.TriggerCondition{
			Time: &domain.TimeCondition{At: at},
		})
		require.NoError(t, err)

		decoded, err := domain.DecodeTriggerCondition(domain.TriggerTime, raw)
		require.NoError(t, err)
		require.NotNil(t, decoded.Time)
		assert.True(t, decoded.Time.At.Equal(at))
	})

	t.Run("missing branch rejected on encode", func(t *testing.T) {
		_, err := domain.EncodeTriggerCondition(domain.TriggerPriceAbove, domain.TriggerCondition{})
		require.Error(t, err)
	})

	t.Run("non-positive price rejected on decode", func(t *testing.T) {
		_, err := domain.DecodeTriggerCondition(domain.TriggerPriceBelow, []byte(`{"price":0}`))
		require.Error(t, err)
	})

	t.Run("zero timestamp rejected on decode", func(t *testing.T) {
		_, err := domain.DecodeTriggerCondition(domain.TriggerTime, []byte(`{}`))
		require.Error(t, err)
	})

	t.Run("garbage rejected", func(t *testing.T) {
		_, err := domain.DecodeTriggerCondition(domain.TriggerPriceAbove, []byte("{oops"))
		require.Error(t, err)
	})

	t.Run("unknown trigger type rejected", func(t *testing.T) {
		_, err := domain.DecodeTriggerCondition(domain.TriggerType("volume"), []byte(`{}`))
		require.Error(t, err)
	})
}

func TestOrderActionCodec(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		raw, err := domain.EncodeOrderAction(domain.OrderAction{
			Side:       domain.SideSell,
			Type:       domain.OrderTypeLimit,
			Quantity:   2.5,
			LimitPrice: 51000,
		})
		require.NoError(t, err)

		decoded, err := domain.DecodeOrderAction(raw)
		require.NoError(t, err)
		assert.Equal(t, domain.SideSell, decoded.Side)
		assert.Equal(t, domain.OrderTypeLimit, decoded.Type)
		assert.Equal(t, 2.5, decoded.Quantity)
		assert.Equal(t, 51000.0, decoded.LimitPrice)
	})

	t.Run("invalid side rejected", func(t *testing.T) {
		_, err := domain.DecodeOrderAction([]byte(`{"side":"hold","type":"market","quantity":1}`))
		require.Error(t, err)
	})

	t.Run("non-positive quantity rejected", func(t *testing.T) {
		_, err := domain.DecodeOrderAction([]byte(`{"side":"buy","type":"market","quantity":0}`))
		require.Error(t, err)
	})
}

func TestExitConditionsCodec(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		raw, err := domain.EncodeExitConditions(domain.ExitConditions{MaxHoldDays: 3, PriceTarget: 120})
		require.NoError(t, err)

		decoded, err := domain.DecodeExitConditions(raw)
		require.NoError(t, err)
		assert.Equal(t, 3, decoded.MaxHoldDays)
		assert.Equal(t, 120.0, decoded.PriceTarget)
	})

	t.Run("empty payload is the zero value", func(t *testing.T) {
		decoded, err := domain.DecodeExitConditions(nil)
		require.NoError(t, err)
		assert.Zero(t, decoded.MaxHoldDays)
		assert.Zero(t, decoded.PriceTarget)
	})

	t.Run("garbage rejected", func(t *testing.T) {
		_, err := domain.DecodeExitConditions([]byte("not json"))
		require.Error(t, err)
	})
}

func TestPositionHelpers(t *testing.T) {
	p := &domain.Position{EntryPrice: 100, CurrentPrice: 104, StopLoss: 95}
	assert.Equal(t, 95.0, p.EffectiveStop())
	assert.InDelta(t, 0.04, p.ProfitRatio(), 1e-9)

	p.TrailingStop = 98
	assert.Equal(t, 98.0, p.EffectiveStop())

	empty := &domain.Position{CurrentPrice: 104}
	assert.Zero(t, empty.ProfitRatio())
}

func TestOrderHelpers(t *testing.T) {
	now := time.Now()
	order := &domain.Order{Tag: domain.OrderTagStopLoss, CreatedAt: now.Add(-10 * time.Minute)}
	assert.True(t, order.IsProtected())
	assert.InDelta(t, 10*time.Minute, order.Age(now), float64(time.Second))

	order.Tag = domain.OrderTagEntry
	assert.False(t, order.IsProtected())

	order.Tag = domain.OrderTagTakeProfit
	assert.True(t, order.IsProtected())
}
