package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPosition() *Position {
	return &Position{
		Mint:          "mint",
		Wallet:        "wallet",
		QuantityTotal: 1_000,
		EntryPrice:    1.0,
		EntryLamports: 1_000_000_000,
		StopLossPrice: 0.8,
		State:         StateActive,
	}
}

func TestApplySellClampsToRemaining(t *testing.T) {
	now := time.Now()
	p := newPosition()

	assert.Equal(t, uint64(600), p.ApplySell(600, 10, "take_profit", now))
	assert.Equal(t, StatePartiallyClosed, p.State)
	assert.Equal(t, uint64(400), p.Remaining())

	// продали больше, чем осталось: учитываем только остаток
	assert.Equal(t, uint64(400), p.ApplySell(10_000, 5, "stop_loss", now))
	assert.Equal(t, uint64(1_000), p.QuantitySold)
	assert.Equal(t, StateClosed, p.State)
	assert.Equal(t, "stop_loss", p.CloseReason)
	assert.Equal(t, uint64(15), p.RealizedLamports)
	require.NoError(t, p.Validate())

	assert.Zero(t, p.ApplySell(1, 0, "again", now))
	assert.Equal(t, p.QuantityTotal, p.QuantitySold)
}

func TestPromoteMoonBagNeverBelowEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    float64
		hwm      float64
		stop     float64
		last     float64
		wantStop float64
	}{
		// вход 0.0001, TP на 0.00012: 0.00012*0.7 < входа, стоп остаётся на входе
		{name: "floor below entry", entry: 0.0001, hwm: 0.00012, stop: 0.00008, wantStop: 0.0001},
		{name: "floor above entry", entry: 1.0, hwm: 2.0, stop: 0.8, wantStop: 1.4},
		{name: "higher stop kept", entry: 1.0, hwm: 1.5, stop: 1.2, wantStop: 1.2},
		// трейлинг 30% сработал на 1.4 при максимуме 2.0: пол 1.4*0.7, а не 2.0*0.7 = цене продажи
		{name: "floor from trigger price", entry: 0.5, hwm: 2.0, last: 1.4, stop: 0.4, wantStop: 0.98},
		{name: "no last price uses hwm", entry: 1.0, hwm: 2.0, last: -1, stop: 0.8, wantStop: 1.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPosition()
			p.EntryPrice = tt.entry
			p.StopLossPrice = tt.stop
			p.TakeProfitPrice = tt.hwm
			p.Trailing.HighWaterMark = tt.hwm
			switch {
			case tt.last > 0:
				p.LastPrice = tt.last
			case tt.last == 0:
				p.LastPrice = tt.hwm
			}

			p.PromoteMoonBag(0.70)

			assert.True(t, p.MoonBag)
			assert.Zero(t, p.TakeProfitPrice)
			assert.InDelta(t, tt.wantStop, p.StopLossPrice, 1e-12)
			assert.GreaterOrEqual(t, p.StopLossPrice, p.EntryPrice)
		})
	}
}

func TestApplyBuyWeightsEntry(t *testing.T) {
	p := newPosition()
	p.ApplyBuy(1_000, 500_000_000, 0.5, time.Now())

	assert.Equal(t, uint64(2_000), p.QuantityTotal)
	assert.InDelta(t, 0.75, p.EntryPrice, 1e-9)
	assert.Equal(t, uint64(1_500_000_000), p.EntryLamports)
}

func TestReconcile(t *testing.T) {
	now := time.Now()

	t.Run("zero balance closes", func(t *testing.T) {
		p := newPosition()
		assert.True(t, p.Reconcile(0, now))
		assert.Equal(t, StateClosed, p.State)
		assert.Equal(t, ReasonReconciledZeroBalance, p.CloseReason)
		require.NoError(t, p.Validate())
	})

	t.Run("smaller balance shrinks", func(t *testing.T) {
		p := newPosition()
		p.QuantitySold = 200
		assert.True(t, p.Reconcile(500, now))
		assert.Equal(t, uint64(500), p.Remaining())
		assert.Equal(t, uint64(700), p.QuantityTotal)
	})

	t.Run("pending dca filled", func(t *testing.T) {
		p := newPosition()
		p.DCA = DCA{Enabled: true, Pending: true}
		assert.True(t, p.Reconcile(1_400, now))
		assert.Equal(t, uint64(1_400), p.Remaining())
		assert.True(t, p.DCA.Executed)
		assert.False(t, p.DCA.Pending)
	})

	t.Run("matching balance untouched", func(t *testing.T) {
		p := newPosition()
		assert.False(t, p.Reconcile(1_000, now))
		// лишние токены без незавершённой докупки не наши
		assert.False(t, p.Reconcile(5_000, now))
		assert.Equal(t, uint64(1_000), p.QuantityTotal)
	})
}

func TestValidate(t *testing.T) {
	p := newPosition()
	require.NoError(t, p.Validate())

	p.QuantitySold = p.QuantityTotal + 1
	assert.Error(t, p.Validate())

	p = newPosition()
	p.Trailing.Armed = true
	p.Trailing.HighWaterMark = 0.5
	assert.Error(t, p.Validate())

	p = newPosition()
	p.State = StateClosed
	assert.Error(t, p.Validate())
}
