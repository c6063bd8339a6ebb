package bot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solana-exit-engine/internal/config"
)

const signalsYAML = `
signals:
  - mint: 4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R
    symbol: RAY
    amount_sol: 0.25
    route: pumpswap
    stop_loss_pct: 0.1
    trailing: false
  - mint: So11111111111111111111111111111111111111112
    amount_sol: 0.05
    decimals: 9
`

func TestLoadSignals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.yaml")
	require.NoError(t, os.WriteFile(path, []byte(signalsYAML), 0o600))

	signals, err := LoadSignals(path)
	require.NoError(t, err)
	require.Len(t, signals, 2)

	assert.Equal(t, "RAY", signals[0].Symbol)
	assert.Equal(t, uint64(250_000_000), signals[0].Lamports())
	assert.Equal(t, "pumpswap", signals[0].Route)
	require.NotNil(t, signals[0].StopLossPct)
	assert.Equal(t, 0.1, *signals[0].StopLossPct)
	assert.Equal(t, uint8(DefaultDecimals), signals[0].decimals())
	assert.Equal(t, uint8(9), signals[1].decimals())
}

func TestLoadSignalsRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.yaml")
	require.NoError(t, os.WriteFile(path, []byte("signals:\n  - mint: bad\n    amount_sol: 1\n"), 0o600))

	_, err := LoadSignals(path)
	assert.Error(t, err)
}

func TestSignalValidate(t *testing.T) {
	mint := "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R"
	bad := 1.5

	assert.NoError(t, BuySignal{Mint: mint, AmountSOL: 1}.Validate())
	assert.Error(t, BuySignal{Mint: mint}.Validate())
	assert.Error(t, BuySignal{Mint: mint, AmountSOL: 1, StopLossPct: &bad}.Validate())
	assert.Error(t, BuySignal{Mint: mint, AmountSOL: 1, PartialSellFrac: &bad}.Validate())
}

func TestExitPlanOverridesDefaults(t *testing.T) {
	defaults := config.ExitDefaults{
		StopLossPct:         0.2,
		TakeProfitPct:       1.0,
		PartialSellFraction: 0.9,
		TrailingEnabled:     true,
		TrailingActivation:  0.15,
		TrailingDistance:    0.3,
		TrailingSellFrac:    1,
		DCAEnabled:          true,
		DCATriggerPct:       0.1,
		DCAFraction:         0.5,
	}

	stop, take, partial, trailing, dca := BuySignal{}.ExitPlan(2.0, defaults)
	assert.InDelta(t, 1.6, stop, 1e-12)
	assert.InDelta(t, 4.0, take, 1e-12)
	assert.Equal(t, 0.9, partial.SellFraction)
	assert.True(t, trailing.Enabled)
	assert.Equal(t, 0.3, trailing.TrailPct)
	assert.True(t, dca.Enabled)

	sl, off, zero := 0.5, false, 0.0
	stop, take, partial, trailing, dca = BuySignal{StopLossPct: &sl, TakeProfitPct: &zero, Trailing: &off, DCA: &off}.ExitPlan(2.0, defaults)
	assert.InDelta(t, 1.0, stop, 1e-12)
	assert.Zero(t, take)
	assert.Equal(t, 0.9, partial.SellFraction)
	assert.False(t, trailing.Enabled)
	assert.False(t, dca.Enabled)
}
