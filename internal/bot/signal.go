package bot

import (
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rovshanmuradov/solana-exit-engine/internal/config"
	"github.com/rovshanmuradov/solana-exit-engine/internal/position"
)

// DefaultDecimals у токенов Pump.fun.
const DefaultDecimals = 6

// BuySignal команда на вход в позицию. Пустые параметры выхода берутся из monitor.defaults.
type BuySignal struct {
	Mint      string  `yaml:"mint"`
	Symbol    string  `yaml:"symbol"`
	AmountSOL float64 `yaml:"amount_sol"`
	Decimals  uint8   `yaml:"decimals"`
	Route     string  `yaml:"route"`
	Ref       string  `yaml:"ref"`

	StopLossPct     *float64 `yaml:"stop_loss_pct"`
	TakeProfitPct   *float64 `yaml:"take_profit_pct"`
	PartialSellFrac *float64 `yaml:"partial_sell_fraction"`
	Trailing        *bool    `yaml:"trailing"`
	DCA             *bool    `yaml:"dca"`
}

// Validate проверяет сигнал до сделки.
func (s BuySignal) Validate() error {
	if _, err := solana.PublicKeyFromBase58(s.Mint); err != nil {
		return fmt.Errorf("invalid mint %q: %w", s.Mint, err)
	}
	if s.AmountSOL <= 0 {
		return fmt.Errorf("amount_sol must be positive")
	}
	if s.StopLossPct != nil && (*s.StopLossPct <= 0 || *s.StopLossPct >= 1) {
		return fmt.Errorf("stop_loss_pct must be in (0, 1)")
	}
	if s.TakeProfitPct != nil && *s.TakeProfitPct < 0 {
		return fmt.Errorf("take_profit_pct must not be negative")
	}
	if s.PartialSellFrac != nil && (*s.PartialSellFrac < 0 || *s.PartialSellFrac > 1) {
		return fmt.Errorf("partial_sell_fraction must be in [0, 1]")
	}
	return nil
}

// Lamports сумма входа в лампортах.
func (s BuySignal) Lamports() uint64 {
	return uint64(decimal.NewFromFloat(s.AmountSOL).Shift(9).IntPart())
}

func (s BuySignal) decimals() uint8 {
	if s.Decimals == 0 {
		return DefaultDecimals
	}
	return s.Decimals
}

// ExitPlan параметры выхода позиции по цене входа.
func (s BuySignal) ExitPlan(entry float64, d config.ExitDefaults) (stop, take float64, partial position.PartialTP, trailing position.Trailing, dca position.DCA) {
	slPct := pick(s.StopLossPct, d.StopLossPct)
	tpPct := pick(s.TakeProfitPct, d.TakeProfitPct)

	if slPct > 0 {
		stop = entry * (1 - slPct)
	}
	if tpPct > 0 {
		take = entry * (1 + tpPct)
	}
	partial = position.PartialTP{SellFraction: pick(s.PartialSellFrac, d.PartialSellFraction)}
	trailing = position.Trailing{
		Enabled:       pickBool(s.Trailing, d.TrailingEnabled),
		ActivationPct: d.TrailingActivation,
		TrailPct:      d.TrailingDistance,
		SellFraction:  d.TrailingSellFrac,
	}
	dca = position.DCA{
		Enabled:    pickBool(s.DCA, d.DCAEnabled),
		TriggerPct: d.DCATriggerPct,
		Fraction:   d.DCAFraction,
	}
	return stop, take, partial, trailing, dca
}

func pick(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

func pickBool(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

type signalFile struct {
	Signals []BuySignal `yaml:"signals"`
}

// LoadSignals читает YAML вида:
//
//	signals:
//	  - mint: <base58>
//	    amount_sol: 0.1
func LoadSignals(path string) ([]BuySignal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signals file: %w", err)
	}
	var file signalFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse signals file: %w", err)
	}
	for i, s := range file.Signals {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("signal #%d: %w", i+1, err)
		}
	}
	return file.Signals, nil
}
