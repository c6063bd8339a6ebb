// internal/monitor/exit.go
package monitor

import (
	"math"
	"time"

	"github.com/rovshanmuradov/solana-exit-engine/internal/position"
)

// Action что монитор должен сделать на тике.
type Action string

const (
	ActionHold Action = "hold"
	ActionSell Action = "sell"
	ActionBuy  Action = "buy"
)

// Reason причина срабатывания; пишется в запись позиции и метрики.
type Reason string

const (
	ReasonHardStopLoss Reason = "hard_stop_loss"
	ReasonStopLoss     Reason = "stop_loss"
	ReasonMoonBagStop  Reason = "moon_bag_stop"
	ReasonTakeProfit   Reason = "take_profit"
	ReasonPartialTP    Reason = "partial_take_profit"
	ReasonTrailingStop Reason = "trailing_stop"
	ReasonTrailingPart Reason = "partial_trailing_stop"
	ReasonDCA          Reason = "dca"
	ReasonManualClose  Reason = "manual_close"
	ReasonZeroBalance  Reason = position.ReasonReconciledZeroBalance
)

const (
	DefaultHardStopLossPct      = 0.25
	DefaultMoonBagFloorFraction = 0.70
)

// Params общие для всех позиций параметры выхода.
type Params struct {
	// HardStopLossPct безусловный предел убытка от цены входа.
	HardStopLossPct float64
	// MoonBagFloorFraction доля цены срабатывания частичного выхода, ниже которой moon-bag продаётся.
	MoonBagFloorFraction float64
}

func (p Params) withDefaults() Params {
	if p.HardStopLossPct <= 0 || p.HardStopLossPct >= 1 {
		p.HardStopLossPct = DefaultHardStopLossPct
	}
	if p.MoonBagFloorFraction <= 0 || p.MoonBagFloorFraction > 1 {
		p.MoonBagFloorFraction = DefaultMoonBagFloorFraction
	}
	return p
}

// Decision результат одного тика.
type Decision struct {
	Action Action
	Reason Reason
	// Quantity токенов к продаже.
	Quantity uint64
	// Lamports на докупку.
	Lamports uint64
	// Partial остаток после продажи становится moon-bag.
	Partial bool
	// Next позиция с обновлённым отслеживанием (HWM, трейлинг, последняя цена).
	// Эти поля сохраняются независимо от исхода сделки.
	Next position.Position
}

// Evaluate чистая машина состояний выхода. Правила проверяются в фиксированном
// порядке, срабатывает первое:
//  1. жёсткий стоп от цены входа;
//  2. настроенный стоп-лосс (для moon-bag это защищённый пол);
//  3. take-profit, частичный один раз;
//  4. трейлинг-стоп;
//  5. докупка DCA.
func Evaluate(pos position.Position, price float64, params Params) Decision {
	params = params.withDefaults()
	next := pos
	next.LastPrice = price
	hold := Decision{Action: ActionHold, Next: next}

	remaining := pos.Remaining()
	if !pos.IsOpen() || remaining == 0 || price <= 0 {
		return hold
	}

	// отслеживание максимума и трейлинга идёт до проверки правил
	tr := &next.Trailing
	tr.HighWaterMark = math.Max(math.Max(tr.HighWaterMark, pos.EntryPrice), price)
	if tr.Enabled && !tr.Armed && price >= pos.EntryPrice*(1+tr.ActivationPct) {
		tr.Armed = true
	}
	if tr.Armed {
		tr.TriggerPrice = tr.HighWaterMark * (1 - tr.TrailPct)
	}

	full := func(reason Reason) Decision {
		return Decision{Action: ActionSell, Reason: reason, Quantity: remaining, Next: next}
	}

	if price <= pos.EntryPrice*(1-params.HardStopLossPct) {
		return full(ReasonHardStopLoss)
	}

	if pos.StopLossPrice > 0 && price <= pos.StopLossPrice {
		if pos.MoonBag {
			return full(ReasonMoonBagStop)
		}
		return full(ReasonStopLoss)
	}

	if !pos.MoonBag && pos.TakeProfitPrice > 0 && price >= pos.TakeProfitPrice {
		if !pos.PartialTP.Done {
			if q, ok := fraction(remaining, pos.PartialTP.SellFraction); ok {
				return Decision{Action: ActionSell, Reason: ReasonPartialTP, Quantity: q, Partial: true, Next: next}
			}
		}
		return full(ReasonTakeProfit)
	}

	if tr.Armed && price <= tr.TriggerPrice {
		if !pos.MoonBag {
			if q, ok := fraction(remaining, tr.SellFraction); ok {
				return Decision{Action: ActionSell, Reason: ReasonTrailingPart, Quantity: q, Partial: true, Next: next}
			}
		}
		return full(ReasonTrailingStop)
	}

	dca := pos.DCA
	if dca.Enabled && !dca.Executed && !dca.Pending && dca.Fraction > 0 &&
		price <= pos.EntryPrice*(1-dca.TriggerPct) {
		lamports := uint64(float64(pos.EntryLamports) * dca.Fraction)
		if lamports > 0 {
			next.DCA.Pending = true
			return Decision{Action: ActionBuy, Reason: ReasonDCA, Lamports: lamports, Next: next}
		}
	}

	return hold
}

// fraction доля остатка; false если доля даёт полный выход или ноль.
func fraction(remaining uint64, f float64) (uint64, bool) {
	if f <= 0 || f >= 1 {
		return 0, false
	}
	q := uint64(float64(remaining) * f)
	if q == 0 || q >= remaining {
		return 0, false
	}
	return q, true
}

// ApplySellFill переносит подтверждённую продажу в позицию и возвращает учтённое количество.
// Частичная продажа переводит остаток в moon-bag с защищённым стопом.
func ApplySellFill(pos *position.Position, d Decision, sold, lamports uint64, params Params, now time.Time) uint64 {
	params = params.withDefaults()
	applied := pos.ApplySell(sold, lamports, string(d.Reason), now)
	if !d.Partial || !pos.IsOpen() {
		return applied
	}

	switch d.Reason {
	case ReasonPartialTP:
		pos.PartialTP.Done = true
	case ReasonTrailingPart:
		// трейлинг взводится заново от цены активации; пока он не взведён, остаток защищает стоп moon-bag
		pos.Trailing.Armed = false
		pos.Trailing.TriggerPrice = 0
	}
	pos.PromoteMoonBag(params.MoonBagFloorFraction)
	return applied
}

// ApplyBuyFill учитывает подтверждённую докупку DCA.
func ApplyBuyFill(pos *position.Position, bought, lamports uint64, price float64, now time.Time) {
	pos.ApplyBuy(bought, lamports, price, now)
	pos.DCA.Pending = false
	pos.DCA.Executed = true
}
