// internal/position/position.go
package position

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// State жизненный цикл позиции.
type State string

const (
	StateActive          State = "active"
	StatePartiallyClosed State = "partially_closed"
	StateClosed          State = "closed"
)

// Причина закрытия при сверке с нулевым балансом кошелька.
const ReasonReconciledZeroBalance = "reconciled_zero_balance"

const lamportsPerSOL = 1_000_000_000

// Trailing параметры и состояние трейлинг-стопа. Проценты в долях (0.15 = 15%).
type Trailing struct {
	Enabled       bool    `json:"enabled"`
	ActivationPct float64 `json:"activation_pct"`
	TrailPct      float64 `json:"trail_pct"`
	// SellFraction доля остатка на срабатывании; 0 или 1 означает полный выход.
	SellFraction  float64 `json:"sell_fraction"`
	Armed         bool    `json:"armed"`
	HighWaterMark float64 `json:"high_water_mark"`
	TriggerPrice  float64 `json:"trigger_price"`
}

// PartialTP частичная фиксация прибыли на take-profit.
type PartialTP struct {
	SellFraction float64 `json:"sell_fraction"`
	Done         bool    `json:"done"`
}

// DCA однократная докупка на просадке.
type DCA struct {
	Enabled    bool    `json:"enabled"`
	TriggerPct float64 `json:"trigger_pct"`
	// Fraction доля первоначального размера в SOL.
	Fraction float64 `json:"fraction"`
	Pending  bool    `json:"pending"`
	Executed bool    `json:"executed"`
}

// Position открытая или закрытая позиция. Изменяется только своим монитором.
type Position struct {
	Mint   string `json:"mint"`
	Symbol string `json:"symbol,omitempty"`
	Wallet string `json:"wallet"`

	QuantityTotal uint64 `json:"quantity_total"`
	QuantitySold  uint64 `json:"quantity_sold"`
	Decimals      uint8  `json:"decimals"`

	// EntryPrice в SOL за целый токен.
	EntryPrice    float64   `json:"entry_price"`
	EntryLamports uint64    `json:"entry_lamports"`
	EntryTime     time.Time `json:"entry_time"`

	StopLossPrice   float64 `json:"stop_loss_price"`
	TakeProfitPrice float64 `json:"take_profit_price"`

	Trailing  Trailing  `json:"trailing"`
	PartialTP PartialTP `json:"partial_tp"`
	MoonBag   bool      `json:"moon_bag"`
	DCA       DCA       `json:"dca"`

	RouteHint string `json:"route_hint,omitempty"`
	State     State  `json:"state"`
	SignalRef string `json:"signal_ref,omitempty"`

	LastPrice        float64    `json:"last_price"`
	LastError        string     `json:"last_error,omitempty"`
	SellFailures     int        `json:"sell_failures"`
	RealizedLamports uint64     `json:"realized_lamports"`
	CloseReason      string     `json:"close_reason,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
}

// Remaining количество токенов, которое ещё можно продать.
func (p *Position) Remaining() uint64 {
	if p.QuantitySold >= p.QuantityTotal {
		return 0
	}
	return p.QuantityTotal - p.QuantitySold
}

func (p *Position) IsOpen() bool { return p.State != StateClosed }

// Validate проверяет инварианты записи.
func (p *Position) Validate() error {
	if p.Mint == "" {
		return fmt.Errorf("mint is required")
	}
	if p.QuantitySold > p.QuantityTotal {
		return fmt.Errorf("quantity sold %d exceeds total %d", p.QuantitySold, p.QuantityTotal)
	}
	if p.EntryPrice <= 0 {
		return fmt.Errorf("entry price must be positive")
	}
	if p.Trailing.Armed && p.Trailing.HighWaterMark < p.EntryPrice {
		return fmt.Errorf("high water mark %v below entry %v", p.Trailing.HighWaterMark, p.EntryPrice)
	}
	switch p.State {
	case StateActive, StatePartiallyClosed:
	case StateClosed:
		if p.Remaining() != 0 {
			return fmt.Errorf("closed position still holds %d tokens", p.Remaining())
		}
	default:
		return fmt.Errorf("unknown state %q", p.State)
	}
	return nil
}

// ApplySell учитывает подтверждённую продажу. Количество обрезается до остатка;
// возвращается фактически учтённое.
func (p *Position) ApplySell(quantity, lamports uint64, reason string, now time.Time) uint64 {
	applied := min(quantity, p.Remaining())
	p.QuantitySold += applied
	p.RealizedLamports += lamports
	p.SellFailures = 0
	p.LastError = ""
	p.UpdatedAt = now

	if p.Remaining() == 0 {
		p.close(reason, now)
	} else if p.QuantitySold > 0 {
		p.State = StatePartiallyClosed
	}
	return applied
}

// ApplyBuy учитывает докупку: средневзвешенная цена входа по остатку.
func (p *Position) ApplyBuy(quantity, lamports uint64, price float64, now time.Time) {
	if quantity == 0 {
		return
	}
	remaining := decimal.NewFromInt(int64(p.Remaining()))
	added := decimal.NewFromInt(int64(quantity))
	entry := decimal.NewFromFloat(p.EntryPrice).Mul(remaining).
		Add(decimal.NewFromFloat(price).Mul(added)).
		Div(remaining.Add(added))

	p.EntryPrice, _ = entry.Float64()
	p.QuantityTotal += quantity
	p.EntryLamports += lamports
	p.UpdatedAt = now
}

// PromoteMoonBag переводит остаток в moon-bag: стоп поднимается до доли от цены срабатывания
// (последней цены), но не ниже входа и не ниже текущего стопа. Take-profit для остатка
// больше не действует.
//
// Пол считается от цены срабатывания, а не от максимума: после трейлинга цена уже на
// trail ниже максимума, и при floor = 1-trail пол совпал бы с ценой продажи.
func (p *Position) PromoteMoonBag(floorFraction float64) {
	p.MoonBag = true
	p.TakeProfitPrice = 0

	basis := p.LastPrice
	if basis <= 0 {
		basis = p.Trailing.HighWaterMark
	}
	p.StopLossPrice = max(p.StopLossPrice, p.EntryPrice, basis*floorFraction)
}

// Reconcile сверяет остаток с балансом кошелька. Возвращает true, если запись изменилась.
// Нулевой баланс закрывает позицию; баланс выше остатка засчитывается как незавершённая докупка.
func (p *Position) Reconcile(onChain uint64, now time.Time) bool {
	remaining := p.Remaining()
	switch {
	case !p.IsOpen():
		return false
	case onChain == 0 && remaining > 0:
		p.QuantitySold = p.QuantityTotal
		p.close(ReasonReconciledZeroBalance, now)
	case onChain < remaining:
		p.QuantityTotal = p.QuantitySold + onChain
	case onChain > remaining && p.DCA.Pending:
		p.QuantityTotal = p.QuantitySold + onChain
		p.DCA.Pending = false
		p.DCA.Executed = true
	case p.DCA.Pending:
		p.DCA.Pending = false
	default:
		return false
	}
	p.UpdatedAt = now
	return true
}

// MarkClosed закрывает позицию без продажи (оператор подтвердил пустой баланс).
func (p *Position) MarkClosed(reason string, now time.Time) {
	p.QuantitySold = p.QuantityTotal
	p.close(reason, now)
}

func (p *Position) close(reason string, now time.Time) {
	p.State = StateClosed
	p.CloseReason = reason
	p.ClosedAt = &now
	p.UpdatedAt = now
}

// RealizedSOL выручка от продаж в SOL.
func (p *Position) RealizedSOL() decimal.Decimal {
	return decimal.New(int64(p.RealizedLamports), 0).Div(decimal.New(lamportsPerSOL, 0))
}

// EntrySOL вложено в позицию, в SOL.
func (p *Position) EntrySOL() decimal.Decimal {
	return decimal.New(int64(p.EntryLamports), 0).Div(decimal.New(lamportsPerSOL, 0))
}

// PnLPercent нереализованное изменение цены относительно входа.
func (p *Position) PnLPercent(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price/p.EntryPrice - 1) * 100
}
