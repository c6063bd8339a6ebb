// =============================
// File: internal/ledger/ledger.go
// =============================
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/storage"
)

const Bucket = "purchases"

// DefaultRetention записи старше этого удаляются при компакции.
const DefaultRetention = 24 * time.Hour

var (
	ErrAlreadyPurchased = errors.New("asset already purchased")
	ErrNotFound         = errors.New("purchase not found")
)

// Record факт покупки актива. Только добавляется; удаляется компакцией по возрасту.
type Record struct {
	Mint        string    `json:"mint"`
	Symbol      string    `json:"symbol,omitempty"`
	Buyer       string    `json:"buyer"`
	Route       string    `json:"route"`
	Price       float64   `json:"price"`
	Quantity    uint64    `json:"quantity"`
	Lamports    uint64    `json:"lamports"`
	Signature   string    `json:"signature,omitempty"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// Ledger журнал покупок, не допускающий повторного входа в тот же актив.
type Ledger struct {
	kv        storage.Store
	retention time.Duration
	logger    *zap.Logger
}

func New(kv storage.Store, retention time.Duration, logger *zap.Logger) *Ledger {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Ledger{kv: kv, retention: retention, logger: logger.Named("ledger")}
}

func (l *Ledger) WasPurchased(ctx context.Context, mint string) (bool, error) {
	_, err := l.kv.Get(ctx, Bucket, mint)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check purchase %s: %w", mint, err)
	}
	return true, nil
}

// Record добавляет покупку. Существующая запись не перезаписывается.
func (l *Ledger) Record(ctx context.Context, rec Record) error {
	if rec.Mint == "" {
		return fmt.Errorf("mint is required")
	}
	if rec.PurchasedAt.IsZero() {
		rec.PurchasedAt = time.Now()
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	err = l.kv.Update(ctx, Bucket, rec.Mint, func(current []byte) ([]byte, error) {
		if current != nil {
			return nil, fmt.Errorf("%s: %w", rec.Mint, ErrAlreadyPurchased)
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	l.logger.Info("Purchase recorded",
		zap.String("mint", rec.Mint),
		zap.String("route", rec.Route),
		zap.Uint64("quantity", rec.Quantity))
	return nil
}

func (l *Ledger) Get(ctx context.Context, mint string) (*Record, error) {
	data, err := l.kv.Get(ctx, Bucket, mint)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", mint, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode purchase %s: %w", mint, err)
	}
	return &rec, nil
}

func (l *Ledger) List(ctx context.Context) ([]Record, error) {
	records, err := l.kv.List(ctx, Bucket)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		var rec Record
		if err := json.Unmarshal(r.Value, &rec); err != nil {
			l.logger.Error("Skipping unreadable purchase record", zap.String("key", r.Key), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// ActiveFunc сообщает, открыта ли ещё позиция по mint.
type ActiveFunc func(ctx context.Context, mint string) (bool, error)

// Compact удаляет записи старше срока хранения, кроме активов с открытой позицией.
// Ошибка проверки активности оставляет запись на месте.
func (l *Ledger) Compact(ctx context.Context, now time.Time, isActive ActiveFunc) (int, error) {
	records, err := l.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-l.retention)
	removed := 0
	for _, rec := range records {
		if !rec.PurchasedAt.Before(cutoff) {
			continue
		}
		active, err := isActive(ctx, rec.Mint)
		if err != nil {
			l.logger.Warn("Keeping purchase, position state unknown", zap.String("mint", rec.Mint), zap.Error(err))
			continue
		}
		if active {
			continue
		}
		if err := l.kv.Delete(ctx, Bucket, rec.Mint); err != nil {
			return removed, fmt.Errorf("delete purchase %s: %w", rec.Mint, err)
		}
		removed++
	}

	if removed > 0 {
		l.logger.Info("Ledger compacted", zap.Int("removed", removed), zap.Int("kept", len(records)-removed))
	}
	return removed, nil
}
