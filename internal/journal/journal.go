package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/dex"
	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
)

const (
	FileName         = "trades.csv"
	DefaultMaxRecent = 500
	flushInterval    = 30 * time.Second
)

// Journal пишет каждую сделку исполнителя в CSV и держит последние в памяти.
// Реализует dex.Observer.
type Journal struct {
	mu        sync.RWMutex
	csv       *CSVWriter
	trades    []Trade
	maxRecent int
	wallet    string
	logger    *zap.Logger
	now       func() time.Time

	stats Statistics
}

// Statistics агрегаты по всем записанным сделкам.
type Statistics struct {
	TotalTrades      int    `json:"total_trades"`
	SuccessfulTrades int    `json:"successful_trades"`
	FailedTrades     int    `json:"failed_trades"`
	BuyCount         int    `json:"buy_count"`
	SellCount        int    `json:"sell_count"`
	SpentLamports    uint64 `json:"spent_lamports"`
	ReceivedLamports uint64 `json:"received_lamports"`
	Unverified       int    `json:"unverified"`
}

// SuccessRate доля успешных сделок в процентах.
func (s Statistics) SuccessRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.SuccessfulTrades) / float64(s.TotalTrades) * 100
}

// Open открывает (или продолжает) журнал в dir.
func Open(dir, wallet string, maxRecent int, logger *zap.Logger) (*Journal, error) {
	if maxRecent <= 0 {
		maxRecent = DefaultMaxRecent
	}
	path := filepath.Join(dir, FileName)
	w, err := NewCSVWriter(path, CSVHeaders(), flushInterval, logger)
	if err != nil {
		return nil, fmt.Errorf("open trade journal: %w", err)
	}

	logger.Info("Trade journal opened",
		zap.String("csv_file", path),
		zap.Int("max_memory_trades", maxRecent))

	return &Journal{
		csv:       w,
		trades:    make([]Trade, 0, maxRecent),
		maxRecent: maxRecent,
		wallet:    wallet,
		logger:    logger.Named("journal"),
		now:       time.Now,
	}, nil
}

// OnTrade записывает исход сделки.
func (j *Journal) OnTrade(_ context.Context, r dex.ExecutionResult) {
	if err := j.Log(FromResult(r, j.wallet, j.now())); err != nil {
		j.logger.Error("Failed to journal trade", zap.String("mint", r.Mint.String()), zap.Error(err))
	}
}

// Log добавляет строку в журнал.
func (j *Journal) Log(t Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.csv.WriteRecord(t.ToCSV()); err != nil {
		return fmt.Errorf("failed to write trade: %w", err)
	}

	if len(j.trades) >= j.maxRecent {
		j.trades = j.trades[1:]
	}
	j.trades = append(j.trades, t)

	j.stats.TotalTrades++
	if !t.Success {
		j.stats.FailedTrades++
		return nil
	}
	j.stats.SuccessfulTrades++
	if !t.Verified {
		j.stats.Unverified++
	}
	switch types.Side(t.Side) {
	case types.SideBuy:
		j.stats.BuyCount++
		j.stats.SpentLamports += t.Lamports
	case types.SideSell:
		j.stats.SellCount++
		j.stats.ReceivedLamports += t.Lamports
	}
	return nil
}

// Recent последние limit сделок, от старых к новым. limit <= 0 возвращает все.
func (j *Journal) Recent(limit int) []Trade {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if limit <= 0 || limit > len(j.trades) {
		limit = len(j.trades)
	}
	out := make([]Trade, limit)
	copy(out, j.trades[len(j.trades)-limit:])
	return out
}

// ByMint сделки по токену из памяти.
func (j *Journal) ByMint(mint string) []Trade {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []Trade
	for _, t := range j.trades {
		if t.Mint == mint {
			out = append(out, t)
		}
	}
	return out
}

func (j *Journal) Statistics() Statistics {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stats
}

func (j *Journal) Flush() error {
	return j.csv.Flush()
}

func (j *Journal) Close() error {
	stats := j.Statistics()
	j.logger.Info("Closing trade journal",
		zap.Int("total_trades", stats.TotalTrades),
		zap.Int("failed_trades", stats.FailedTrades),
		zap.Float64("success_rate", stats.SuccessRate()))
	return j.csv.Close()
}
