package journal

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solana-exit-engine/internal/dex"
)

// Trade одна строка журнала сделок.
type Trade struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	Wallet     string        `json:"wallet"`
	Mint       string        `json:"mint"`
	Side       string        `json:"side"`
	Route      string        `json:"route,omitempty"`
	Signature  string        `json:"signature,omitempty"`
	Quantity   uint64        `json:"quantity"`
	Lamports   uint64        `json:"lamports"`
	Verified   bool          `json:"verified"`
	Attempts   int           `json:"attempts"`
	Latency    time.Duration `json:"latency"`
	Success    bool          `json:"success"`
	ErrorClass string        `json:"error_class,omitempty"`
	ErrorMsg   string        `json:"error_msg,omitempty"`
}

// FromResult строка журнала по исходу исполнения.
func FromResult(r dex.ExecutionResult, wallet string, now time.Time) Trade {
	t := Trade{
		ID:        uuid.NewString(),
		Timestamp: now,
		Wallet:    wallet,
		Mint:      r.Mint.String(),
		Side:      string(r.Side),
		Route:     r.Route,
		Quantity:  r.Quantity,
		Lamports:  r.Lamports,
		Verified:  r.Verified,
		Attempts:  len(r.Attempts),
		Latency:   r.Latency,
		Success:   r.Success,
	}
	if r.Success {
		t.Signature = r.Signature.String()
	} else {
		t.ErrorClass = string(r.Class())
		if r.Err != nil {
			t.ErrorMsg = r.Err.Error()
		}
	}
	return t
}

// AmountSOL сумма сделки в SOL.
func (t *Trade) AmountSOL() decimal.Decimal {
	return decimal.New(int64(t.Lamports), -9)
}

func (t *Trade) ToCSV() []string {
	return []string{
		t.ID,
		t.Timestamp.UTC().Format(time.RFC3339),
		t.Wallet,
		t.Mint,
		t.Side,
		t.Route,
		t.Signature,
		formatUint64(t.Quantity),
		t.AmountSOL().StringFixed(9),
		strconv.FormatBool(t.Verified),
		strconv.Itoa(t.Attempts),
		strconv.FormatInt(t.Latency.Milliseconds(), 10),
		strconv.FormatBool(t.Success),
		t.ErrorClass,
		t.ErrorMsg,
	}
}

// CSVHeaders заголовок файла журнала.
func CSVHeaders() []string {
	return []string{
		"id",
		"timestamp",
		"wallet",
		"mint",
		"side",
		"route",
		"signature",
		"quantity",
		"amount_sol",
		"verified",
		"attempts",
		"latency_ms",
		"success",
		"error_class",
		"error_msg",
	}
}

func formatUint64(u uint64) string {
	if u == 0 {
		return ""
	}
	return strconv.FormatUint(u, 10)
}
