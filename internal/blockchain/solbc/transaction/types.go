// internal/blockchain/solbc/transaction/types.go
package transaction

import (
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrInvalidSignature   = errors.New("invalid transaction signature")
	ErrInvalidBlockhash   = errors.New("invalid blockhash")
	ErrInvalidInstruction = errors.New("invalid instruction")
	ErrInvalidPayer       = errors.New("fee payer does not match signer")
)

const defaultConfirmTimeout = 30 * time.Second

type Config struct {
	// Workload имя нагрузки для выбора RPC-профиля
	Workload       string
	ConfirmTimeout time.Duration
}

// Status результат отправки подтверждённой транзакции.
type Status struct {
	Signature   solana.Signature
	SentAt      time.Time
	ConfirmedAt time.Time
}

// Latency время от отправки до подтверждения.
func (s *Status) Latency() time.Duration {
	return s.ConfirmedAt.Sub(s.SentAt)
}
