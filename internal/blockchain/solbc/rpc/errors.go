// internal/blockchain/solbc/rpc/errors.go
package rpc

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
)

var (
	// ErrNoProvider ни один провайдер профиля не умеет требуемое
	ErrNoProvider = errors.New("no RPC provider with required capability")

	// ErrUnknownProvider профиль ссылается на несуществующего провайдера
	ErrUnknownProvider = errors.New("unknown RPC provider")

	// ErrAccountNotFound аккаунт не существует (или ещё не создан)
	ErrAccountNotFound = errors.New("account not found")

	errWSUnavailable = errors.New("websocket unavailable")
)

// Error ошибка RPC с контекстом провайдера.
type Error struct {
	Err      error
	Provider string
	Workload string
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error [%s] at %s: %v", e.Workload, e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func nonRetryableNotFound(account solana.PublicKey) error {
	return types.NonRetryable("get account", fmt.Errorf("%w: %s", ErrAccountNotFound, account))
}
