// internal/types/errors.go
package types

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// ErrorClass классификация сбоя, от которой зависит стратегия повтора.
type ErrorClass string

const (
	ClassTransient          ErrorClass = "transient"
	ClassNonRetryable       ErrorClass = "non_retryable"
	ClassUnknown            ErrorClass = "unknown"
	ClassDataUnavailable    ErrorClass = "data_unavailable"
	ClassStateInconsistency ErrorClass = "state_inconsistency"
)

// Anchor error codes, которые встречаются в логах симуляции.
const (
	SlippageExceededCode        = "0x1774"
	SlippageExceededCodeInt     = 6004
	BondingCurveCompleteCode    = "0x1775"
	BondingCurveCompleteCodeInt = 6005
)

// JSON-RPC коды узлов Solana, после которых имеет смысл повторить запрос.
const (
	rpcCodeBlockNotAvailable = -32004
	rpcCodeNodeUnhealthy     = -32005
	rpcCodeSlotSkipped       = -32007
	rpcCodeTooManyRequests   = 429
)

// ClassifiedError ошибка с явно назначенным классом.
type ClassifiedError struct {
	Class ErrorClass
	Op    string
	Err   error
}

func (e *ClassifiedError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// WithClass оборачивает err в ClassifiedError.
func WithClass(class ErrorClass, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: class, Op: op, Err: err}
}

func Transient(op string, err error) error    { return WithClass(ClassTransient, op, err) }
func NonRetryable(op string, err error) error { return WithClass(ClassNonRetryable, op, err) }

var (
	transientPatterns = []string{
		"timeout",
		"deadline exceeded",
		"too many requests",
		"status code: 429",
		"rate limit",
		"blockhash not found",
		"block height exceeded",
		"connection refused",
		"connection reset",
		"broken pipe",
		"unexpected eof",
		"service unavailable",
		"bad gateway",
		"node is behind",
		"temporarily unavailable",
		"not confirmed",
	}
	nonRetryablePatterns = []string{
		"insufficient funds",
		"insufficient lamports",
		"custom program error",
		"invalid account data",
		"account not found",
		"accountnotinitialized",
		"program failed to complete",
		"instruction error",
		"instructionerror",
		"invalid mint",
	}
)

// Classify относит ошибку к одному из классов таксономии.
// Явно классифицированная ошибка сохраняет свой класс.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}

	// Отмена контекста означает остановку процесса, повторять бессмысленно
	if errors.Is(err, context.Canceled) {
		return ClassNonRetryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	// Программные ошибки проверяем раньше, иначе "Transaction simulation failed" затеряется среди кодов узла
	if IsSlippageExceeded(err) || IsBondingCurveComplete(err) {
		return ClassNonRetryable
	}

	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) && (httpErr.Code == rpcCodeTooManyRequests || httpErr.Code >= 500) {
		return ClassTransient
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case rpcCodeBlockNotAvailable, rpcCodeNodeUnhealthy, rpcCodeSlotSkipped, rpcCodeTooManyRequests:
			return ClassTransient
		}
	}

	msg := strings.ToLower(errorText(err))
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return ClassTransient
		}
	}
	for _, p := range nonRetryablePatterns {
		if strings.Contains(msg, p) {
			return ClassNonRetryable
		}
	}
	return ClassUnknown
}

// IsSlippageExceeded определяет, является ли ошибка ошибкой превышения проскальзывания.
func IsSlippageExceeded(err error) bool {
	if err == nil {
		return false
	}
	msg := errorText(err)
	return strings.Contains(msg, "ExceededSlippage") ||
		strings.Contains(msg, "TooLittleSolReceived") ||
		strings.Contains(msg, "TooMuchSolRequired") ||
		strings.Contains(msg, SlippageExceededCode) ||
		strings.Contains(msg, fmt.Sprintf("Error Number: %d", SlippageExceededCodeInt)) ||
		strings.Contains(msg, fmt.Sprintf("Custom:%d", SlippageExceededCodeInt))
}

// IsBondingCurveComplete токен мигрировал с bonding curve; продавать нужно через AMM.
func IsBondingCurveComplete(err error) bool {
	if err == nil {
		return false
	}
	msg := errorText(err)
	return strings.Contains(msg, "BondingCurveComplete") ||
		strings.Contains(msg, BondingCurveCompleteCode) ||
		strings.Contains(msg, fmt.Sprintf("Error Number: %d", BondingCurveCompleteCodeInt)) ||
		strings.Contains(msg, fmt.Sprintf("Custom:%d", BondingCurveCompleteCodeInt))
}

// errorText включает логи симуляции из RPCError.Data, где и лежат коды Anchor.
func errorText(err error) string {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Data != nil {
		return err.Error() + " " + fmt.Sprint(rpcErr.Data)
	}
	return err.Error()
}
