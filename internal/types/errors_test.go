package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ""},
		{"deadline", fmt.Errorf("await: %w", context.DeadlineExceeded), ClassTransient},
		{"canceled", context.Canceled, ClassNonRetryable},
		{"rate limited", errors.New("429 Too Many Requests"), ClassTransient},
		{"blockhash", errors.New("Transaction simulation failed: Blockhash not found"), ClassTransient},
		{"slippage hex", errors.New("custom program error: 0x1774"), ClassNonRetryable},
		{"slippage anchor", errors.New("AnchorError occurred. Error Code: TooLittleSolReceived. Error Number: 6004."), ClassNonRetryable},
		{"curve complete", errors.New("Error Code: BondingCurveComplete"), ClassNonRetryable},
		{"on-chain status", fmt.Errorf("transaction failed: %v", map[string]interface{}{"InstructionError": []interface{}{2, map[string]interface{}{"Custom": 6004}}}), ClassNonRetryable},
		{"insufficient", errors.New("insufficient funds for fee"), ClassNonRetryable},
		{"http 429", jsonrpc.NewHTTPError(429, errors.New("status code: 429")), ClassTransient},
		{"node behind", &jsonrpc.RPCError{Code: -32005, Message: "Node is unhealthy"}, ClassTransient},
		{"explicit", Transient("send", errors.New("custom program error: 0x1")), ClassTransient},
		{"mystery", errors.New("something odd happened"), ClassUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassifyReadsSimulationLogs(t *testing.T) {
	err := &jsonrpc.RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed",
		Data: map[string]interface{}{
			"logs": []interface{}{"Program log: AnchorError occurred. Error Code: TooLittleSolReceived. Error Number: 6004."},
		},
	}
	assert.True(t, IsSlippageExceeded(err))
	assert.Equal(t, ClassNonRetryable, Classify(err))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := NonRetryable("build", base)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "build non_retryable")
}

func TestSlippageBounds(t *testing.T) {
	assert.Equal(t, uint64(9_900), MinAmountOut(10_000, 100))
	assert.Equal(t, uint64(10_100), MaxAmountIn(10_000, 100))
	assert.Equal(t, uint64(1), MinAmountOut(1, 5_000))
	assert.Equal(t, uint64(0), MinAmountOut(0, 100))
	// no overflow for large amounts
	assert.Equal(t, uint64(18_000_000_000_000_000_000)/10_000*9_000, MinAmountOut(18_000_000_000_000_000_000, 1_000))
}
