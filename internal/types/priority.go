package types

import (
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
)

// PriorityConfig параметры compute budget для одной транзакции.
type PriorityConfig struct {
	ComputeUnits uint32 // Number of compute units
	PriorityFee  uint64 // Priority fee in micro-lamports per compute unit
}

// Instructions строит инструкции compute budget; они должны идти первыми в транзакции.
func (c PriorityConfig) Instructions() []solana.Instruction {
	var instructions []solana.Instruction

	// Set compute unit limit
	if c.ComputeUnits > 0 {
		instructions = append(instructions,
			computebudget.NewSetComputeUnitLimitInstruction(c.ComputeUnits).Build())
	}

	// Set compute unit price
	if c.PriorityFee > 0 {
		instructions = append(instructions,
			computebudget.NewSetComputeUnitPriceInstruction(c.PriorityFee).Build())
	}

	return instructions
}

// TotalLamports приоритетная доплата в лампортах при полном расходе лимита CU.
func (c PriorityConfig) TotalLamports() uint64 {
	return uint64(c.ComputeUnits) * c.PriorityFee / 1_000_000
}
