// internal/blockchain/solbc/transaction/validator.go
package transaction

import (
	"github.com/gagliardetto/solana-go"
)

// Validator проверяет транзакцию перед отправкой, чтобы не тратить RPC-бюджет на заведомый брак.
type Validator struct{}

func (v Validator) ValidateTransaction(tx *solana.Transaction, payer solana.PublicKey) error {
	if err := v.ValidateSignatures(tx, payer); err != nil {
		return err
	}
	if err := v.ValidateBlockhash(tx); err != nil {
		return err
	}
	return v.ValidateInstructions(tx.Message.Instructions)
}

func (v Validator) ValidateSignatures(tx *solana.Transaction, payer solana.PublicKey) error {
	if len(tx.Signatures) == 0 || tx.Signatures[0].IsZero() {
		return ErrInvalidSignature
	}
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(payer) {
		return ErrInvalidPayer
	}
	return nil
}

func (v Validator) ValidateBlockhash(tx *solana.Transaction) error {
	if tx.Message.RecentBlockhash.IsZero() {
		return ErrInvalidBlockhash
	}
	return nil
}

func (v Validator) ValidateInstructions(instructions []solana.CompiledInstruction) error {
	if len(instructions) == 0 {
		return ErrInvalidInstruction
	}
	return nil
}
