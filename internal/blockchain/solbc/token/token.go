// internal/blockchain/solbc/token/token.go
package token

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	splToken "github.com/gagliardetto/solana-go/programs/token"
)

// Смещение и размер поля amount в аккаунте SPL Token.
const (
	AccountAmountOffset = 64
	AccountAmountSize   = 8
)

// Индекс инструкции CreateIdempotent программы ATA.
const createIdempotent = 1

// CreateATAIdempotent создаёт ATA, если его ещё нет; повторный вызов не падает.
func CreateATAIdempotent(payer, owner, mint solana.PublicKey) (solana.Instruction, solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to derive ATA for %s: %w", mint, err)
	}
	accounts := []*solana.AccountMeta{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(ata, true, false),
		solana.NewAccountMeta(owner, false, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, accounts, []byte{createIdempotent}), ata, nil
}

// WrapSOL переводит lamports на WSOL-аккаунт и синхронизирует его баланс.
func WrapSOL(owner, wsolAccount solana.PublicKey, lamports uint64) []solana.Instruction {
	return []solana.Instruction{
		system.NewTransferInstruction(lamports, owner, wsolAccount).Build(),
		splToken.NewSyncNativeInstruction(wsolAccount).Build(),
	}
}

// CloseAccount закрывает токен-аккаунт; для WSOL это возврат лампортов владельцу.
func CloseAccount(account, owner solana.PublicKey) solana.Instruction {
	return splToken.NewCloseAccountInstruction(account, owner, owner, nil).Build()
}

// ParseAmount читает баланс из сырых данных аккаунта SPL Token.
func ParseAmount(data []byte) (uint64, error) {
	if len(data) < AccountAmountOffset+AccountAmountSize {
		return 0, fmt.Errorf("token account data too short: %d bytes", len(data))
	}
	return binary.LittleEndian.Uint64(data[AccountAmountOffset : AccountAmountOffset+AccountAmountSize]), nil
}
