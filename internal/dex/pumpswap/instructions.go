// internal/dex/pumpswap/instructions.go
package pumpswap

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// Дискриминаторы инструкций buy/sell из IDL программы.
var (
	buyDiscriminator  = [8]byte{102, 6, 61, 18, 1, 218, 235, 234}
	sellDiscriminator = [8]byte{51, 230, 133, 164, 1, 127, 131, 173}
)

// swapAccounts аккаунты swap-инструкции. Направление (buy/sell) считается
// относительно базового токена пула, а не токена позиции.
type swapAccounts struct {
	Pool                  solana.PublicKey
	User                  solana.PublicKey
	GlobalConfig          solana.PublicKey
	BaseMint              solana.PublicKey
	QuoteMint             solana.PublicKey
	UserBase              solana.PublicKey
	UserQuote             solana.PublicKey
	PoolBase              solana.PublicKey
	PoolQuote             solana.PublicKey
	FeeRecipient          solana.PublicKey
	FeeRecipientATA       solana.PublicKey
	EventAuthority        solana.PublicKey
	Program               solana.PublicKey
	CreatorVaultATA       solana.PublicKey
	CreatorVaultAuthority solana.PublicKey
}

// metas порядок аккаунтов фиксирован программой.
func (a swapAccounts) metas() []*solana.AccountMeta {
	ro := func(k solana.PublicKey) *solana.AccountMeta { return solana.NewAccountMeta(k, false, false) }
	rw := func(k solana.PublicKey) *solana.AccountMeta { return solana.NewAccountMeta(k, true, false) }

	return []*solana.AccountMeta{
		ro(a.Pool),
		solana.NewAccountMeta(a.User, true, true),
		ro(a.GlobalConfig),
		ro(a.BaseMint),
		ro(a.QuoteMint),
		rw(a.UserBase),
		rw(a.UserQuote),
		rw(a.PoolBase),
		rw(a.PoolQuote),
		ro(a.FeeRecipient),
		rw(a.FeeRecipientATA),
		ro(solana.TokenProgramID), // base token program
		ro(solana.TokenProgramID), // quote token program
		ro(solana.SystemProgramID),
		ro(solana.SPLAssociatedTokenAccountProgramID),
		ro(a.EventAuthority),
		ro(a.Program),
		rw(a.CreatorVaultATA),
		ro(a.CreatorVaultAuthority),
	}
}

// poolBuy покупка базового токена: baseOut точно, quote не больше maxQuoteIn.
func poolBuy(a swapAccounts, baseOut, maxQuoteIn uint64) solana.Instruction {
	return solana.NewInstruction(a.Program, a.metas(), swapData(buyDiscriminator, baseOut, maxQuoteIn))
}

// poolSell продажа базового токена: baseIn точно, quote не меньше minQuoteOut.
func poolSell(a swapAccounts, baseIn, minQuoteOut uint64) solana.Instruction {
	return solana.NewInstruction(a.Program, a.metas(), swapData(sellDiscriminator, baseIn, minQuoteOut))
}

func swapData(disc [8]byte, first, second uint64) []byte {
	data := make([]byte, 24)
	copy(data, disc[:])
	binary.LittleEndian.PutUint64(data[8:], first)
	binary.LittleEndian.PutUint64(data[16:], second)
	return data
}
