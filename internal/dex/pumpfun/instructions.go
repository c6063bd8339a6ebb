package pumpfun

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// BuildBuyInstruction builds a buy instruction for Pump.fun protocol
func BuildBuyInstruction(accounts Accounts, feeRecipient, user, userATA solana.PublicKey, amount, maxSolCost uint64) solana.Instruction {
	data := encodeAmounts(BuyDiscriminator, amount, maxSolCost)

	// Account list must be in the exact order expected by the program
	insAccounts := []*solana.AccountMeta{
		solana.NewAccountMeta(accounts.Global, false, false),
		solana.NewAccountMeta(feeRecipient, true, false),
		solana.NewAccountMeta(accounts.Mint, false, false),
		solana.NewAccountMeta(accounts.BondingCurve, true, false),
		solana.NewAccountMeta(accounts.AssociatedBondingCurve, true, false),
		solana.NewAccountMeta(userATA, true, false),
		solana.NewAccountMeta(user, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		solana.NewAccountMeta(accounts.EventAuthority, false, false),
		solana.NewAccountMeta(accounts.Program, false, false),
	}

	return solana.NewInstruction(accounts.Program, insAccounts, data)
}

// BuildSellInstruction builds a sell instruction for Pump.fun protocol
func BuildSellInstruction(accounts Accounts, feeRecipient, user, userATA solana.PublicKey, amount, minSolOutput uint64) solana.Instruction {
	data := encodeAmounts(SellDiscriminator, amount, minSolOutput)

	insAccounts := []*solana.AccountMeta{
		solana.NewAccountMeta(accounts.Global, false, false),
		solana.NewAccountMeta(feeRecipient, true, false),
		solana.NewAccountMeta(accounts.Mint, false, false),
		solana.NewAccountMeta(accounts.BondingCurve, true, false),
		solana.NewAccountMeta(accounts.AssociatedBondingCurve, true, false),
		solana.NewAccountMeta(userATA, true, false),
		solana.NewAccountMeta(user, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
		solana.NewAccountMeta(accounts.EventAuthority, false, false),
		solana.NewAccountMeta(accounts.Program, false, false),
	}

	return solana.NewInstruction(accounts.Program, insAccounts, data)
}

func encodeAmounts(discriminator []byte, first, second uint64) []byte {
	data := make([]byte, len(discriminator)+16)
	copy(data, discriminator)
	binary.LittleEndian.PutUint64(data[len(discriminator):], first)
	binary.LittleEndian.PutUint64(data[len(discriminator)+8:], second)
	return data
}
