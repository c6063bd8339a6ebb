// internal/dex/pumpfun/config.go
package pumpfun

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Known PumpFun protocol addresses
var (
	// Program ID for Pump.fun protocol
	PumpFunProgramID = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")

	// Event authority for the Pump.fun protocol
	PumpFunEventAuth = solana.MustPublicKeyFromBase58("Ce6TQqeHC9p8KetsN6JsjHK7UTZk7nasjjnr7XxXp9F1")
)

// Anchor discriminators инструкций buy/sell.
var (
	BuyDiscriminator  = []byte{102, 6, 61, 18, 1, 218, 235, 234}
	SellDiscriminator = []byte{51, 230, 133, 164, 1, 127, 131, 173}
)

const (
	tokenDecimals      = 6
	solDecimals        = 9
	protocolFeePercent = 1.0
)

// Accounts адреса, общие для buy и sell одного токена.
type Accounts struct {
	Program                solana.PublicKey
	Global                 solana.PublicKey
	EventAuthority         solana.PublicKey
	Mint                   solana.PublicKey
	BondingCurve           solana.PublicKey
	AssociatedBondingCurve solana.PublicKey
}

// DeriveAccounts вычисляет PDA bonding curve и её токен-аккаунт для mint.
func DeriveAccounts(mint solana.PublicKey) (Accounts, error) {
	global, _, err := solana.FindProgramAddress([][]byte{[]byte("global")}, PumpFunProgramID)
	if err != nil {
		return Accounts{}, fmt.Errorf("failed to derive global account: %w", err)
	}

	bondingCurve, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("bonding-curve"), mint.Bytes()},
		PumpFunProgramID,
	)
	if err != nil {
		return Accounts{}, fmt.Errorf("failed to derive bonding curve: %w", err)
	}

	associatedBondingCurve, _, err := solana.FindAssociatedTokenAddress(bondingCurve, mint)
	if err != nil {
		return Accounts{}, fmt.Errorf("failed to derive associated bonding curve: %w", err)
	}

	return Accounts{
		Program:                PumpFunProgramID,
		Global:                 global,
		EventAuthority:         PumpFunEventAuth,
		Mint:                   mint,
		BondingCurve:           bondingCurve,
		AssociatedBondingCurve: associatedBondingCurve,
	}, nil
}
