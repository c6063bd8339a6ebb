// ==============================================
// File: internal/dex/pumpfun/bonding_curve.go
// ==============================================
package pumpfun

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// ErrCurveComplete токен мигрировал в AMM, bonding curve больше не торгует.
var ErrCurveComplete = errors.New("bonding curve complete")

// BondingCurve состояние аккаунта bonding curve после 8-байтового discriminator.
type BondingCurve struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

// GlobalAccount нужная часть глобального аккаунта Pump.fun.
type GlobalAccount struct {
	Initialized    bool
	Authority      solana.PublicKey
	FeeRecipient   solana.PublicKey
	FeeBasisPoints uint64
}

// ParseBondingCurve разбирает данные аккаунта bonding curve.
func ParseBondingCurve(data []byte) (*BondingCurve, error) {
	if len(data) < 24 {
		return nil, fmt.Errorf("invalid bonding curve data: insufficient length %d", len(data))
	}

	curve := &BondingCurve{
		VirtualTokenReserves: binary.LittleEndian.Uint64(data[8:16]),
		VirtualSolReserves:   binary.LittleEndian.Uint64(data[16:24]),
	}
	if len(data) >= 49 {
		curve.RealTokenReserves = binary.LittleEndian.Uint64(data[24:32])
		curve.RealSolReserves = binary.LittleEndian.Uint64(data[32:40])
		curve.TokenTotalSupply = binary.LittleEndian.Uint64(data[40:48])
		curve.Complete = data[48] != 0
	}
	return curve, nil
}

// ParseGlobalAccount разбирает глобальный аккаунт: discriminator, флаг, authority, fee recipient, fee bps.
func ParseGlobalAccount(data []byte) (*GlobalAccount, error) {
	// 8 (дискриминатор) + 1 (флаг) + 64 (два публичных ключа)
	if len(data) < 8+1+64 {
		return nil, fmt.Errorf("global account data too short: %d bytes", len(data))
	}

	account := &GlobalAccount{
		Initialized:  data[8] != 0,
		Authority:    solana.PublicKeyFromBytes(data[9:41]),
		FeeRecipient: solana.PublicKeyFromBytes(data[41:73]),
	}
	if len(data) >= 81 {
		account.FeeBasisPoints = binary.LittleEndian.Uint64(data[73:81])
	}
	return account, nil
}

// SellQuote лампорты за tokenAmount после протокольной комиссии:
// vs·t / (vt + t) × (1 − 1%).
func (bc *BondingCurve) SellQuote(tokenAmount uint64) uint64 {
	if bc.VirtualTokenReserves == 0 || bc.VirtualSolReserves == 0 || tokenAmount == 0 {
		return 0
	}
	out := mulDiv(bc.VirtualSolReserves, tokenAmount, bc.VirtualTokenReserves, tokenAmount)
	return applyProtocolFee(out)
}

// BuyQuote сколько токенов даст кривая за lamports (комиссия удерживается со входа).
func (bc *BondingCurve) BuyQuote(lamports uint64) uint64 {
	if bc.VirtualTokenReserves == 0 || bc.VirtualSolReserves == 0 || lamports == 0 {
		return 0
	}
	net := applyProtocolFee(lamports)
	out := mulDiv(bc.VirtualTokenReserves, net, bc.VirtualSolReserves, net)
	if bc.RealTokenReserves > 0 && out > bc.RealTokenReserves {
		out = bc.RealTokenReserves
	}
	return out
}

// SpotPrice цена одного токена в SOL.
func (bc *BondingCurve) SpotPrice() (float64, error) {
	if bc.VirtualTokenReserves == 0 || bc.VirtualSolReserves == 0 {
		return 0, fmt.Errorf("bonding curve has zero reserves")
	}
	sol := decimal.New(int64(bc.VirtualSolReserves), -solDecimals)
	tokens := decimal.New(int64(bc.VirtualTokenReserves), -tokenDecimals)
	price, _ := sol.Div(tokens).Float64()
	return price, nil
}

// mulDiv считает y·a / (x + a) без переполнения.
func mulDiv(y, a, x, addend uint64) uint64 {
	num := new(big.Int).Mul(new(big.Int).SetUint64(y), new(big.Int).SetUint64(a))
	den := new(big.Int).Add(new(big.Int).SetUint64(x), new(big.Int).SetUint64(addend))
	return num.Quo(num, den).Uint64()
}

func applyProtocolFee(amount uint64) uint64 {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0).
		Mul(decimal.NewFromFloat(1 - protocolFeePercent/100)).
		Floor().BigInt().Uint64()
}
