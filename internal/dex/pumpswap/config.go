package pumpswap

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// PumpSwapProgramID программа AMM, в которую мигрируют токены с bonding curve.
var PumpSwapProgramID = solana.MustPublicKeyFromBase58("pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA")

// Account discriminators extracted from the IDL
var (
	GlobalConfigDiscriminator = []byte{149, 8, 156, 202, 160, 252, 176, 217}
	PoolDiscriminator         = []byte{241, 154, 109, 4, 17, 177, 109, 188}
)

// DisableFlags bits in GlobalConfig
const (
	DisableCreatePool = 1 << iota
	DisableDeposit
	DisableWithdraw
	DisableBuy
	DisableSell
)

// GlobalConfig represents the global configuration for PumpSwap
type GlobalConfig struct {
	Admin                  solana.PublicKey
	LPFeeBasisPoints       uint64
	ProtocolFeeBasisPoints uint64
	DisableFlags           uint8
	ProtocolFeeRecipients  [8]solana.PublicKey
}

// Addresses PDA программы, не зависящие от токена.
type Addresses struct {
	Program        solana.PublicKey
	GlobalConfig   solana.PublicKey
	EventAuthority solana.PublicKey
}

// DeriveAddresses вычисляет global_config и __event_authority.
func DeriveAddresses() (Addresses, error) {
	globalConfig, _, err := solana.FindProgramAddress([][]byte{[]byte("global_config")}, PumpSwapProgramID)
	if err != nil {
		return Addresses{}, fmt.Errorf("failed to derive global config address: %w", err)
	}
	eventAuthority, _, err := solana.FindProgramAddress([][]byte{[]byte("__event_authority")}, PumpSwapProgramID)
	if err != nil {
		return Addresses{}, fmt.Errorf("failed to derive event authority: %w", err)
	}
	return Addresses{
		Program:        PumpSwapProgramID,
		GlobalConfig:   globalConfig,
		EventAuthority: eventAuthority,
	}, nil
}

// CoinCreatorVault PDA хранилища комиссий создателя и его WSOL-аккаунт.
func CoinCreatorVault(coinCreator, quoteMint solana.PublicKey) (authority, ata solana.PublicKey, err error) {
	authority, _, err = solana.FindProgramAddress(
		[][]byte{[]byte("creator_vault"), coinCreator.Bytes()},
		PumpSwapProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("failed to derive creator vault: %w", err)
	}
	ata, _, err = solana.FindAssociatedTokenAddress(authority, quoteMint)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("failed to derive creator vault ata: %w", err)
	}
	return authority, ata, nil
}

// FeeRecipient первый ненулевой получатель протокольной комиссии.
func (c *GlobalConfig) FeeRecipient() (solana.PublicKey, error) {
	for _, r := range c.ProtocolFeeRecipients {
		if !r.IsZero() {
			return r, nil
		}
	}
	return solana.PublicKey{}, fmt.Errorf("global config has no protocol fee recipients")
}

// TotalFeeBps суммарная комиссия обмена.
func (c *GlobalConfig) TotalFeeBps() uint64 {
	return c.LPFeeBasisPoints + c.ProtocolFeeBasisPoints
}

func ParseGlobalConfig(data []byte) (*GlobalConfig, error) {
	if err := checkDiscriminator(data, GlobalConfigDiscriminator, "GlobalConfig"); err != nil {
		return nil, err
	}

	pos := 8
	if len(data) < pos+32+8+8+1+(32*8) {
		return nil, fmt.Errorf("data too short for GlobalConfig content")
	}

	config := &GlobalConfig{}

	config.Admin = solana.PublicKeyFromBytes(data[pos : pos+32])
	pos += 32

	config.LPFeeBasisPoints = binary.LittleEndian.Uint64(data[pos : pos+8])
	pos += 8

	config.ProtocolFeeBasisPoints = binary.LittleEndian.Uint64(data[pos : pos+8])
	pos += 8

	config.DisableFlags = data[pos]
	pos++

	for i := 0; i < 8; i++ {
		config.ProtocolFeeRecipients[i] = solana.PublicKeyFromBytes(data[pos : pos+32])
		pos += 32
	}

	return config, nil
}

func checkDiscriminator(data, want []byte, what string) error {
	if len(data) < 8 {
		return fmt.Errorf("data too short for %s", what)
	}
	for i := 0; i < 8; i++ {
		if data[i] != want[i] {
			return fmt.Errorf("invalid discriminator for %s", what)
		}
	}
	return nil
}
