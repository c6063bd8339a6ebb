package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWallets(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wallets.yaml")
	content := "wallets:\n  - name: main\n    private_key: " + key.String() + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	wallets, err := LoadWallets(path)
	require.NoError(t, err)
	require.Contains(t, wallets, "main")
	assert.Equal(t, key.PublicKey(), wallets["main"].PublicKey)
}

func TestLoadWalletsRejectsBadKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wallets:\n  - name: main\n    private_key: abc\n"), 0o600))

	_, err := LoadWallets(path)
	assert.Error(t, err)
}

func TestATAIsCached(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	w := FromPrivateKey("t", key)
	mint := solana.NewWallet().PublicKey()

	first, err := w.ATA(mint)
	require.NoError(t, err)
	expected, _, err := solana.FindAssociatedTokenAddress(w.PublicKey, mint)
	require.NoError(t, err)
	assert.Equal(t, expected, first)

	second, err := w.ATA(mint)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
