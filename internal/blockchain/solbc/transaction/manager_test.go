package transaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
	"github.com/rovshanmuradov/solana-exit-engine/internal/wallet"
)

type fakeChain struct {
	hash       solana.Hash
	hashErr    error
	sendErr    error
	confirmErr error
	sent       []*solana.Transaction
	deadline   time.Time
}

func (f *fakeChain) LatestBlockhash(context.Context) (solana.Hash, error) {
	return f.hash, f.hashErr
}

func (f *fakeChain) SendTransaction(_ context.Context, _ string, tx *solana.Transaction) (solana.Signature, error) {
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	f.sent = append(f.sent, tx)
	return tx.Signatures[0], nil
}

func (f *fakeChain) AwaitConfirmation(ctx context.Context, _ string, _ solana.Signature) error {
	f.deadline, _ = ctx.Deadline()
	return f.confirmErr
}

func testWallet(t *testing.T) *wallet.Wallet {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return wallet.FromPrivateKey("test", key)
}

func transferIx(from solana.PublicKey) solana.Instruction {
	return system.NewTransferInstruction(1, from, solana.NewWallet().PublicKey()).Build()
}

func TestExecuteBuildsSignsAndConfirms(t *testing.T) {
	w := testWallet(t)
	chain := &fakeChain{hash: solana.Hash(solana.NewWallet().PublicKey())}
	m := NewManager(chain, Config{Workload: "bot", ConfirmTimeout: time.Second}, zaptest.NewLogger(t))

	status, err := m.Execute(context.Background(), w, types.PriorityConfig{ComputeUnits: 100_000, PriorityFee: 5_000}, []solana.Instruction{transferIx(w.PublicKey)})
	require.NoError(t, err)
	require.Len(t, chain.sent, 1)

	tx := chain.sent[0]
	assert.Equal(t, tx.Signatures[0], status.Signature)
	assert.Equal(t, chain.hash, tx.Message.RecentBlockhash)
	// compute limit + compute price + transfer
	assert.Len(t, tx.Message.Instructions, 3)
	assert.True(t, tx.Message.AccountKeys[0].Equals(w.PublicKey))
	assert.False(t, chain.deadline.IsZero())
	assert.GreaterOrEqual(t, status.Latency(), time.Duration(0))
}

func TestBuildRejectsEmptyInstructions(t *testing.T) {
	w := testWallet(t)
	chain := &fakeChain{hash: solana.Hash(solana.NewWallet().PublicKey())}
	m := NewManager(chain, Config{}, zaptest.NewLogger(t))

	_, err := m.Build(context.Background(), w, types.PriorityConfig{}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ClassNonRetryable, types.Classify(err))
}

func TestExecutePropagatesConfirmationError(t *testing.T) {
	w := testWallet(t)
	chain := &fakeChain{
		hash:       solana.Hash(solana.NewWallet().PublicKey()),
		confirmErr: types.Transient("await confirmation", context.DeadlineExceeded),
	}
	m := NewManager(chain, Config{}, zaptest.NewLogger(t))

	_, err := m.Execute(context.Background(), w, types.PriorityConfig{}, []solana.Instruction{transferIx(w.PublicKey)})
	assert.Equal(t, types.ClassTransient, types.Classify(err))
}

func TestBuildFailsWithoutBlockhash(t *testing.T) {
	w := testWallet(t)
	chain := &fakeChain{hashErr: errors.New("timeout")}
	m := NewManager(chain, Config{}, zaptest.NewLogger(t))

	_, err := m.Build(context.Background(), w, types.PriorityConfig{}, []solana.Instruction{transferIx(w.PublicKey)})
	assert.Equal(t, types.ClassTransient, types.Classify(err))
}
