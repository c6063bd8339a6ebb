// internal/blockchain/solbc/rpc/calls.go
package rpc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// LatestBlockhash берёт blockhash из кеша.
func (g *Gateway) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return g.blockhash.Get(ctx)
}

// SendTransaction отправляет подписанную транзакцию. Повторная отправка той же
// транзакции через другого провайдера безопасна: подпись одна и та же.
func (g *Gateway) SendTransaction(ctx context.Context, workload string, tx *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature
	maxRetries := uint(0)
	err := g.Do(ctx, workload, CapQuery, func(ctx context.Context, client *solanarpc.Client) error {
		var err error
		sig, err = client.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: solanarpc.CommitmentProcessed,
			MaxRetries:          &maxRetries,
		})
		return err
	})
	return sig, err
}

// TokenBalance баланс токен-аккаунта в минимальных единицах.
// Отсутствующий аккаунт означает нулевой баланс.
func (g *Gateway) TokenBalance(ctx context.Context, workload string, account solana.PublicKey) (uint64, error) {
	var balance uint64
	err := g.Do(ctx, workload, CapQuery, func(ctx context.Context, client *solanarpc.Client) error {
		res, err := client.GetTokenAccountBalance(ctx, account, solanarpc.CommitmentConfirmed)
		if err != nil {
			if isAccountMissing(err) {
				balance = 0
				return nil
			}
			return err
		}
		if res == nil || res.Value == nil {
			balance = 0
			return nil
		}
		balance, err = strconv.ParseUint(res.Value.Amount, 10, 64)
		if err != nil {
			return fmt.Errorf("parse token amount %q: %w", res.Value.Amount, err)
		}
		return nil
	})
	return balance, err
}

// SOLBalance баланс кошелька в лампортах.
func (g *Gateway) SOLBalance(ctx context.Context, workload string, owner solana.PublicKey) (uint64, error) {
	var balance uint64
	err := g.Do(ctx, workload, CapQuery, func(ctx context.Context, client *solanarpc.Client) error {
		res, err := client.GetBalance(ctx, owner, solanarpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		balance = res.Value
		return nil
	})
	return balance, err
}

// AccountData сырые данные аккаунта. solanarpc.ErrNotFound, если аккаунта нет.
func (g *Gateway) AccountData(ctx context.Context, workload string, account solana.PublicKey) ([]byte, error) {
	var data []byte
	err := g.Do(ctx, workload, CapQuery, func(ctx context.Context, client *solanarpc.Client) error {
		res, err := client.GetAccountInfoWithOpts(ctx, account, &solanarpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: solanarpc.CommitmentProcessed,
		})
		if err != nil {
			if errors.Is(err, solanarpc.ErrNotFound) {
				return nonRetryableNotFound(account)
			}
			return err
		}
		data = res.Value.Data.GetBinary()
		return nil
	})
	return data, err
}

// ProgramAccounts аккаунты программы, отфильтрованные memcmp-фильтрами.
func (g *Gateway) ProgramAccounts(ctx context.Context, workload string, program solana.PublicKey, filters []solanarpc.RPCFilter) (solanarpc.GetProgramAccountsResult, error) {
	var out solanarpc.GetProgramAccountsResult
	err := g.Do(ctx, workload, CapQuery, func(ctx context.Context, client *solanarpc.Client) error {
		var err error
		out, err = client.GetProgramAccountsWithOpts(ctx, program, &solanarpc.GetProgramAccountsOpts{
			Commitment: solanarpc.CommitmentConfirmed,
			Filters:    filters,
		})
		return err
	})
	return out, err
}

// RecentPrioritizationFees недавние комиссии (micro-lamports за CU) по указанным аккаунтам.
func (g *Gateway) RecentPrioritizationFees(ctx context.Context, workload string, accounts solana.PublicKeySlice) ([]uint64, error) {
	var fees []uint64
	err := g.Do(ctx, workload, CapQuery, func(ctx context.Context, client *solanarpc.Client) error {
		res, err := client.GetRecentPrioritizationFees(ctx, accounts)
		if err != nil {
			return err
		}
		fees = make([]uint64, 0, len(res))
		for _, r := range res {
			fees = append(fees, r.PrioritizationFee)
		}
		return nil
	})
	return fees, err
}

func isAccountMissing(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find account") || errors.Is(err, solanarpc.ErrNotFound)
}
