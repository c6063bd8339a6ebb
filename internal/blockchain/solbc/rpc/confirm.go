// internal/blockchain/solbc/rpc/confirm.go
package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
)

// AwaitConfirmation ждёт статуса confirmed для подписи. Если в профиле есть
// провайдер с подписками, используется signatureSubscribe, иначе опрос
// getSignatureStatuses. Срок ожидания задаёт вызывающий через ctx;
// истечение срока классифицируется как transient.
func (g *Gateway) AwaitConfirmation(ctx context.Context, workload string, sig solana.Signature) error {
	if p := g.subscriber(workload); p != nil {
		err := g.awaitWS(ctx, p, workload, sig)
		if !errors.Is(err, errWSUnavailable) {
			return err
		}
		g.logger.Debug("Falling back to status polling",
			zap.String("provider", p.cfg.Name),
			zap.Error(err))
	}
	return g.pollConfirmation(ctx, workload, sig)
}

func (g *Gateway) awaitWS(ctx context.Context, p *provider, workload string, sig solana.Signature) error {
	client, err := p.wsClient(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", errWSUnavailable, err)
	}

	sub, err := client.SignatureSubscribe(sig, solanarpc.CommitmentConfirmed)
	if err != nil {
		p.dropWS()
		return fmt.Errorf("%w: %v", errWSUnavailable, err)
	}
	defer sub.Unsubscribe()

	// Транзакция могла подтвердиться до подписки: уведомления тогда не будет.
	if done, err := g.checkStatus(ctx, workload, sig); done || err != nil {
		return err
	}

	res, err := sub.Recv(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return notConfirmed(sig, ctx.Err())
		}
		p.dropWS()
		return fmt.Errorf("%w: %v", errWSUnavailable, err)
	}
	if res.Value.Err != nil {
		return txFailed(sig, res.Value.Err)
	}
	return nil
}

func (g *Gateway) pollConfirmation(ctx context.Context, workload string, sig solana.Signature) error {
	ticker := time.NewTicker(g.confirmPoll)
	defer ticker.Stop()

	for {
		done, err := g.checkStatus(ctx, workload, sig)
		if done || err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return notConfirmed(sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

// checkStatus: done=true, если транзакция подтверждена или упала.
// Ошибки самого запроса статуса не прерывают ожидание.
func (g *Gateway) checkStatus(ctx context.Context, workload string, sig solana.Signature) (bool, error) {
	var status *solanarpc.SignatureStatusesResult
	err := g.Do(ctx, workload, CapQuery, func(ctx context.Context, client *solanarpc.Client) error {
		res, err := client.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			return err
		}
		if len(res.Value) > 0 {
			status = res.Value[0]
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, notConfirmed(sig, ctx.Err())
		}
		g.logger.Debug("Signature status check failed", zap.Stringer("signature", sig), zap.Error(err))
		return false, nil
	}
	if status == nil {
		return false, nil
	}
	if status.Err != nil {
		return true, txFailed(sig, status.Err)
	}
	switch status.ConfirmationStatus {
	case solanarpc.ConfirmationStatusConfirmed, solanarpc.ConfirmationStatusFinalized:
		return true, nil
	}
	return false, nil
}

func notConfirmed(sig solana.Signature, cause error) error {
	return types.Transient("await confirmation", fmt.Errorf("signature %s not confirmed: %w", sig, cause))
}

func txFailed(sig solana.Signature, onChainErr interface{}) error {
	return types.NonRetryable("confirm", fmt.Errorf("transaction %s failed: %v", sig, onChainErr))
}
