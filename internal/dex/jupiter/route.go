// internal/dex/jupiter/route.go
package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
)

// Name имя маршрута в конфигурации и подсказках позиций.
const Name = "jupiter"

// DefaultBaseURL публичный endpoint Swap API.
const DefaultBaseURL = "https://lite-api.jup.ag/swap/v1"

const defaultHTTPTimeout = 5 * time.Second

// Route агрегатор Jupiter: quote + swap-instructions по HTTP.
// Инструкции compute budget от API отбрасываются, их ставит менеджер транзакций.
type Route struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewRoute(baseURL string, client *http.Client, logger *zap.Logger) *Route {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Route{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger.Named(Name),
	}
}

func (r *Route) Name() string { return Name }

type quoteResponse struct {
	InputMint string `json:"inputMint"`
	InAmount  string `json:"inAmount"`
	OutAmount string `json:"outAmount"`
}

type accountMeta struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type instruction struct {
	ProgramID string        `json:"programId"`
	Accounts  []accountMeta `json:"accounts"`
	Data      string        `json:"data"`
}

type swapInstructionsResponse struct {
	Error               string        `json:"error"`
	SetupInstructions   []instruction `json:"setupInstructions"`
	SwapInstruction     *instruction  `json:"swapInstruction"`
	CleanupInstruction  *instruction  `json:"cleanupInstruction"`
	OtherInstructions   []instruction `json:"otherInstructions"`
	AddressLookupTables []string      `json:"addressLookupTableAddresses"`
}

// Quote ожидаемый выход маршрута агрегатора.
func (r *Route) Quote(ctx context.Context, req types.SwapRequest) (uint64, error) {
	_, quote, err := r.quote(ctx, req)
	if err != nil {
		return 0, err
	}
	return parseAmount(quote.OutAmount)
}

// BuildSwap запрашивает quote и превращает ответ swap-instructions в инструкции.
func (r *Route) BuildSwap(ctx context.Context, req types.SwapRequest) ([]solana.Instruction, error) {
	if err := req.Validate(); err != nil {
		return nil, types.NonRetryable("jupiter request", err)
	}

	raw, quote, err := r.quote(ctx, req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]interface{}{
		"quoteResponse":       raw,
		"userPublicKey":       req.Owner.String(),
		"wrapAndUnwrapSol":    true,
		"asLegacyTransaction": true,
	})
	if err != nil {
		return nil, types.NonRetryable("jupiter encode", err)
	}

	var resp swapInstructionsResponse
	if err := r.do(ctx, http.MethodPost, r.baseURL+"/swap-instructions", body, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, types.NonRetryable("jupiter swap-instructions", fmt.Errorf("%s", resp.Error))
	}
	if resp.SwapInstruction == nil {
		return nil, types.NonRetryable("jupiter swap-instructions", fmt.Errorf("response has no swap instruction"))
	}
	if len(resp.AddressLookupTables) > 0 {
		return nil, types.NonRetryable("jupiter swap-instructions", fmt.Errorf("route needs %d lookup tables", len(resp.AddressLookupTables)))
	}

	var all []instruction
	all = append(all, resp.OtherInstructions...)
	all = append(all, resp.SetupInstructions...)
	all = append(all, *resp.SwapInstruction)
	if resp.CleanupInstruction != nil {
		all = append(all, *resp.CleanupInstruction)
	}

	ixs := make([]solana.Instruction, 0, len(all))
	for i, in := range all {
		ix, err := in.decode()
		if err != nil {
			return nil, types.NonRetryable("jupiter decode", fmt.Errorf("instruction %d: %w", i, err))
		}
		ixs = append(ixs, ix)
	}

	r.logger.Debug("Swap via aggregator",
		zap.String("mint", req.Mint.String()),
		zap.String("side", string(req.Side)),
		zap.String("in_amount", quote.InAmount),
		zap.String("out_amount", quote.OutAmount),
		zap.Int("instructions", len(ixs)))
	return ixs, nil
}

func (r *Route) quote(ctx context.Context, req types.SwapRequest) (json.RawMessage, *quoteResponse, error) {
	input, output := req.Mint, types.WrappedSOLMint
	if req.Side == types.SideBuy {
		input, output = output, input
	}

	q := url.Values{}
	q.Set("inputMint", input.String())
	q.Set("outputMint", output.String())
	q.Set("amount", strconv.FormatUint(req.Amount, 10))
	q.Set("slippageBps", strconv.FormatUint(uint64(req.SlippageBps), 10))
	q.Set("asLegacyTransaction", "true")

	var raw json.RawMessage
	if err := r.do(ctx, http.MethodGet, r.baseURL+"/quote?"+q.Encode(), nil, &raw); err != nil {
		return nil, nil, err
	}
	var quote quoteResponse
	if err := json.Unmarshal(raw, &quote); err != nil {
		return nil, nil, types.NonRetryable("jupiter quote", fmt.Errorf("decode: %w", err))
	}
	if quote.OutAmount == "" {
		return nil, nil, types.NonRetryable("jupiter quote", fmt.Errorf("no route for %s", req.Mint))
	}
	return raw, &quote, nil
}

// do выполняет запрос; 429 и 5xx повторяемы, прочие 4xx нет.
func (r *Route) do(ctx context.Context, method, endpoint string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return types.NonRetryable("jupiter request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("jupiter %s: %w", method, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return types.Transient("jupiter read", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return types.Transient("jupiter", fmt.Errorf("status code: %d: %s", resp.StatusCode, truncate(payload)))
	case resp.StatusCode >= 400:
		return types.NonRetryable("jupiter", fmt.Errorf("status code: %d: %s", resp.StatusCode, truncate(payload)))
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return types.NonRetryable("jupiter decode", err)
	}
	return nil
}

func (in instruction) decode() (solana.Instruction, error) {
	program, err := solana.PublicKeyFromBase58(in.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("program id: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(in.Data)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	metas := make(solana.AccountMetaSlice, 0, len(in.Accounts))
	for _, a := range in.Accounts {
		pk, err := solana.PublicKeyFromBase58(a.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", a.Pubkey, err)
		}
		metas = append(metas, solana.NewAccountMeta(pk, a.IsWritable, a.IsSigner))
	}
	return solana.NewInstruction(program, metas, data), nil
}

func parseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, types.NonRetryable("jupiter amount", err)
	}
	if d.Sign() < 0 || !d.BigInt().IsUint64() {
		return 0, types.NonRetryable("jupiter amount", fmt.Errorf("amount %s out of range", s))
	}
	return d.BigInt().Uint64(), nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
