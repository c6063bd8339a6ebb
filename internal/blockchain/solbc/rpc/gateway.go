// internal/blockchain/solbc/rpc/gateway.go
package rpc

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
	"github.com/rovshanmuradov/solana-exit-engine/internal/utils/metrics"
)

// Capability что умеет провайдер.
type Capability string

const (
	CapQuery     Capability = "query"
	CapSubscribe Capability = "subscribe"
)

// DefaultProfile используется, когда имя нагрузки ни с чем не совпало.
const DefaultProfile = "default"

const defaultCallTimeout = 5 * time.Second

// ProviderConfig описание одного RPC-провайдера.
type ProviderConfig struct {
	Name         string
	URL          string
	WSURL        string
	Capabilities []Capability
	RPM          int
}

// Config настройки шлюза.
type Config struct {
	Providers        []ProviderConfig
	Profiles         map[string][]string
	CallTimeout      time.Duration
	BlockhashRefresh time.Duration
	BlockhashStale   time.Duration
	ConfirmPoll      time.Duration
}

type provider struct {
	cfg     ProviderConfig
	client  *solanarpc.Client
	limiter *rate.Limiter

	wsMu sync.Mutex
	ws   *ws.Client
}

// has: подписки подразумевают и обычные запросы.
func (p *provider) has(need Capability) bool {
	if len(p.cfg.Capabilities) == 0 {
		return need == CapQuery
	}
	for _, c := range p.cfg.Capabilities {
		if c == need || (need == CapQuery && c == CapSubscribe) {
			return true
		}
	}
	return false
}

// Gateway выбирает провайдера по профилю нагрузки, учитывает лимиты
// и кеширует blockhash.
type Gateway struct {
	providers   map[string]*provider
	order       []string
	profiles    map[string][]string
	callTimeout time.Duration
	confirmPoll time.Duration

	blockhash *BlockhashCache
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewGateway создаёт шлюз. Лимит провайдера: RPM/60 запросов в секунду,
// burst RPM/10, чтобы пачка одновременных проверок цены не выбила бюджет.
func NewGateway(cfg Config, collector *metrics.Collector, logger *zap.Logger) (*Gateway, error) {
	if len(cfg.Providers) == 0 {
		return nil, ErrNoProvider
	}

	g := &Gateway{
		providers:   make(map[string]*provider, len(cfg.Providers)),
		profiles:    make(map[string][]string, len(cfg.Profiles)),
		callTimeout: cfg.CallTimeout,
		confirmPoll: cfg.ConfirmPoll,
		metrics:     collector,
		logger:      logger.Named("rpc-gateway"),
	}
	if g.callTimeout <= 0 {
		g.callTimeout = defaultCallTimeout
	}
	if g.confirmPoll <= 0 {
		g.confirmPoll = 500 * time.Millisecond
	}

	for _, pc := range cfg.Providers {
		if _, dup := g.providers[pc.Name]; dup {
			return nil, fmt.Errorf("provider %q declared twice", pc.Name)
		}
		rpm := pc.RPM
		if rpm <= 0 {
			rpm = 60
		}
		burst := rpm / 10
		if burst < 1 {
			burst = 1
		}
		g.providers[pc.Name] = &provider{
			cfg:     pc,
			client:  solanarpc.New(pc.URL),
			limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60), burst),
		}
		g.order = append(g.order, pc.Name)
	}

	for name, list := range cfg.Profiles {
		for _, p := range list {
			if _, ok := g.providers[p]; !ok {
				return nil, fmt.Errorf("profile %q: %w %q", name, ErrUnknownProvider, p)
			}
		}
		g.profiles[strings.ToLower(name)] = list
	}

	g.blockhash = NewBlockhashCache(g, cfg.BlockhashRefresh, cfg.BlockhashStale, g.logger)
	return g, nil
}

// ProfileFor возвращает имя профиля для нагрузки: точное совпадение,
// затем самый длинный профиль-префикс ("sniper-bot-2" -> "sniper"), затем default.
func (g *Gateway) ProfileFor(workload string) string {
	w := strings.ToLower(workload)
	if _, ok := g.profiles[w]; ok {
		return w
	}

	names := make([]string, 0, len(g.profiles))
	for name := range g.profiles {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	for _, name := range names {
		if strings.HasPrefix(w, name) {
			return name
		}
	}
	return DefaultProfile
}

// providersFor упорядоченный список провайдеров профиля. Без профилей
// используется порядок из конфигурации.
func (g *Gateway) providersFor(workload string) []*provider {
	names, ok := g.profiles[g.ProfileFor(workload)]
	if !ok {
		names = g.order
	}
	out := make([]*provider, 0, len(names))
	for _, n := range names {
		out = append(out, g.providers[n])
	}
	return out
}

// Do выполняет fn на первом подходящем провайдере профиля.
//
// Провайдеры без нужной возможности пропускаются, как и провайдеры,
// исчерпавшие свой бюджет. При transient/unknown ошибке пробуется следующий.
// Если все подходящие провайдеры заняты, вызов ждёт бюджет первого из них.
func (g *Gateway) Do(ctx context.Context, workload string, need Capability, fn func(context.Context, *solanarpc.Client) error) error {
	var (
		capable []*provider
		busy    []*provider
		lastErr error
	)
	for _, p := range g.providersFor(workload) {
		if !p.has(need) {
			continue
		}
		capable = append(capable, p)
		if !p.limiter.Allow() {
			busy = append(busy, p)
			continue
		}

		err := g.call(ctx, p, workload, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if types.Classify(err) == types.ClassNonRetryable {
			return err
		}
		g.logger.Debug("RPC call failed, trying next provider",
			zap.String("provider", p.cfg.Name),
			zap.String("workload", workload),
			zap.Error(err))
	}

	if len(capable) == 0 {
		return fmt.Errorf("%w: %s for workload %q", ErrNoProvider, need, workload)
	}

	if len(busy) > 0 {
		p := busy[0]
		if err := p.limiter.Wait(ctx); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return types.Transient("rate limit wait", err)
		}
		return g.call(ctx, p, workload, fn)
	}
	return lastErr
}

func (g *Gateway) call(ctx context.Context, p *provider, workload string, fn func(context.Context, *solanarpc.Client) error) error {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx, p.client)
	g.metrics.RecordRPC(p.cfg.Name, workload, time.Since(start), string(types.Classify(err)))
	if err != nil {
		return &Error{Err: err, Provider: p.cfg.Name, Workload: workload}
	}
	return nil
}

// subscriber первый провайдер профиля с подписками и ws-адресом.
func (g *Gateway) subscriber(workload string) *provider {
	for _, p := range g.providersFor(workload) {
		if p.has(CapSubscribe) && p.cfg.WSURL != "" {
			return p
		}
	}
	return nil
}

func (p *provider) wsClient(ctx context.Context) (*ws.Client, error) {
	p.wsMu.Lock()
	defer p.wsMu.Unlock()
	if p.ws != nil {
		return p.ws, nil
	}
	c, err := ws.Connect(ctx, p.cfg.WSURL)
	if err != nil {
		return nil, err
	}
	p.ws = c
	return c, nil
}

// dropWS сбрасывает соединение после ошибки, следующий вызов переподключится.
func (p *provider) dropWS() {
	p.wsMu.Lock()
	defer p.wsMu.Unlock()
	if p.ws != nil {
		p.ws.Close()
		p.ws = nil
	}
}

// Blockhash кеш последнего blockhash.
func (g *Gateway) Blockhash() *BlockhashCache {
	return g.blockhash
}

// Run крутит фоновые задачи шлюза до отмены контекста.
func (g *Gateway) Run(ctx context.Context) error {
	return g.blockhash.Run(ctx)
}

// Close закрывает websocket-соединения.
func (g *Gateway) Close() {
	for _, p := range g.providers {
		p.dropWS()
	}
}
