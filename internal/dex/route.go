// internal/dex/route.go
package dex

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/dex/jupiter"
	"github.com/rovshanmuradov/solana-exit-engine/internal/dex/pumpfun"
	"github.com/rovshanmuradov/solana-exit-engine/internal/dex/pumpswap"
	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
)

// Route один способ исполнить обмен. Ошибки классифицируются через types.Classify.
type Route interface {
	Name() string
	// Quote ожидаемый выход без учёта проскальзывания: лампорты при продаже, токены при покупке.
	Quote(ctx context.Context, req types.SwapRequest) (uint64, error)
	BuildSwap(ctx context.Context, req types.SwapRequest) ([]solana.Instruction, error)
}

// Chain чтение аккаунтов, нужное on-chain маршрутам.
type Chain interface {
	pumpfun.Chain
	pumpswap.Chain
}

// RouteDeps зависимости для построения маршрутов по именам.
type RouteDeps struct {
	Chain      Chain
	Workload   string
	JupiterURL string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// BuildRoutes создаёт маршруты в указанном порядке.
func BuildRoutes(names []string, deps RouteDeps) ([]Route, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	routes := make([]Route, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case pumpfun.Name:
			if deps.Chain == nil {
				return nil, fmt.Errorf("route %s needs a chain client", name)
			}
			routes = append(routes, pumpfun.NewRoute(deps.Chain, deps.Workload, deps.Logger))
		case pumpswap.Name:
			if deps.Chain == nil {
				return nil, fmt.Errorf("route %s needs a chain client", name)
			}
			r, err := pumpswap.NewRoute(deps.Chain, deps.Workload, deps.Logger)
			if err != nil {
				return nil, err
			}
			routes = append(routes, r)
		case jupiter.Name:
			routes = append(routes, jupiter.NewRoute(deps.JupiterURL, deps.HTTPClient, deps.Logger))
		default:
			return nil, fmt.Errorf("route %s is not supported", name)
		}
	}
	return routes, nil
}

// Factory реестр маршрутов с порядком по умолчанию.
type Factory struct {
	routes map[string]Route
	order  []string
}

func NewFactory(routes ...Route) (*Factory, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("at least one route is required")
	}
	f := &Factory{routes: make(map[string]Route, len(routes))}
	for _, r := range routes {
		if _, dup := f.routes[r.Name()]; dup {
			return nil, fmt.Errorf("route %s declared twice", r.Name())
		}
		f.routes[r.Name()] = r
		f.order = append(f.order, r.Name())
	}
	return f, nil
}

// Get возвращает маршрут по имени.
func (f *Factory) Get(name string) (Route, bool) {
	r, ok := f.routes[name]
	return r, ok
}

// Names порядок маршрутов по умолчанию.
func (f *Factory) Names() []string {
	return append([]string(nil), f.order...)
}

// Order возвращает маршруты, поставив подсказку позиции первой.
// Неизвестная подсказка игнорируется.
func (f *Factory) Order(hint string) []Route {
	out := make([]Route, 0, len(f.order))
	if r, ok := f.routes[hint]; ok {
		out = append(out, r)
	}
	for _, name := range f.order {
		if name == hint {
			continue
		}
		out = append(out, f.routes[name])
	}
	return out
}
