// internal/monitor/service.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/dedup"
	"github.com/rovshanmuradov/solana-exit-engine/internal/events"
	"github.com/rovshanmuradov/solana-exit-engine/internal/position"
)

var (
	// ErrAlreadyMonitored монитор позиции уже работает здесь или в другом процессе.
	ErrAlreadyMonitored = errors.New("position already monitored")
	ErrNotMonitored     = errors.New("position not monitored")
)

type session struct {
	monitor *Monitor
	cancel  context.CancelFunc
	// stopped закрывается после освобождения аренды
	stopped chan struct{}
}

// Service держит по одному монитору на открытую позицию.
// Право на монитор закрепляется арендой dedup типа monitor.
type Service struct {
	cfg    Config
	deps   Deps
	holder string
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService holder идентифицирует этот процесс в арендах.
func NewService(cfg Config, deps Deps, holder string) *Service {
	cfg.setDefaults()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:      cfg,
		deps:     deps,
		holder:   holder,
		logger:   deps.Logger.Named("monitor_service"),
		sessions: make(map[string]*session),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start запускает монитор открытой позиции.
func (s *Service) Start(ctx context.Context, pos *position.Position) error {
	if !pos.IsOpen() {
		return fmt.Errorf("%s: %w", pos.Mint, position.ErrClosed)
	}
	mint, err := solana.PublicKeyFromBase58(pos.Mint)
	if err != nil {
		return fmt.Errorf("invalid mint %q: %w", pos.Mint, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return fmt.Errorf("monitor service is shut down")
	}
	if _, exists := s.sessions[pos.Mint]; exists {
		return fmt.Errorf("%s: %w", pos.Mint, ErrAlreadyMonitored)
	}
	if err := s.acquire(ctx, pos.Mint); err != nil {
		return err
	}

	m := newMonitor(mint, s.holder, s.cfg, s.deps)
	snap := *pos
	m.snapshot.Store(&snap)
	m.lastPrice = lastKnownPrice(pos)
	mctx, cancel := context.WithCancel(s.ctx)
	sess := &session{monitor: m, cancel: cancel, stopped: make(chan struct{})}
	s.sessions[pos.Mint] = sess
	s.deps.Metrics.SetOpenPositions(len(s.sessions))

	s.wg.Add(1)
	go s.run(mctx, sess)

	s.publish(&events.MonitoringStartedEvent{
		BaseEvent:  events.NewBase(events.MonitoringStarted),
		Mint:       pos.Mint,
		EntryPrice: pos.EntryPrice,
		Quantity:   pos.Remaining(),
	})
	s.logger.Info("Monitoring started",
		zap.String("mint", pos.Mint),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Uint64("remaining", pos.Remaining()))
	return nil
}

func (s *Service) acquire(ctx context.Context, mint string) error {
	if s.deps.Guard == nil {
		return nil
	}
	ok, err := s.deps.Guard.Acquire(ctx, dedup.KindMonitor, mint, s.holder)
	if err != nil {
		return fmt.Errorf("acquire monitor lease %s: %w", mint, err)
	}
	if !ok {
		s.deps.Metrics.RecordDedupConflict(string(dedup.KindMonitor))
		return fmt.Errorf("%s: %w", mint, ErrAlreadyMonitored)
	}
	return nil
}

func (s *Service) release(mint string) {
	if s.deps.Guard == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.deps.Guard.Release(ctx, dedup.KindMonitor, mint, s.holder); err != nil {
		s.logger.Warn("Failed to release monitor lease", zap.String("mint", mint), zap.Error(err))
	}
}

func (s *Service) run(ctx context.Context, sess *session) {
	defer s.wg.Done()
	defer close(sess.stopped)
	m := sess.monitor

	reason, err := m.run(ctx)
	if err != nil {
		s.logger.Error("Monitor stopped with error", zap.String("mint", m.key), zap.Error(err))
	}

	// потерянную аренду держит другой процесс, отпускать нечего
	if !errors.Is(err, ErrLeaseLost) {
		s.release(m.key)
	}
	if reason == "closed" {
		if f, ok := s.deps.Prices.(interface{ Forget(solana.PublicKey) }); ok {
			f.Forget(m.mint)
		}
	}

	s.publish(&events.MonitoringStoppedEvent{
		BaseEvent: events.NewBase(events.MonitoringStopped),
		Mint:      m.key,
		Reason:    reason,
	})
	s.logger.Info("Monitoring stopped", zap.String("mint", m.key), zap.String("reason", reason))

	s.mu.Lock()
	sess.cancel()
	if cur, ok := s.sessions[m.key]; ok && cur == sess {
		delete(s.sessions, m.key)
	}
	s.deps.Metrics.SetOpenPositions(len(s.sessions))
	s.mu.Unlock()
}

// Stop останавливает монитор, не трогая позицию.
func (s *Service) Stop(ctx context.Context, mint string) error {
	s.mu.RLock()
	sess, ok := s.sessions[mint]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", mint, ErrNotMonitored)
	}

	sess.cancel()
	select {
	case <-sess.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsMonitored работает ли монитор позиции в этом процессе.
func (s *Service) IsMonitored(mint string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[mint]
	return ok
}

// Get последнее состояние позиции из монитора.
func (s *Service) Get(mint string) (position.Position, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[mint]
	s.mu.RUnlock()
	if !ok {
		return position.Position{}, false
	}
	return sess.monitor.Snapshot()
}

// List снимки всех отслеживаемых позиций, по mint.
func (s *Service) List() []position.Position {
	s.mu.RLock()
	out := make([]position.Position, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if p, ok := sess.monitor.Snapshot(); ok {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Mint < out[j].Mint })
	return out
}

// ClosePosition продаёт остаток позиции. Если монитор работает здесь, продажа
// идёт на его горутине; иначе берётся аренда monitor и продажа выполняется разово.
// Повторный вызов по закрытой позиции ничего не продаёт.
func (s *Service) ClosePosition(ctx context.Context, mint string) (CloseResult, error) {
	s.mu.RLock()
	sess, ok := s.sessions[mint]
	s.mu.RUnlock()
	if ok {
		res, err := sess.monitor.RequestClose(ctx)
		if !errors.Is(err, ErrStopped) {
			return res, err
		}
		// монитор завершился между поиском и запросом
		select {
		case <-sess.stopped:
		case <-ctx.Done():
			return CloseResult{}, ctx.Err()
		}
	}
	return s.closeDetached(ctx, mint)
}

func (s *Service) closeDetached(ctx context.Context, mint string) (CloseResult, error) {
	pos, err := s.deps.Store.Get(ctx, mint)
	if err != nil {
		return CloseResult{}, err
	}
	if !pos.IsOpen() {
		return CloseResult{Position: pos, AlreadyClosed: true}, nil
	}
	key, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return CloseResult{}, fmt.Errorf("invalid mint %q: %w", mint, err)
	}

	if err := s.acquire(ctx, mint); err != nil {
		return CloseResult{}, err
	}
	defer s.release(mint)

	m := newMonitor(key, s.holder, s.cfg, s.deps)
	return m.closeNow(ctx)
}

// Len количество работающих мониторов.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown останавливает все мониторы и ждёт их завершения. Позиции остаются открытыми.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	active := len(s.sessions)
	s.mu.Unlock()
	s.logger.Info("Shutting down monitor service", zap.Int("active_sessions", active))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("Monitor service shutdown completed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("monitor service shutdown: %w", ctx.Err())
	}
}

func (s *Service) publish(e events.Event) {
	if s.deps.Publisher == nil {
		return
	}
	if err := s.deps.Publisher.Publish(e); err != nil {
		s.logger.Debug("Event dropped", zap.String("type", string(e.Type())), zap.Error(err))
	}
}
