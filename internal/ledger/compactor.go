package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultCompactSchedule = "@every 10m"
	DefaultSweepSchedule   = "@every 30s"
)

// Sweeper периодическая очистка истёкших аренд.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// Compactor запускает компакцию журнала и очистку аренд по расписанию cron.
type Compactor struct {
	cron     *cron.Cron
	ledger   *Ledger
	isActive ActiveFunc
	sweeper  Sweeper
	logger   *zap.Logger
	now      func() time.Time
}

// NewCompactor регистрирует задания. sweeper может быть nil.
func NewCompactor(l *Ledger, isActive ActiveFunc, sweeper Sweeper, compactSchedule, sweepSchedule string, logger *zap.Logger) (*Compactor, error) {
	if compactSchedule == "" {
		compactSchedule = DefaultCompactSchedule
	}
	if sweepSchedule == "" {
		sweepSchedule = DefaultSweepSchedule
	}

	c := &Compactor{
		cron:     cron.New(),
		ledger:   l,
		isActive: isActive,
		sweeper:  sweeper,
		logger:   logger.Named("compactor"),
		now:      time.Now,
	}

	if _, err := c.cron.AddFunc(compactSchedule, c.compact); err != nil {
		return nil, fmt.Errorf("failed to schedule ledger compaction %q: %w", compactSchedule, err)
	}
	if sweeper != nil {
		if _, err := c.cron.AddFunc(sweepSchedule, c.sweep); err != nil {
			return nil, fmt.Errorf("failed to schedule lease sweep %q: %w", sweepSchedule, err)
		}
	}
	return c, nil
}

func (c *Compactor) compact() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := c.ledger.Compact(ctx, c.now(), c.isActive); err != nil {
		c.logger.Error("Ledger compaction failed", zap.Error(err))
	}
}

func (c *Compactor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.sweeper.Sweep(ctx)
}

// Run работает до отмены контекста, затем ждёт завершения текущих заданий.
func (c *Compactor) Run(ctx context.Context) error {
	c.logger.Info("Starting scheduler", zap.Int("jobs", len(c.cron.Entries())))
	c.cron.Start()
	<-ctx.Done()

	stopped := c.cron.Stop()
	<-stopped.Done()
	c.logger.Info("Scheduler stopped")
	return nil
}
