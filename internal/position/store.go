package position

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/storage"
)

const (
	BucketPositions = "positions"
	BucketHistory   = "positions_history"
)

var (
	ErrNotFound = errors.New("position not found")
	// ErrExists по mint уже есть открытая позиция.
	ErrExists = errors.New("open position already exists")
	// ErrClosed позиция закрыта и больше не меняется.
	ErrClosed = errors.New("position is closed")
)

// Store долговременное хранилище позиций: по одной записи JSON на mint.
// Закрытая позиция переносится в историю, когда по тому же mint открывается новая.
type Store struct {
	kv     storage.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewStore(kv storage.Store, logger *zap.Logger) *Store {
	return &Store{kv: kv, logger: logger.Named("positions"), now: time.Now}
}

func encode(p *Position) ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

func decode(data []byte) (*Position, error) {
	var p Position
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode position: %w", err)
	}
	return &p, nil
}

// Create сохраняет новую позицию. Открытая позиция по тому же mint даёт ErrExists.
func (s *Store) Create(ctx context.Context, p *Position) error {
	if p.State == "" {
		p.State = StateActive
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid position %s: %w", p.Mint, err)
	}
	data, err := encode(p)
	if err != nil {
		return err
	}

	return s.kv.Update(ctx, BucketPositions, p.Mint, func(current []byte) ([]byte, error) {
		if current == nil {
			return data, nil
		}
		prev, err := decode(current)
		if err != nil {
			return nil, err
		}
		if prev.IsOpen() {
			return nil, fmt.Errorf("%s: %w", p.Mint, ErrExists)
		}
		if err := s.kv.Put(ctx, BucketHistory, historyKey(prev), current); err != nil {
			return nil, fmt.Errorf("archive %s: %w", p.Mint, err)
		}
		s.logger.Info("Closed position archived before re-entry", zap.String("mint", p.Mint))
		return data, nil
	})
}

func historyKey(p *Position) string {
	closed := p.UpdatedAt
	if p.ClosedAt != nil {
		closed = *p.ClosedAt
	}
	return p.Mint + "-" + strconv.FormatInt(closed.UnixNano(), 10)
}

func (s *Store) Get(ctx context.Context, mint string) (*Position, error) {
	data, err := s.kv.Get(ctx, BucketPositions, mint)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", mint, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// Update атомарно применяет fn к открытой позиции и сохраняет результат.
// Ошибка fn отменяет запись.
func (s *Store) Update(ctx context.Context, mint string, fn func(*Position) error) (*Position, error) {
	var out *Position
	err := s.kv.Update(ctx, BucketPositions, mint, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, fmt.Errorf("%s: %w", mint, ErrNotFound)
		}
		p, err := decode(current)
		if err != nil {
			return nil, err
		}
		if !p.IsOpen() {
			return nil, fmt.Errorf("%s: %w", mint, ErrClosed)
		}
		if err := fn(p); err != nil {
			return nil, err
		}
		p.UpdatedAt = s.now()
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("update %s breaks invariant: %w", mint, err)
		}
		out = p
		return encode(p)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListAll все текущие записи, открытые и закрытые.
func (s *Store) ListAll(ctx context.Context) ([]*Position, error) {
	return s.list(ctx, BucketPositions, func(*Position) bool { return true })
}

// ListActive позиции в состоянии active или partially_closed.
func (s *Store) ListActive(ctx context.Context) ([]*Position, error) {
	return s.list(ctx, BucketPositions, (*Position).IsOpen)
}

// History архив закрытых позиций, начиная с новых.
func (s *Store) History(ctx context.Context) ([]*Position, error) {
	out, err := s.list(ctx, BucketHistory, func(*Position) bool { return true })
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) list(ctx context.Context, bucket string, keep func(*Position) bool) ([]*Position, error) {
	records, err := s.kv.List(ctx, bucket)
	if err != nil {
		return nil, err
	}
	out := make([]*Position, 0, len(records))
	for _, r := range records {
		p, err := decode(r.Value)
		if err != nil {
			// одна битая запись не должна скрывать остальные позиции
			s.logger.Error("Skipping unreadable position record",
				zap.String("bucket", bucket),
				zap.String("key", r.Key),
				zap.Error(err))
			continue
		}
		if keep(p) {
			out = append(out, p)
		}
	}
	return out, nil
}
