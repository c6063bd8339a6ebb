// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rovshanmuradov/solana-exit-engine/internal/storage"
	"github.com/rovshanmuradov/solana-exit-engine/internal/storage/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// gormLogger реализует интерфейс logger.Interface для GORM
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

// newGormLogger создает новый логгер для GORM
func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  logger.Warn,
	}
}

// LogMode реализация интерфейса logger.Interface
func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

// Info реализация интерфейса logger.Interface
func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

// Warn реализация интерфейса logger.Interface
func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

// Error реализация интерфейса logger.Interface
func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

// Trace реализация интерфейса logger.Interface
func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
		return
	}

	if l.logLevel >= logger.Info {
		l.zapLogger.Debug("trace", fields...)
	}
}

// Store хранилище поверх одной таблицы kv_records.
// Update сериализуется advisory-блокировкой транзакции по (bucket, key) и SELECT ... FOR UPDATE.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func New(dsn string, zapLogger *zap.Logger) (*Store, error) {
	gormLogger := newGormLogger(zapLogger.Named("gorm"))

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Настройка пула соединений
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:     db,
		logger: zapLogger.Named("postgres"),
	}
	if err := s.RunMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// RunMigrations создаёт таблицу под advisory-блокировкой, чтобы два процесса не мигрировали одновременно.
func (s *Store) RunMigrations() error {
	var lockObtained bool
	err := s.db.Raw("SELECT pg_try_advisory_lock(101)").Scan(&lockObtained).Error
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer s.db.Exec("SELECT pg_advisory_unlock(101)")

	if err := s.db.AutoMigrate(&models.KVRecord{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := storage.ValidateKey(bucket, key); err != nil {
		return nil, err
	}
	var rec models.KVRecord
	err := s.db.WithContext(ctx).Where("bucket = ? AND key = ?", bucket, key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	return rec.Value, nil
}

func (s *Store) Put(ctx context.Context, bucket, key string, value []byte) error {
	if err := storage.ValidateKey(bucket, key); err != nil {
		return err
	}
	return upsert(s.db.WithContext(ctx), bucket, key, value)
}

func (s *Store) Update(ctx context.Context, bucket, key string, fn storage.UpdateFunc) error {
	if err := storage.ValidateKey(bucket, key); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// FOR UPDATE не блокирует ещё не существующую строку, поэтому сначала advisory lock
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", bucket+"/"+key).Error; err != nil {
			return fmt.Errorf("lock %s/%s: %w", bucket, key, err)
		}

		var rec models.KVRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("bucket = ? AND key = ?", bucket, key).
			First(&rec).Error
		var current []byte
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return fmt.Errorf("read %s/%s: %w", bucket, key, err)
		default:
			current = rec.Value
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		return upsert(tx, bucket, key, next)
	})
}

func upsert(db *gorm.DB, bucket, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	rec := models.KVRecord{Bucket: bucket, Key: key, Value: value}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bucket"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	if err := storage.ValidateKey(bucket, key); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).
		Where("bucket = ? AND key = ?", bucket, key).
		Delete(&models.KVRecord{}).Error
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, bucket string) ([]storage.Record, error) {
	if err := storage.ValidateKey(bucket, "list"); err != nil {
		return nil, err
	}
	var recs []models.KVRecord
	err := s.db.WithContext(ctx).
		Where("bucket = ?", bucket).
		Order("key asc").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}
	out := make([]storage.Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, storage.Record{Key: r.Key, Value: r.Value})
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
