// internal/storage/models/base.go
package models

import "time"

// KVRecord одна запись хранилища в Postgres. Первичный ключ (bucket, key).
type KVRecord struct {
	Bucket    string    `gorm:"primaryKey;type:varchar(64)"`
	Key       string    `gorm:"primaryKey;type:varchar(128)"`
	Value     []byte    `gorm:"type:bytea;not null"`
	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"index;default:CURRENT_TIMESTAMP"`
}

func (KVRecord) TableName() string { return "kv_records" }
