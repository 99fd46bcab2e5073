// Package storage enforces the client/server PHI split: protected data only
// ever persists server-side as ciphertext, while the client store holds
// non-sensitive preferences behind a PHI keyword guard.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tshla-medical/phicore/internal/service"
	"gorm.io/gorm"
)

// Blob is one encrypted value at rest. The ciphertext column carries the
// cryptox wire format (nonceHex:ciphertextHex); the database never sees
// plaintext.
type Blob struct {
	Key        string    `gorm:"column:key;type:varchar(255);primaryKey"`
	Ciphertext string    `gorm:"column:ciphertext;type:text;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (Blob) TableName() string {
	return "phi.blobs"
}

// GormStore is the durable EncryptedStore backed by Postgres.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Put(ctx context.Context, key, blob string) error {
	record := Blob{Key: key, Ciphertext: blob}
	err := s.db.WithContext(ctx).Save(&record).Error
	if err != nil {
		return fmt.Errorf("storing blob: %w", err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, key string) (string, error) {
	var record Blob
	err := s.db.WithContext(ctx).First(&record, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", service.ErrBlobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading blob: %w", err)
	}
	return record.Ciphertext, nil
}

func (s *GormStore) Delete(ctx context.Context, key string) error {
	result := s.db.WithContext(ctx).Delete(&Blob{}, "key = ?", key)
	if result.Error != nil {
		return fmt.Errorf("deleting blob: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return service.ErrBlobNotFound
	}
	return nil
}

// RedisStore is an EncryptedStore over Redis, used as a bounded-lifetime
// cache in front of the durable store. Values are already ciphertext when
// they arrive here, so a cache compromise exposes nothing readable.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, prefix: "phi:"}
}

func (s *RedisStore) Put(ctx context.Context, key, blob string) error {
	if err := s.client.Set(ctx, s.prefix+key, blob, s.ttl).Err(); err != nil {
		return fmt.Errorf("caching blob: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", service.ErrBlobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading cached blob: %w", err)
	}
	return val, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	deleted, err := s.client.Del(ctx, s.prefix+key).Result()
	if err != nil {
		return fmt.Errorf("deleting cached blob: %w", err)
	}
	if deleted == 0 {
		return service.ErrBlobNotFound
	}
	return nil
}

// MemoryStore is the in-process EncryptedStore used in tests and as the
// reference placeholder for environments without a database.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]string)}
}

func (s *MemoryStore) Put(_ context.Context, key, blob string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = blob
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[key]
	if !ok {
		return "", service.ErrBlobNotFound
	}
	return blob, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return service.ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}
