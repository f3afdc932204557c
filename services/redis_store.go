package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/can61cebi/sorukayisi-backend/game"
)

const (
	recoveryKeyPrefix = "recovery:"
	snapshotKeyPrefix = "game:snapshot:"

	snapshotTTL = 2 * time.Hour
)

// RedisStore implements game.RecoveryStore on Redis. Entries expire with the
// recovery window; snapshots are short-lived caches for the HTTP surface.
type RedisStore struct {
	client   *redis.Client
	log      zerolog.Logger
	entryTTL time.Duration
}

func NewRedisStore(client *redis.Client, log zerolog.Logger, entryTTL time.Duration) *RedisStore {
	return &RedisStore{
		client:   client,
		log:      log.With().Str("component", "redis_store").Logger(),
		entryTTL: entryTTL,
	}
}

func recoveryKey(sessionID string) string {
	return recoveryKeyPrefix + sessionID
}

func snapshotKey(code string) string {
	return snapshotKeyPrefix + strings.ToUpper(code)
}

func (s *RedisStore) SaveEntry(ctx context.Context, entry game.RecoveryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal recovery entry: %w", err)
	}
	if err := s.client.Set(ctx, recoveryKey(entry.OldSessionID), data, s.entryTTL).Err(); err != nil {
		return fmt.Errorf("save recovery entry: %w", err)
	}
	return nil
}

func (s *RedisStore) GetEntry(ctx context.Context, oldSessionID string) (*game.RecoveryEntry, error) {
	data, err := s.client.Get(ctx, recoveryKey(oldSessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recovery entry: %w", err)
	}
	var entry game.RecoveryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal recovery entry: %w", err)
	}
	return &entry, nil
}

func (s *RedisStore) SaveSnapshot(ctx context.Context, snap game.GameSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKey(snap.Code), data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) GetSnapshot(ctx context.Context, code string) (*game.GameSnapshot, error) {
	data, err := s.client.Get(ctx, snapshotKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	var snap game.GameSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
