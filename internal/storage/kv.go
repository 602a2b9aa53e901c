package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"flightchat/internal/redis"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("storage: key not found")

// KV abstracts the device-local key-value store holding serialized session
// state. Backends: sqlite3/mysql (kv_entries table) and redis.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type sqlKV struct {
	db     *sql.DB
	driver string
}

// NewSQLKV wraps an opened SQL database as a KV store.
func NewSQLKV(db *sql.DB, driver string) KV {
	return &sqlKV{db: db, driver: strings.ToLower(driver)}
}

func (s *sqlKV) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kv_entries WHERE `key` = ?", key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *sqlKV) Set(ctx context.Context, key, value string) error {
	now := time.Now().UTC()
	var stmt string
	switch s.driver {
	case "mysql":
		stmt = "INSERT INTO kv_entries (`key`, value, updated_at) VALUES (?, ?, ?) " +
			"ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)"
	default:
		stmt = "INSERT INTO kv_entries (`key`, value, updated_at) VALUES (?, ?, ?) " +
			"ON CONFLICT(`key`) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at"
	}
	if _, err := s.db.ExecContext(ctx, stmt, key, value, now); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *sqlKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_entries WHERE `key` = ?", key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *sqlKV) Close() error {
	return s.db.Close()
}

type redisKV struct {
	client *redis.Client
}

// NewRedisKV wraps the redis client as a KV store.
func NewRedisKV(client *redis.Client) KV {
	return &redisKV{client: client}
}

func (r *redisKV) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.ErrKeyMissing) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (r *redisKV) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value)
}

func (r *redisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key)
}

func (r *redisKV) Close() error {
	return r.client.Close()
}
