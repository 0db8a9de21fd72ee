package registry

// ============================================================================
// Registry stores
// 1. Table is the persisted form: qualified name -> entry, plus schema version
// 2. FileStore writes JSON atomically (temp file + rename)
// 3. RedisStore keeps one hash per registry key
// ============================================================================

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/opencranium/cranium/pkg/types"
)

// SchemaVersion is the only table layout this build reads.
const SchemaVersion = 1

var (
	ErrCorruptedTable      = errors.New("registry table is corrupted")
	ErrIncompatibleVersion = errors.New("registry schema version is incompatible")
	ErrTableNotFound       = errors.New("registry table not found")
)

// Entry is one persisted identity.
type Entry struct {
	ID       int            `json:"id"`
	Name     string         `json:"name"`
	Category types.Category `json:"category"`
}

// Table is the persisted registry.
type Table struct {
	SchemaVer int              `json:"schema_version"`
	Entries   map[string]Entry `json:"entries"`
}

// Store persists registry tables.
type Store interface {
	Save(ctx context.Context, t Table) error
	Load(ctx context.Context) (Table, error)
	String() string
}

// ============================================================================
// FileStore
// ============================================================================

// FileStore keeps the table in a JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) String() string { return "file:" + s.path }

// Save writes t to a temp file and renames it over the target.
func (s *FileStore) Save(_ context.Context, t Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.SchemaVer = SchemaVersion
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create registry dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp registry: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename registry: %w", err)
	}
	return nil
}

// Load reads and validates the table.
func (s *FileStore) Load(_ context.Context) (Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t Table
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, fmt.Errorf("%w: %s", ErrTableNotFound, s.path)
		}
		return t, fmt.Errorf("failed to read registry: %w", err)
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("%w: %v", ErrCorruptedTable, err)
	}
	if t.SchemaVer != SchemaVersion {
		return t, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, t.SchemaVer, SchemaVersion)
	}
	if t.Entries == nil {
		t.Entries = make(map[string]Entry)
	}
	return t, nil
}

// ============================================================================
// RedisStore
// ============================================================================

// RedisStore keeps the table in a Redis hash: field = qualified name,
// value = JSON entry. The schema version lives in a sibling string key.
type RedisStore struct {
	rdb *redis.Client
	key string
}

// NewRedisStore creates a store writing to key. key must not be empty.
func NewRedisStore(opts *redis.Options, key string) (*RedisStore, error) {
	if key == "" {
		return nil, fmt.Errorf("redis key cannot be empty")
	}
	return &RedisStore{rdb: redis.NewClient(opts), key: key}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error { return s.rdb.Close() }

// Ping verifies Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *RedisStore) String() string { return "redis:" + s.key }

func (s *RedisStore) versionKey() string { return s.key + ":schema_version" }

// Save replaces the hash in one transaction.
func (s *RedisStore) Save(ctx context.Context, t Table) error {
	fields := make(map[string]any, len(t.Entries))
	for k, e := range t.Entries {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal entry %s: %w", k, err)
		}
		fields[k] = string(raw)
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(fields) > 0 {
			pipe.HSet(ctx, s.key, fields)
		}
		pipe.Set(ctx, s.versionKey(), SchemaVersion, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write registry to redis: %w", err)
	}
	return nil
}

// Load reads the hash back.
func (s *RedisStore) Load(ctx context.Context) (Table, error) {
	var t Table

	ver, err := s.rdb.Get(ctx, s.versionKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return t, fmt.Errorf("%w: %s", ErrTableNotFound, s.key)
		}
		return t, fmt.Errorf("failed to read registry version: %w", err)
	}
	v, err := strconv.Atoi(ver)
	if err != nil {
		return t, fmt.Errorf("%w: version %q", ErrCorruptedTable, ver)
	}
	if v != SchemaVersion {
		return t, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, v, SchemaVersion)
	}

	raw, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return t, fmt.Errorf("failed to read registry from redis: %w", err)
	}

	t.SchemaVer = v
	t.Entries = make(map[string]Entry, len(raw))
	for k, val := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(val), &e); err != nil {
			return Table{}, fmt.Errorf("%w: field %s: %v", ErrCorruptedTable, k, err)
		}
		t.Entries[k] = e
	}
	return t, nil
}
