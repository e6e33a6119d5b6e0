package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// ValkeyConfig configures a ValkeyStore.
type ValkeyConfig struct {
	Address  string
	Username string
	Password string
	DB       int

	// Prefix namespaces every key.
	// Default: "flowguard:"
	Prefix string

	// OnError receives read failures that are absorbed as misses.
	OnError ErrorHandler
}

// ValkeyStore is a Store backed by Valkey or Redis. Expiry is delegated to
// the server via PX.
type ValkeyStore struct {
	client  valkey.Client
	prefix  string
	onError ErrorHandler
}

// NewValkeyStore connects and pings the server.
func NewValkeyStore(ctx context.Context, config ValkeyConfig) (*ValkeyStore, error) {
	if config.Address == "" {
		return nil, errors.New("cache: valkey address required")
	}
	if config.Prefix == "" {
		config.Prefix = "flowguard:"
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{config.Address},
		Username:          config.Username,
		Password:          config.Password,
		SelectDB:          config.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: valkey client: %w", err)
	}

	s := &ValkeyStore{client: client, prefix: config.Prefix, onError: config.OnError}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

// Get returns the value for key. Expired keys are already gone server side.
func (s *ValkeyStore) Get(ctx context.Context, key string) ([]byte, bool) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(s.prefix+key).Build())
	if err := resp.Error(); err != nil {
		if !errors.Is(err, valkey.Nil) {
			s.onError.report(ctx, "get", key, err)
		}
		return nil, false
	}
	payload, err := resp.AsBytes()
	if err != nil {
		s.onError.report(ctx, "decode", key, err)
		return nil, false
	}
	return payload, true
}

// Set stores value with a PX expiry.
func (s *ValkeyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	cmd := s.client.B().Set().Key(s.prefix + key).Value(valkey.BinaryString(value)).Px(ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: valkey set: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *ValkeyStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.prefix+key).Build()).Error(); err != nil {
		return fmt.Errorf("cache: valkey delete: %w", err)
	}
	return nil
}

// Clear scans the prefix for keys containing pattern and deletes them.
func (s *ValkeyStore) Clear(ctx context.Context, pattern string) (int, error) {
	match := escapeGlob(s.prefix) + "*"
	if pattern != "" {
		match += escapeGlob(pattern) + "*"
	}

	removed := 0
	var cursor uint64
	for {
		entry, err := s.client.Do(ctx, s.client.B().Scan().Cursor(cursor).Match(match).Count(100).Build()).AsScanEntry()
		if err != nil {
			return removed, fmt.Errorf("cache: valkey scan: %w", err)
		}
		if len(entry.Elements) > 0 {
			n, err := s.client.Do(ctx, s.client.B().Del().Key(entry.Elements...).Build()).AsInt64()
			if err != nil {
				return removed, fmt.Errorf("cache: valkey delete: %w", err)
			}
			removed += int(n)
		}
		cursor = entry.Cursor
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Ping checks the connection.
func (s *ValkeyStore) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("cache: valkey ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *ValkeyStore) Close() error {
	s.client.Close()
	return nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

var (
	_ Store  = (*ValkeyStore)(nil)
	_ Pinger = (*ValkeyStore)(nil)
)
