package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const fileSuffix = ".json"

// FileConfig configures a FileStore.
type FileConfig struct {
	// Dir holds one record file per key. Created if missing.
	Dir string

	// OnError receives read and decode failures that are absorbed as misses.
	OnError ErrorHandler
}

// FileStore keeps each entry in its own JSON file under a directory.
// Files are named by the SHA-256 of the key and replaced atomically, so
// concurrent writers to the same key leave one complete record behind.
type FileStore struct {
	dir     string
	onError ErrorHandler
}

type fileRecord struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(config FileConfig) (*FileStore, error) {
	if strings.TrimSpace(config.Dir) == "" {
		return nil, errors.New("cache: file store dir required")
	}
	if err := os.MkdirAll(config.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	return &FileStore{dir: config.Dir, onError: config.OnError}, nil
}

// Dir returns the backing directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+fileSuffix)
}

// Get reads the record for key. Expired and unreadable records are
// removed unless a concurrent Set has already replaced them.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, bool) {
	path := s.path(key)
	rec, info, err := readRecord(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.onError.report(ctx, "get", key, err)
			_, _ = removeIfSame(path, info)
		}
		return nil, false
	}
	if rec.Key != key {
		// Hash collision or a foreign file; never serve it.
		return nil, false
	}
	if !time.Now().Before(rec.ExpiresAt) {
		_, _ = removeIfSame(path, info)
		return nil, false
	}
	return rec.Value, true
}

// Set writes the record to a temp file and renames it into place.
func (s *FileStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	path := s.path(key)
	if ttl <= 0 {
		return removeIfExists(path)
	}

	payload, err := json.Marshal(fileRecord{
		Key:       key,
		Value:     value,
		ExpiresAt: time.Now().Add(ttl).UTC(),
	})
	if err != nil {
		return fmt.Errorf("cache: encode record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("cache: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("cache: write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("cache: write record: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("cache: replace record: %w", err)
	}
	return nil
}

// Delete removes the record for key.
func (s *FileStore) Delete(_ context.Context, key string) error {
	return removeIfExists(s.path(key))
}

// Clear removes records whose key contains pattern. Unreadable records
// are removed as well since they can never be served.
func (s *FileStore) Clear(ctx context.Context, pattern string) (int, error) {
	return s.walk(ctx, func(rec fileRecord) bool {
		return matches(rec.Key, pattern)
	})
}

// Sweep removes expired and unreadable records.
func (s *FileStore) Sweep(ctx context.Context) (int, error) {
	now := time.Now()
	return s.walk(ctx, func(rec fileRecord) bool {
		return !now.Before(rec.ExpiresAt)
	})
}

func (s *FileStore) walk(ctx context.Context, remove func(fileRecord) bool) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("cache: read dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileSuffix) || strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(s.dir, name)
		rec, info, err := readRecord(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err == nil && !remove(rec) {
			continue
		}
		if err != nil {
			s.onError.report(ctx, "decode", name, err)
		}
		ok, err := removeIfSame(path, info)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// readRecord decodes the record at path. The returned FileInfo identifies
// the file that was read and is set whenever the file could be opened.
func readRecord(path string) (fileRecord, fs.FileInfo, error) {
	var rec fileRecord
	f, err := os.Open(path)
	if err != nil {
		return rec, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return rec, nil, fmt.Errorf("cache: stat record: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return rec, info, fmt.Errorf("cache: read record: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, info, fmt.Errorf("cache: decode record: %w", err)
	}
	return rec, info, nil
}

// removeIfSame removes path only while it still names the file described
// by seen. Set renames a new file into place, so a record written after
// seen was read is left alone.
func removeIfSame(path string, seen fs.FileInfo) (bool, error) {
	if seen == nil {
		return false, nil
	}
	cur, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("cache: stat record: %w", err)
	}
	if !os.SameFile(seen, cur) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("cache: remove record: %w", err)
	}
	return true, nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cache: remove record: %w", err)
	}
	return nil
}

var (
	_ Store   = (*FileStore)(nil)
	_ Sweeper = (*FileStore)(nil)
)
