// Package pipecache persists backend pipeline-cache blobs between runs.
//
// Blobs are keyed by the adapter cache key (see halcore.PipelineCacheKey),
// stored one file per key as an lz4 frame, and fronted by a sharded
// in-memory LRU. Writes go to a temporary file that is renamed into
// place, so a reader never observes a partial entry.
//
// A blob that fails to decode is reported as ErrCorrupt and removed; the
// caller then starts with an empty pipeline cache, which is always safe.
package pipecache

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/gogpu/halcore"
)

// Sentinel errors.
var (
	// ErrInvalidKey is returned for keys that are empty or not a plain
	// file name.
	ErrInvalidKey = errors.New("pipecache: invalid key")

	// ErrNoKey is returned by the adapter helpers when the adapter's
	// backend has no pipeline cache.
	ErrNoKey = errors.New("pipecache: adapter has no cache key")

	// ErrTooLarge is returned by Save for blobs above the size bound.
	ErrTooLarge = errors.New("pipecache: blob too large")

	// ErrCorrupt is returned when a stored entry fails to decode.
	ErrCorrupt = errors.New("pipecache: corrupt entry")

	// ErrStale is returned for entries written by another format version.
	ErrStale = errors.New("pipecache: stale entry")
)

// fileExt is appended to the key to form the entry's file name.
const fileExt = ".hcpc"

// Stats is a snapshot of store activity.
type Stats struct {
	MemoryHits    uint64
	MemoryMisses  uint64
	Evictions     uint64
	DiskHits      uint64
	DiskMisses    uint64
	Writes        uint64
	Dropped       uint64 // corrupt or stale entries removed on load
	MemoryEntries int
	MemoryBytes   int64
}

// Store is a directory of pipeline-cache blobs. It is safe for
// concurrent use; concurrent Saves of one key leave one complete blob.
type Store struct {
	dir  string
	opts options
	mem  *memory

	diskHits   atomic.Uint64
	diskMisses atomic.Uint64
	writes     atomic.Uint64
	dropped    atomic.Uint64
}

// Open returns a store rooted at dir, creating the directory if needed.
func Open(dir string, opts ...Option) (*Store, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pipecache: create %s: %w", dir, err)
	}
	return &Store{dir: dir, opts: o, mem: newMemory(o.memoryBudget)}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// validKey accepts keys usable as a plain file name.
func validKey(key string) error {
	if key == "" || key[0] == '.' {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

// Load returns the blob stored under key. A missing entry returns
// (nil, false, nil). A corrupt or stale entry is removed and reported
// with ok false and an error wrapping ErrCorrupt or ErrStale.
func (s *Store) Load(key string) ([]byte, bool, error) {
	if err := validKey(key); err != nil {
		return nil, false, err
	}
	if blob, ok := s.mem.get(key); ok {
		return blob, true, nil
	}

	f, err := os.Open(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		s.diskMisses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pipecache: load %s: %w", key, err)
	}
	blob, err := decode(f, s.opts.maxBlobSize)
	f.Close()
	if err != nil {
		s.dropped.Add(1)
		halcore.Logger().Warn("pipecache: dropping entry", "key", key, "err", err)
		if rmErr := os.Remove(s.path(key)); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			halcore.Logger().Warn("pipecache: remove entry", "key", key, "err", rmErr)
		}
		return nil, false, fmt.Errorf("pipecache: load %s: %w", key, err)
	}

	s.diskHits.Add(1)
	s.mem.put(key, blob)
	halcore.Logger().Debug("pipecache: loaded", "key", key, "bytes", len(blob))
	return blob, true, nil
}

// Save stores blob under key, replacing any previous entry.
func (s *Store) Save(key string, blob []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	if uint64(len(blob)) > s.opts.maxBlobSize {
		return fmt.Errorf("%w: %d bytes for %s (max %d)", ErrTooLarge, len(blob), key, s.opts.maxBlobSize)
	}

	var buf bytes.Buffer
	if err := encode(&buf, blob, s.opts.level); err != nil {
		return fmt.Errorf("pipecache: encode %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+".*")
	if err != nil {
		return fmt.Errorf("pipecache: save %s: %w", key, err)
	}
	if err := writeAndSync(tmp, buf.Bytes()); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("pipecache: save %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("pipecache: save %s: %w", key, err)
	}

	s.writes.Add(1)
	s.mem.put(key, blob)
	halcore.Logger().Debug("pipecache: saved", "key", key, "bytes", len(blob), "stored", buf.Len())
	return nil
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Delete removes the entry for key. Deleting a missing key is not an
// error.
func (s *Store) Delete(key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	s.mem.drop(key)
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("pipecache: delete %s: %w", key, err)
	}
	return nil
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() ([]string, error) {
	des, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("pipecache: list %s: %w", s.dir, err)
	}
	var keys []string
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(keys)
	return keys, nil
}

// LoadAdapter loads the blob for the adapter's cache key. Adapters whose
// backend has no pipeline cache return ErrNoKey.
func (s *Store) LoadAdapter(a *halcore.Adapter) ([]byte, bool, error) {
	key, ok := a.PipelineCacheKey()
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrNoKey, a.Info().Name)
	}
	return s.Load(key)
}

// SaveAdapter stores blob under the adapter's cache key.
func (s *Store) SaveAdapter(a *halcore.Adapter, blob []byte) error {
	key, ok := a.PipelineCacheKey()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoKey, a.Info().Name)
	}
	return s.Save(key, blob)
}

// Stats returns current store statistics.
func (s *Store) Stats() Stats {
	n, size := s.mem.usage()
	return Stats{
		MemoryHits:    s.mem.hits.Load(),
		MemoryMisses:  s.mem.misses.Load(),
		Evictions:     s.mem.evictions.Load(),
		DiskHits:      s.diskHits.Load(),
		DiskMisses:    s.diskMisses.Load(),
		Writes:        s.writes.Load(),
		Dropped:       s.dropped.Load(),
		MemoryEntries: n,
		MemoryBytes:   size,
	}
}
