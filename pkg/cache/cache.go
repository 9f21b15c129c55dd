// Package cache stores finalized query results keyed by the query
// that produced them, with an in-memory LRU front and a persistent
// BadgerDB layer below it.
package cache

import (
	"container/list"
	"encoding/binary"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"

	"github.com/vjranagit/tsgather/pkg/types"
)

// Config holds cache configuration.
type Config struct {
	Path             string
	MemoryEntries    int
	TTL              time.Duration
	CompressionLevel int
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() *Config {
	return &Config{
		Path:             "./cache",
		MemoryEntries:    128,
		TTL:              5 * time.Minute,
		CompressionLevel: 3,
	}
}

// ResultCache caches finalized query results. Safe for concurrent use.
type ResultCache struct {
	cfg   *Config
	db    *badger.DB
	codec *Codec

	mu      sync.Mutex
	entries map[uint64]*memEntry
	lru     *list.List
	hits    uint64
	misses  uint64
}

// memEntry is one in-memory cache slot.
type memEntry struct {
	fingerprint uint64
	result      *types.GetResult
	storedAt    time.Time
	element     *list.Element
}

// New opens a result cache at cfg.Path.
func New(cfg *Config) (*ResultCache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opts := badger.DefaultOptions(filepath.Join(cfg.Path, "results"))
	opts.Logger = nil // Disable BadgerDB logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	codec, err := NewCodec(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &ResultCache{
		cfg:     cfg,
		db:      db,
		codec:   codec,
		entries: make(map[uint64]*memEntry),
		lru:     list.New(),
	}, nil
}

// Get returns the cached result for req, if present and fresh.
func (rc *ResultCache) Get(req *types.ReadRequest) (*types.GetResult, bool) {
	fp := Fingerprint(req)

	rc.mu.Lock()
	if entry, ok := rc.entries[fp]; ok {
		if time.Since(entry.storedAt) <= rc.cfg.TTL {
			rc.lru.MoveToFront(entry.element)
			rc.hits++
			res := entry.result
			rc.mu.Unlock()
			return res, true
		}
		rc.removeLocked(fp)
	}
	rc.mu.Unlock()

	// Fall through to the persistent layer.
	var payload []byte
	err := rc.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fingerprintKey(fp))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			payload = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		rc.mu.Lock()
		rc.misses++
		rc.mu.Unlock()
		return nil, false
	}

	res, err := rc.codec.DecodeResult(payload)
	if err != nil {
		rc.mu.Lock()
		rc.misses++
		rc.mu.Unlock()
		return nil, false
	}

	rc.mu.Lock()
	rc.hits++
	rc.putMemoryLocked(fp, res)
	rc.mu.Unlock()
	return res, true
}

// Put stores a finalized result for req in both layers. Badger expires
// the persistent entry after the configured TTL.
func (rc *ResultCache) Put(req *types.ReadRequest, res *types.GetResult) error {
	fp := Fingerprint(req)

	payload, err := rc.codec.EncodeResult(res)
	if err != nil {
		return err
	}

	err = rc.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(fingerprintKey(fp), payload).WithTTL(rc.cfg.TTL)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return err
	}

	rc.mu.Lock()
	rc.putMemoryLocked(fp, res)
	rc.mu.Unlock()
	return nil
}

// putMemoryLocked inserts into the LRU front (must hold lock).
func (rc *ResultCache) putMemoryLocked(fp uint64, res *types.GetResult) {
	if entry, ok := rc.entries[fp]; ok {
		entry.result = res
		entry.storedAt = time.Now()
		rc.lru.MoveToFront(entry.element)
		return
	}

	entry := &memEntry{
		fingerprint: fp,
		result:      res,
		storedAt:    time.Now(),
	}
	entry.element = rc.lru.PushFront(entry)
	rc.entries[fp] = entry

	if rc.lru.Len() > rc.cfg.MemoryEntries {
		oldest := rc.lru.Back()
		if oldest != nil {
			rc.removeLocked(oldest.Value.(*memEntry).fingerprint)
		}
	}
}

// removeLocked drops a memory entry (must hold lock).
func (rc *ResultCache) removeLocked(fp uint64) {
	if entry, ok := rc.entries[fp]; ok {
		rc.lru.Remove(entry.element)
		delete(rc.entries, fp)
	}
}

// Stats contains cache statistics.
type Stats struct {
	MemoryEntries int
	Hits          uint64
	Misses        uint64
}

// Stats returns current cache statistics.
func (rc *ResultCache) Stats() Stats {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return Stats{
		MemoryEntries: len(rc.entries),
		Hits:          rc.hits,
		Misses:        rc.misses,
	}
}

// Close closes the cache and its persistent store.
func (rc *ResultCache) Close() error {
	rc.codec.Close()
	return rc.db.Close()
}

// Fingerprint computes a deterministic identity for a read request:
// every key name, NUL separated, followed by the window bounds.
func Fingerprint(req *types.ReadRequest) uint64 {
	h := xxhash.New()
	for _, key := range req.Keys {
		h.WriteString(key)
		h.Write([]byte{0})
	}
	var window [16]byte
	binary.LittleEndian.PutUint64(window[0:8], uint64(req.Start))
	binary.LittleEndian.PutUint64(window[8:16], uint64(req.End))
	h.Write(window[:])
	return h.Sum64()
}

// fingerprintKey renders a fingerprint as a badger key.
func fingerprintKey(fp uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, fp)
	return key
}
