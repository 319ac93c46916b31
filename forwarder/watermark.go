package forwarder

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"
)

const prefixWatermark = "/watermark/" // /watermark/{instanceID} -> uint64 LE

// WatermarkStore persists the single rolling watermark
type WatermarkStore interface {
	// Load returns the stored cursor, 0 when nothing was stored
	Load() (Cursor, error)
	Save(Cursor) error
	Close() error
}

// MemoryStore keeps the watermark in memory only. Restarts re-baseline.
type MemoryStore struct {
	value atomic.Uint64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (Cursor, error) {
	return Cursor(s.value.Load()), nil
}

func (s *MemoryStore) Save(c Cursor) error {
	s.value.Store(uint64(c))
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// PebbleStore keeps the watermark in a Pebble database so restarts resume
// where the last committed cycle ended
type PebbleStore struct {
	db     *pebble.DB
	key    []byte
	ownsDB bool
	closed atomic.Bool
}

// OpenPebbleStore opens (or creates) the state database under dataDir
func OpenPebbleStore(dataDir string, instanceID uint64) (*PebbleStore, error) {
	path := filepath.Join(dataDir, "state")
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open watermark store at %s: %w", path, err)
	}

	s := NewPebbleStore(db, instanceID)
	s.ownsDB = true
	return s, nil
}

// NewPebbleStore stores the watermark in an already open database. Close
// leaves the database open.
func NewPebbleStore(db *pebble.DB, instanceID uint64) *PebbleStore {
	return &PebbleStore{
		db:  db,
		key: []byte(prefixWatermark + strconv.FormatUint(instanceID, 10)),
	}
}

func (s *PebbleStore) Load() (Cursor, error) {
	if s.closed.Load() {
		return 0, fmt.Errorf("watermark store is closed")
	}

	val, closer, err := s.db.Get(s.key)
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, fmt.Errorf("invalid watermark value length: %d", len(val))
	}
	return Cursor(binary.LittleEndian.Uint64(val)), nil
}

func (s *PebbleStore) Save(c Cursor) error {
	if s.closed.Load() {
		return fmt.Errorf("watermark store is closed")
	}

	val := make([]byte, 8)
	binary.LittleEndian.PutUint64(val, uint64(c))
	if err := s.db.Set(s.key, val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to persist watermark: %w", err)
	}
	return nil
}

func (s *PebbleStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// Watermark tracks the cursor up to which records were processed. A zero
// cursor reads as "no watermark".
type Watermark struct {
	mu    sync.RWMutex
	value Cursor
	store WatermarkStore
}

// NewWatermark loads the persisted watermark from store
func NewWatermark(store WatermarkStore) (*Watermark, error) {
	if store == nil {
		store = NewMemoryStore()
	}

	value, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load watermark: %w", err)
	}
	if value != 0 {
		log.Info().Uint64("watermark", uint64(value)).Msg("Resuming from stored watermark")
	}

	return &Watermark{value: value, store: store}, nil
}

// Get returns the current watermark and whether one is set
func (w *Watermark) Get() (Cursor, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.value, w.value != 0
}

// Set stores c unconditionally. The in-memory value always takes c; a store
// failure is returned wrapped in ErrWatermarkPersist and only affects what a
// restart resumes from.
func (w *Watermark) Set(c Cursor) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.value = c
	if err := w.store.Save(c); err != nil {
		return fmt.Errorf("%w: %w", ErrWatermarkPersist, err)
	}
	return nil
}

// Advance commits to, provided it does not precede from, the cursor the
// committed fetch started at. from is the cursor of this fetch, which after a
// re-baseline may be lower than the watermark the cycle started with.
func (w *Watermark) Advance(from, to Cursor) error {
	if to < from {
		return fmt.Errorf("%w: %d -> %d", ErrWatermarkRegression, from, to)
	}
	return w.Set(to)
}

// Baseline asks fetcher for a fresh reference point and stores it
func (w *Watermark) Baseline(ctx context.Context, fetcher Fetcher) (Cursor, error) {
	c, err := fetcher.Baseline(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to establish baseline: %w", err)
	}
	if err := w.Set(c); err != nil {
		log.Error().Err(err).Uint64("watermark", uint64(c)).Msg("Failed to persist baseline")
	}
	return c, nil
}

// Close closes the underlying store
func (w *Watermark) Close() error {
	return w.store.Close()
}
