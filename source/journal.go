package source

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"

	"github.com/maxpert/sysfwd/cfg"
	"github.com/maxpert/sysfwd/encoding"
	"github.com/maxpert/sysfwd/forwarder"
)

// Key prefixes for Pebble storage
const (
	prefixJournal    = "/journal/" // /journal/{16-digit-hex-seq}
	prefixJournalSeq = "/journalseq"
)

const (
	defaultJournalBatch = 1000
	cleanupIntervalMask = 0x3F // Cleanup when a commit crosses a multiple of 64
)

func init() {
	Register(cfg.SourceJournal, func(conf *cfg.Configuration) (Source, error) {
		return OpenJournal(conf.DataDir, conf.Source.Journal.BatchSize)
	})
}

// JournalEntry is one event appended to the local journal
type JournalEntry struct {
	Seq       uint64             `msgpack:"seq" json:"seq"`
	SenderID  uint64             `msgpack:"sender_id" json:"sender_id"`
	Category  forwarder.Category `msgpack:"category" json:"category"`
	Sender    string             `msgpack:"sender" json:"sender"`
	Text      string             `msgpack:"text" json:"text"`
	Timestamp int64              `msgpack:"timestamp" json:"timestamp"`
}

// Appender accepts events from outside the process
type Appender interface {
	Append(entries []JournalEntry) error
}

// Journal is a Pebble-backed append-only event log. Every entry gets a
// monotonic sequence starting at 1, which is its stream position.
type Journal struct {
	db        *pebble.DB
	path      string
	batchSize int

	lastSeq  atomic.Uint64
	appendMu sync.Mutex

	// Cleanup tracking
	released       atomic.Uint64
	cleanupMu      sync.Mutex
	cleanupRunning atomic.Bool
	cleanupWg      sync.WaitGroup

	closed atomic.Bool
}

// OpenJournal creates or opens the journal under dataDir
func OpenJournal(dataDir string, batchSize int) (*Journal, error) {
	path := filepath.Join(dataDir, "journal")
	if batchSize <= 0 {
		batchSize = defaultJournalBatch
	}

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %s: %w", path, err)
	}

	j := &Journal{db: db, path: path, batchSize: batchSize}
	if err := j.loadLastSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sequence number: %w", err)
	}

	log.Info().Str("path", path).Uint64("last_seq", j.lastSeq.Load()).Msg("Journal opened")
	return j, nil
}

func (j *Journal) loadLastSeq() error {
	val, closer, err := j.db.Get([]byte(prefixJournalSeq))
	if err == pebble.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	if len(val) != 8 {
		return fmt.Errorf("invalid sequence value length: %d", len(val))
	}
	j.lastSeq.Store(binary.LittleEndian.Uint64(val))
	return nil
}

// Append stores entries and assigns their sequence numbers in place
func (j *Journal) Append(entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if j.closed.Load() {
		return fmt.Errorf("journal is closed")
	}

	j.appendMu.Lock()
	defer j.appendMu.Unlock()

	seq := j.lastSeq.Load()

	batch := j.db.NewBatch()
	defer batch.Close()

	for i := range entries {
		seq++
		entries[i].Seq = seq

		val, err := encoding.Marshal(&entries[i])
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		if err := batch.Set(journalKey(seq), val, nil); err != nil {
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}

	seqBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(seqBuf, seq)
	if err := batch.Set([]byte(prefixJournalSeq), seqBuf, nil); err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	// Only publish the new sequence after a successful commit
	j.lastSeq.Store(seq)
	return nil
}

// ReadFrom reads up to limit entries with sequence >= from
func (j *Journal) ReadFrom(from uint64, limit int) ([]JournalEntry, error) {
	if j.closed.Load() {
		return nil, fmt.Errorf("journal is closed")
	}
	if limit <= 0 {
		limit = j.batchSize
	}

	startKey := journalKey(from)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: startKey,
		UpperBound: prefixUpperBound([]byte(prefixJournal)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	entries := make([]JournalEntry, 0, min(limit, 64))
	for iter.SeekGE(startKey); iter.Valid() && len(entries) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		var entry JournalEntry
		if err := encoding.Unmarshal(val, &entry); err != nil {
			// Log and skip corrupted entries
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Failed to unmarshal journal entry")
			continue
		}
		entries = append(entries, entry)
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}
	return entries, nil
}

// LastSeq returns the sequence of the newest entry, 0 when empty
func (j *Journal) LastSeq() uint64 {
	return j.lastSeq.Load()
}

// Baseline returns the position after the newest entry
func (j *Journal) Baseline(ctx context.Context) (forwarder.Cursor, error) {
	if j.closed.Load() {
		return 0, fmt.Errorf("journal is closed")
	}
	return forwarder.Cursor(j.lastSeq.Load() + 1), nil
}

// FetchSince returns up to one batch of entries starting at cursor
func (j *Journal) FetchSince(ctx context.Context, cursor forwarder.Cursor) (*forwarder.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := j.ReadFrom(uint64(cursor), j.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	end := cursor
	records := make([]WireRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, NewWireRecord(e.Seq, e.SenderID, e.Category, e.Sender, e.Text, e.Timestamp))
		end = forwarder.Cursor(e.Seq + 1)
	}

	payload, err := marshalRecords(records)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return &forwarder.Snapshot{End: end, Payload: payload}, nil
}

// Committed releases entries before cursor. Cleanup runs in the background
// whenever the released position crosses a multiple of 64.
func (j *Journal) Committed(cursor forwarder.Cursor) {
	previous := j.released.Swap(uint64(cursor))
	if uint64(cursor)&^cleanupIntervalMask == previous&^cleanupIntervalMask {
		return
	}

	// Only spawn cleanup if one isn't already running
	if j.cleanupRunning.CompareAndSwap(false, true) {
		j.cleanupWg.Add(1)
		go j.cleanupAsync()
	}
}

// cleanup deletes entries before the released position
func (j *Journal) cleanup() {
	j.cleanupMu.Lock()
	defer j.cleanupMu.Unlock()

	if j.closed.Load() {
		return
	}

	released := j.released.Load()
	if released <= 1 {
		return // Nothing to cleanup
	}

	if err := j.db.DeleteRange([]byte(prefixJournal), journalKey(released), pebble.Sync); err != nil {
		log.Warn().Err(err).Uint64("released", released).Msg("Failed to cleanup journal")
		return
	}

	log.Debug().Uint64("released", released).Msg("Cleaned up journal entries")
}

func (j *Journal) cleanupAsync() {
	defer j.cleanupWg.Done()
	defer j.cleanupRunning.Store(false)
	j.cleanup()
}

// Close closes the Pebble database and waits for in-flight cleanup
func (j *Journal) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("journal already closed")
	}

	j.cleanupWg.Wait()
	return j.db.Close()
}

// journalKey formats a sequence number as a 16-digit zero-padded key
func journalKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixJournal, seq))
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil // Prefix is all 0xff
}
