package source

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpert/sysfwd/forwarder"
)

func openTestJournal(t *testing.T, batchSize int) *Journal {
	t.Helper()
	j, err := OpenJournal(t.TempDir(), batchSize)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalAppendAndRead(t *testing.T) {
	j := openTestJournal(t, 0)

	entries := []JournalEntry{
		{SenderID: 11, Category: forwarder.CategoryError, Sender: "Heating", Text: "offline", Timestamp: 1704160000},
		{SenderID: 12, Category: forwarder.CategoryMessage, Sender: "Script", Text: "done", Timestamp: 1704160001},
	}
	require.NoError(t, j.Append(entries))

	assert.Equal(t, uint64(1), entries[0].Seq)
	assert.Equal(t, uint64(2), entries[1].Seq)
	assert.Equal(t, uint64(2), j.LastSeq())

	read, err := j.ReadFrom(1, 10)
	require.NoError(t, err)
	require.Len(t, read, 2)
	assert.Equal(t, entries[0], read[0])
	assert.Equal(t, entries[1], read[1])

	read, err = j.ReadFrom(2, 10)
	require.NoError(t, err)
	require.Len(t, read, 1)
	assert.Equal(t, "Script", read[0].Sender)
}

func TestJournalFetchSince(t *testing.T) {
	j := openTestJournal(t, 2)
	ctx := context.Background()

	base, err := j.Baseline(ctx)
	require.NoError(t, err)
	assert.Equal(t, forwarder.Cursor(1), base)

	snap, err := j.FetchSince(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, base, snap.End)
	assert.Equal(t, "[]", string(snap.Payload))

	require.NoError(t, j.Append([]JournalEntry{
		{SenderID: 1, Category: forwarder.CategoryError, Sender: "a", Text: "1"},
		{SenderID: 1, Category: forwarder.CategoryError, Sender: "a", Text: "2"},
		{SenderID: 1, Category: forwarder.CategoryError, Sender: "a", Text: "3"},
	}))

	// Batch size bounds the snapshot
	snap, err = j.FetchSince(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, forwarder.Cursor(3), snap.End)

	records, err := forwarder.DecodeRecords(snap.Payload)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].Text)
	assert.Equal(t, forwarder.Cursor(2), records[1].Position)

	snap, err = j.FetchSince(ctx, snap.End)
	require.NoError(t, err)
	assert.Equal(t, forwarder.Cursor(4), snap.End)
}

func TestJournalSkipsCorruptedEntries(t *testing.T) {
	j := openTestJournal(t, 10)
	ctx := context.Background()

	require.NoError(t, j.Append([]JournalEntry{
		{SenderID: 1, Category: forwarder.CategoryError, Sender: "a", Text: "1"},
		{SenderID: 1, Category: forwarder.CategoryError, Sender: "a", Text: "2"},
		{SenderID: 1, Category: forwarder.CategoryError, Sender: "a", Text: "3"},
	}))

	// 0xc1 is never a valid msgpack code
	require.NoError(t, j.db.Set(journalKey(2), []byte{0xc1}, pebble.Sync))

	snap, err := j.FetchSince(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, forwarder.Cursor(4), snap.End)

	records, err := forwarder.DecodeRecords(snap.Payload)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].Text)
	assert.Equal(t, "3", records[1].Text)
}

func TestJournalBaselineSkipsExisting(t *testing.T) {
	j := openTestJournal(t, 0)
	require.NoError(t, j.Append([]JournalEntry{{Sender: "a", Text: "old", Category: forwarder.CategoryMessage}}))

	base, err := j.Baseline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, forwarder.Cursor(2), base)

	snap, err := j.FetchSince(context.Background(), base)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(snap.Payload))
}

func TestJournalReopenKeepsSequence(t *testing.T) {
	dir := t.TempDir()

	j, err := OpenJournal(dir, 0)
	require.NoError(t, err)
	require.NoError(t, j.Append([]JournalEntry{{Sender: "a"}, {Sender: "b"}}))
	require.NoError(t, j.Close())

	j, err = OpenJournal(dir, 0)
	require.NoError(t, err)
	defer j.Close()

	assert.Equal(t, uint64(2), j.LastSeq())
	entries := []JournalEntry{{Sender: "c"}}
	require.NoError(t, j.Append(entries))
	assert.Equal(t, uint64(3), entries[0].Seq)
	assert.Equal(t, filepath.Join(dir, "journal"), j.path)
}

func TestJournalCleanup(t *testing.T) {
	j := openTestJournal(t, 0)

	entries := make([]JournalEntry, 100)
	for i := range entries {
		entries[i] = JournalEntry{Sender: "s", Text: "t", Category: forwarder.CategoryMessage}
	}
	require.NoError(t, j.Append(entries))

	j.released.Store(51)
	j.cleanup()

	read, err := j.ReadFrom(1, 200)
	require.NoError(t, err)
	require.Len(t, read, 50)
	assert.Equal(t, uint64(51), read[0].Seq)
}

func TestJournalCommittedTriggersCleanup(t *testing.T) {
	j := openTestJournal(t, 0)

	entries := make([]JournalEntry, 70)
	require.NoError(t, j.Append(entries))

	j.Committed(10) // Same 64-block as 0, no cleanup
	j.Committed(65)

	require.Eventually(t, func() bool {
		read, err := j.ReadFrom(1, 200)
		return err == nil && len(read) == 6
	}, 5*time.Second, 10*time.Millisecond)
}

func TestJournalClosed(t *testing.T) {
	j, err := OpenJournal(t.TempDir(), 0)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.Error(t, j.Close())
	assert.Error(t, j.Append([]JournalEntry{{Sender: "a"}}))
	_, err = j.ReadFrom(1, 1)
	assert.Error(t, err)
	_, err = j.Baseline(context.Background())
	assert.Error(t, err)
}
