package forwarder

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCycleForwardsActiveRecords(t *testing.T) {
	fetcher := &mockFetcher{}
	h := applied(t, fetcher, 100)

	fetcher.On("FetchSince", mock.Anything, Cursor(100)).Return(snapshotOf(t, 103,
		logRecord(101, CategoryError, "Heating", "sensor offline", 1704160000),
		logRecord(102, CategoryMessage, "Script", "started", 1704160010),
		logRecord(103, CategoryNotify, "Alarm", "armed", 1704160005),
	), nil).Once()

	result, err := h.forwarder.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusActive, result.Status)
	assert.Equal(t, 3, result.Records)
	assert.Equal(t, 3, result.Accepted)
	assert.Equal(t, Cursor(100), result.From)
	assert.Equal(t, Cursor(103), result.To)

	sent := h.transmitter.messages()
	require.Len(t, sent, 3)
	assert.Equal(t, "<131>1 2024-01-02T03:04:05+01:00 host ipsymcon - 1704161045000001 - sensor offline", sent[0].payload)
	assert.True(t, strings.HasPrefix(sent[1].payload, "<134>1 "))
	assert.True(t, strings.HasPrefix(sent[2].payload, "<133>1 "))
	assert.Equal(t, "192.0.2.10", sent[0].host)
	assert.Equal(t, 514, sent[0].port)

	wm, ok := h.watermark.Get()
	assert.True(t, ok)
	assert.Equal(t, Cursor(103), wm)
	fetcher.AssertExpectations(t)
}

func TestCycleSuppressesVariableManager(t *testing.T) {
	fetcher := &mockFetcher{}
	h := applied(t, fetcher, 100)

	fetcher.On("FetchSince", mock.Anything, Cursor(100)).Return(snapshotOf(t, 101,
		logRecord(101, CategoryMessage, "VariableManager", "value changed", 1704160000),
	), nil).Once()

	result, err := h.forwarder.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Empty(t, h.transmitter.messages())
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Accepted)

	wm, _ := h.watermark.Get()
	assert.Equal(t, Cursor(101), wm)
}

func TestCycleSkipsOwnRecords(t *testing.T) {
	fetcher := &mockFetcher{}
	h := applied(t, fetcher, 100)

	own := logRecord(101, CategoryError, "Syslog", "own message", 1704160000)
	own.SenderID = testInstanceID
	fetcher.On("FetchSince", mock.Anything, Cursor(100)).Return(snapshotOf(t, 101, own), nil).Once()

	result, err := h.forwarder.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Empty(t, h.transmitter.messages())
	assert.Equal(t, 1, result.Skipped)
}

func TestCycleSkipsUnforwardableRecords(t *testing.T) {
	fetcher := &mockFetcher{}
	h := applied(t, fetcher, 100)

	unknown := logRecord(101, CategoryUnknown, "Kernel", "started", 1704160000)
	unknown.Message = 10505

	fetcher.On("FetchSince", mock.Anything, Cursor(100)).Return(snapshotOf(t, 106,
		unknown,
		logRecord(102, CategoryDebug, "Script", "debug output", 1704160000),
		logRecord(103, CategoryError, "", "no sender", 1704160000),
		logRecord(104, CategoryError, "Script", "", 1704160000),
		logRecord(105, CategoryWarning, "Script", "forwarded", 1704160000),
	), nil).Once()

	result, err := h.forwarder.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, result.Records)
	assert.Equal(t, 4, result.Skipped)
	assert.Equal(t, 1, result.Accepted)

	sent := h.transmitter.messages()
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0].payload, "<132>1 "))
	assert.True(t, strings.HasSuffix(sent[0].payload, " - forwarded"))
}

func TestCycleTextFilter(t *testing.T) {
	fetcher := &mockFetcher{}
	h := newHarness(t, fetcher)

	conf := testConfig()
	conf.ExcludeFilters = append(conf.ExcludeFilters, cfgFilter("Text", "/heartbeat/i"))
	require.Equal(t, StatusActive, h.forwarder.Apply(conf))
	require.NoError(t, h.watermark.Set(100))

	fetcher.On("FetchSince", mock.Anything, Cursor(100)).Return(snapshotOf(t, 102,
		logRecord(101, CategoryMessage, "Watchdog", "HEARTBEAT ok", 1704160000),
		logRecord(102, CategoryMessage, "Watchdog", "missed beat", 1704160000),
	), nil).Once()

	result, err := h.forwarder.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	require.Len(t, h.transmitter.messages(), 1)
	assert.True(t, strings.HasSuffix(h.transmitter.messages()[0].payload, " - missed beat"))
}

func TestCycleTruncatesLongText(t *testing.T) {
	fetcher := &mockFetcher{}
	h := applied(t, fetcher, 100)

	long := strings.Repeat("ä", MaxTextRunes+50)
	fetcher.On("FetchSince", mock.Anything, Cursor(100)).Return(snapshotOf(t, 101,
		logRecord(101, CategoryMessage, "Script", long, 1704160000),
	), nil).Once()

	_, err := h.forwarder.RunCycle(context.Background())
	require.NoError(t, err)

	sent := h.transmitter.messages()
	require.Len(t, sent, 1)
	assert.True(t, strings.HasSuffix(sent[0].payload, " - "+strings.Repeat("ä", MaxTextRunes)+"..."))
}

func TestCycleBaselinesEmptyWatermark(t *testing.T) {
	fetcher := &mockFetcher{}
	h := applied(t, fetcher, 0)

	fetcher.On("Baseline", mock.Anything).Return(Cursor(500), nil).Once()
	fetcher.On("FetchSince", mock.Anything, Cursor(500)).Return(snapshotOf(t, 500), nil).Once()

	result, err := h.forwarder.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusActive, result.Status)
	assert.Equal(t, 0, result.Records)
	wm, ok := h.watermark.Get()
	assert.True(t, ok)
	assert.Equal(t, Cursor(500), wm)
	fetcher.AssertExpectations(t)
}

func TestCycleRecoversAfterOneFetchFailure(t *testing.T) {
	fetcher := &mockFetcher{}
	h := applied(t, fetcher, 100)

	fetcher.On("FetchSince", mock.Anything, Cursor(100)).Return(nil, errors.New("snapshot expired")).Once()
	fetcher.On("Baseline", mock.Anything).Return(Cursor(300), nil).Once()
	fetcher.On("FetchSince", mock.Anything, Cursor(300)).Return(snapshotOf(t, 301,
		logRecord(301, CategoryError, "Script", "after reset", 1704160000),
	), nil).Once()

	result, err := h.forwarder.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusActive, result.Status)
	assert.Equal(t, Cursor(300), result.From)
	assert.Len(t, h.transmitter.messages(), 1)
	wm, _ := h.watermark.Get()
	assert.Equal(t, Cursor(301), wm)
	fetcher.AssertExpectations(t)
}

func TestCycleRebaselineMayLowerWatermark(t *testing.T) {
	fetcher := &mockFetcher{}
	h := applied(t, fetcher, 500)

	// The source restarted and its counter began again below the watermark
	fetcher.On("FetchSince", mock.Anything, Cursor(500)).Return(nil, errors.New("snapshot expired")).Once()
	fetcher.On("Baseline", mock.Anything).Return(Cursor(10), nil).Once()
	fetcher.On("FetchSince", mock.Anything, Cursor(10)).Return(snapshotOf(t, 20,
		logRecord(20, CategoryError, "Script", "after restart", 1704160000),
	), nil).Once()

	result, err := h.forwarder.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusActive, result.Status)
	assert.Equal(t, Cursor(10), result.From)
	assert.Equal(t, Cursor(20), result.To)
	assert.Len(t, h.transmitter.messages(), 1)

	wm, _ := h.watermark.Get()
	assert.Equal(t, Cursor(20), wm)
	fetcher.AssertExpectations(t)
}

func TestCycleStoreFailureDoesNotResend(t *testing.T) {
	fetcher := &mockFetcher{}
	h := applied(t, fetcher, 0)

	store := &failingStore{}
	wm, err := NewWatermark(store)
	require.NoError(t, err)
	require.NoError(t, wm.Set(100))
	store.err = errors.New("disk full")
	h.forwarder.watermark = wm
	h.watermark = wm

	fetcher.On("FetchSince", mock.Anything, Cursor(100)).Return(snapshotOf(t, 101,
		logRecord(101, CategoryError, "Heating", "sensor offline", 1704160000),
	), nil).Once()
	fetcher.On("FetchSince", mock.Anything, Cursor(101)).Return(snapshotOf(t, 101), nil).Once()

	for i := 0; i < 2; i++ {
		result, err := h.forwarder.RunCycle(context.Background())
		require.NoError(t, err, "cycle %d", i)
		assert.Equal(t, StatusActive, result.Status, "cycle %d", i)
		assert.Equal(t, Cursor(101), result.To, "cycle %d", i)
	}

	assert.Len(t, h.transmitter.messages(), 1)
	assert.Equal(t, StatusActive, h.forwarder.Status())

	c, _ := wm.Get()
	assert.Equal(t, Cursor(101), c)
	persisted, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Cursor(100), persisted)
	fetcher.AssertExpectations(t)
}

func TestCycleDoubleFetchFailure(t *testing.T) {
	fetcher := &mockFetcher{}
	h := applied(t, fetcher, 100)

	reporter := &mockReporter{}
	reporter.On("SetStatus", StatusNoSnapshot).Once()
	h.forwarder.reporter = reporter

	fetcher.On("FetchSince", mock.Anything, Cursor(100)).Return(nil, errors.New("snapshot expired")).Once()
	fetcher.On("Baseline", mock.Anything).Return(Cursor(300), nil).Once()
	fetcher.On("FetchSince", mock.Anything, Cursor(300)).Return(&Snapshot{End: 300}, nil).Once()

	result, err := h.forwarder.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSnapshot)
	assert.Equal(t, StatusNoSnapshot, result.Status)
	assert.Equal(t, StatusNoSnapshot, h.forwarder.Status())

	wm, _ := h.watermark.Get()
	assert.Equal(t, Cursor(100), wm)
	assert.Empty(t, h.transmitter.messages())

	fetcher.AssertExpectations(t)
	reporter.AssertExpectations(t)
}

func TestCycleBaselineFailure(t *testing.T) {
	fetcher := &mockFetcher{}
	h := applied(t, fetcher, 100)

	fetcher.On("FetchSince", mock.Anything, Cursor(100)).Return(nil, ErrNoSnapshot).Once()
	fetcher.On("Baseline", mock.Anything).Return(Cursor(0), errors.New("connection refused")).Once()

	result, err := h.forwarder.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
	assert.Equal(t, StatusNoSnapshot, result.Status)

	wm, _ := h.watermark.Get()
	assert.Equal(t, Cursor(100), wm)
}

func TestCycleDecodeFailure(t *testing.T) {
	var buf bytes.Buffer
	previous := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.DebugLevel)
	defer func() { log.Logger = previous }()

	fetcher := &mockFetcher{}
	h := applied(t, fetcher, 100)

	fetcher.On("FetchSince", mock.Anything, Cursor(100)).Return(&Snapshot{End: 150, Payload: []byte(`[{"SenderID":`)}, nil).Once()

	result, err := h.forwarder.RunCycle(context.Background())
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, StatusBadData, result.Status)
	assert.Equal(t, StatusBadData, h.forwarder.Status())

	wm, _ := h.watermark.Get()
	assert.Equal(t, Cursor(100), wm)
	assert.Empty(t, h.transmitter.messages())

	assert.Equal(t, 1, strings.Count(buf.String(), `"level":"warn"`))
	assert.Contains(t, buf.String(), "Unable to decode snapshot")
}

func TestCycleRejectsRegressingSnapshot(t *testing.T) {
	fetcher := &mockFetcher{}
	h := applied(t, fetcher, 100)

	fetcher.On("FetchSince", mock.Anything, Cursor(100)).Return(snapshotOf(t, 90), nil).Once()

	result, err := h.forwarder.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrWatermarkRegression)
	assert.Equal(t, StatusBadData, result.Status)

	wm, _ := h.watermark.Get()
	assert.Equal(t, Cursor(100), wm)
}

func TestCycleTransmissionFailureDoesNotAbort(t *testing.T) {
	fetcher := &mockFetcher{}
	h := applied(t, fetcher, 100)
	h.transmitter.err = errors.New("network unreachable")

	fetcher.On("FetchSince", mock.Anything, Cursor(100)).Return(snapshotOf(t, 102,
		logRecord(101, CategoryError, "Script", "first", 1704160000),
		logRecord(102, CategoryError, "Script", "second", 1704160000),
	), nil).Once()

	result, err := h.forwarder.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusActive, result.Status)
	assert.Equal(t, 2, result.Accepted)
	assert.Equal(t, 2, result.SendFailures)
	wm, _ := h.watermark.Get()
	assert.Equal(t, Cursor(102), wm)
}

func TestCycleTimestampVariables(t *testing.T) {
	fetcher := &mockFetcher{}
	h := newHarness(t, fetcher)

	conf := testConfig()
	conf.WithTstampVars = true
	require.Equal(t, StatusActive, h.forwarder.Apply(conf))
	require.NoError(t, h.watermark.Set(100))

	fetcher.On("FetchSince", mock.Anything, Cursor(100)).Return(snapshotOf(t, 103,
		logRecord(101, CategoryMessage, "Script", "a", 1704160010),
		logRecord(102, CategoryMessage, "Script", "b", 1704160030),
		logRecord(103, CategoryMessage, "VariableManager", "c", 1704160099),
	), nil).Once()

	_, err := h.forwarder.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1704160030), h.variables.lastMessage)
	assert.Equal(t, testNow, h.variables.lastCycle)
}

func TestCycleWithoutTimestampVariables(t *testing.T) {
	fetcher := &mockFetcher{}
	h := applied(t, fetcher, 100)

	fetcher.On("FetchSince", mock.Anything, Cursor(100)).Return(snapshotOf(t, 101,
		logRecord(101, CategoryMessage, "Script", "a", 1704160010),
	), nil).Once()

	_, err := h.forwarder.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, h.variables.calls)
}

func TestCycleNotifiesCommitListener(t *testing.T) {
	fetcher := &committingFetcher{}
	h := applied(t, fetcher, 100)

	fetcher.On("FetchSince", mock.Anything, Cursor(100)).Return(snapshotOf(t, 110), nil).Once()

	_, err := h.forwarder.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Cursor{110}, fetcher.committed)
}

func TestCycleInProgress(t *testing.T) {
	fetcher := &mockFetcher{}
	h := applied(t, fetcher, 100)

	h.forwarder.cycleMu.Lock()
	_, err := h.forwarder.RunCycle(context.Background())
	h.forwarder.cycleMu.Unlock()

	assert.ErrorIs(t, err, ErrCycleInProgress)
	wm, _ := h.watermark.Get()
	assert.Equal(t, Cursor(100), wm)
	fetcher.AssertNotCalled(t, "FetchSince", mock.Anything, mock.Anything)
}

func TestCycleInactive(t *testing.T) {
	fetcher := &mockFetcher{}
	h := newHarness(t, fetcher)

	_, err := h.forwarder.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrInactive)
	fetcher.AssertNotCalled(t, "Baseline", mock.Anything)
}

func TestCycleLatin1Payload(t *testing.T) {
	fetcher := &mockFetcher{}
	h := applied(t, fetcher, 100)

	// "Küche" in Latin-1
	payload := []byte("[{\"SenderID\":1,\"TimeStamp\":101,\"Message\":10201,\"Data\":[\"K\xfcche\",\"T\xfcr offen\",1704160000]}]")
	fetcher.On("FetchSince", mock.Anything, Cursor(100)).Return(&Snapshot{End: 101, Payload: payload}, nil).Once()

	_, err := h.forwarder.RunCycle(context.Background())
	require.NoError(t, err)

	sent := h.transmitter.messages()
	require.Len(t, sent, 1)
	assert.True(t, strings.HasSuffix(sent[0].payload, " - Tür offen"))
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "short", truncateText("short"))

	exact := strings.Repeat("x", MaxTextRunes)
	assert.Equal(t, exact, truncateText(exact))

	over := strings.Repeat("x", MaxTextRunes+1)
	assert.Equal(t, exact+"...", truncateText(over))
}
