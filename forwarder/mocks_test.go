package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maxpert/sysfwd/cfg"
	"github.com/maxpert/sysfwd/syslog"
)

// Mock implementations for testing

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Baseline(ctx context.Context) (Cursor, error) {
	args := m.Called(ctx)
	return args.Get(0).(Cursor), args.Error(1)
}

func (m *mockFetcher) FetchSince(ctx context.Context, cursor Cursor) (*Snapshot, error) {
	args := m.Called(ctx, cursor)
	snapshot, _ := args.Get(0).(*Snapshot)
	return snapshot, args.Error(1)
}

// committingFetcher also records commits
type committingFetcher struct {
	mockFetcher
	mu        sync.Mutex
	committed []Cursor
}

func (c *committingFetcher) Committed(cursor Cursor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = append(c.committed, cursor)
}

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) SetStatus(s Status) {
	m.Called(s)
}

type sentDatagram struct {
	host    string
	port    int
	payload string
}

type captureTransmitter struct {
	mu   sync.Mutex
	sent []sentDatagram
	err  error
}

func (c *captureTransmitter) Send(host string, port int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, sentDatagram{host: host, port: port, payload: string(payload)})
	return nil
}

func (c *captureTransmitter) messages() []sentDatagram {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]sentDatagram, len(c.sent))
	copy(result, c.sent)
	return result
}

type fixedIDs struct {
	mu sync.Mutex
	n  int
}

func (f *fixedIDs) Next() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("1704161045%06d", f.n)
}

type recordingVariables struct {
	lastMessage int64
	lastCycle   time.Time
	calls       int
}

func (r *recordingVariables) SetLastMessage(ts int64) {
	r.lastMessage = ts
	r.calls++
}

func (r *recordingVariables) SetLastCycle(t time.Time) {
	r.lastCycle = t
	r.calls++
}

var testNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))

const testInstanceID = 4242

func testConfig() *cfg.Configuration {
	return &cfg.Configuration{
		InstanceID:      testInstanceID,
		Server:          "192.0.2.10",
		Port:            514,
		DefaultSeverity: "info",
		DefaultFacility: "local0",
		DefaultProgram:  "ipsymcon",
		MessageTypes:    cfg.DefaultMessageTypes(),
		ExcludeFilters:  cfg.DefaultExcludeFilters(),
	}
}

type testHarness struct {
	forwarder   *Forwarder
	fetcher     Fetcher
	transmitter *captureTransmitter
	watermark   *Watermark
	variables   *recordingVariables
}

func newHarness(t *testing.T, fetcher Fetcher) *testHarness {
	t.Helper()

	wm, err := NewWatermark(NewMemoryStore())
	require.NoError(t, err)

	h := &testHarness{
		fetcher:     fetcher,
		transmitter: &captureTransmitter{},
		watermark:   wm,
		variables:   &recordingVariables{},
	}

	f, err := New(Options{
		Fetcher:     fetcher,
		Watermark:   wm,
		Facilities:  syslog.NewFacilityTable(true),
		Transmitter: h.transmitter,
		MsgIDs:      &fixedIDs{},
		Variables:   h.variables,
		Hostname:    "host",
		Now:         func() time.Time { return testNow },
	})
	require.NoError(t, err)
	h.forwarder = f

	return h
}

// applied returns a harness with testConfig applied and the watermark at start
func applied(t *testing.T, fetcher Fetcher, start Cursor) *testHarness {
	t.Helper()
	h := newHarness(t, fetcher)
	require.Equal(t, StatusActive, h.forwarder.Apply(testConfig()))
	if start != 0 {
		require.NoError(t, h.watermark.Set(start))
	}
	return h
}

type wireRecord struct {
	SenderID  uint64 `json:"SenderID"`
	TimeStamp uint64 `json:"TimeStamp"`
	Message   int    `json:"Message"`
	Data      []any  `json:"Data"`
}

func logRecord(position uint64, category Category, sender, text string, tstamp int64) wireRecord {
	return wireRecord{
		SenderID:  10000 + position,
		TimeStamp: position,
		Message:   int(category),
		Data:      []any{sender, text, tstamp},
	}
}

func snapshotOf(t *testing.T, end Cursor, records ...wireRecord) *Snapshot {
	t.Helper()
	if records == nil {
		records = []wireRecord{}
	}
	payload, err := json.Marshal(records)
	require.NoError(t, err)
	return &Snapshot{End: end, Payload: payload}
}

func cfgFilter(field, expression string) cfg.ExcludeFilter {
	return cfg.ExcludeFilter{Field: field, Expression: expression}
}

func cfgMessageType(category string) cfg.MessageTypeConfig {
	return cfg.MessageTypeConfig{Category: category, Title: category, Active: true}
}
