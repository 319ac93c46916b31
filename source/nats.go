package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/maxpert/sysfwd/cfg"
	"github.com/maxpert/sysfwd/forwarder"
)

const defaultNatsBatch = 1000

// errBehindStream means the cursor points at messages the stream already dropped
var errBehindStream = errors.New("cursor is behind the first stream message")

func init() {
	Register(cfg.SourceNats, func(conf *cfg.Configuration) (Source, error) {
		nc := conf.Source.Nats
		return NewNatsFetcher(nc.URL, nc.Stream, nc.BatchSize)
	})
}

// NatsFetcher reads records from a JetStream stream. Each message carries one
// JSON record; the stream sequence is the position.
type NatsFetcher struct {
	nc        *nats.Conn
	stream    jetstream.Stream
	batchSize int
}

// NewNatsFetcher connects to url and binds to an existing stream
func NewNatsFetcher(url, streamName string, batchSize int) (*NatsFetcher, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to bind stream %s: %w", streamName, err)
	}

	f := newNatsFetcher(stream, batchSize)
	f.nc = nc
	return f, nil
}

func newNatsFetcher(stream jetstream.Stream, batchSize int) *NatsFetcher {
	if batchSize <= 0 {
		batchSize = defaultNatsBatch
	}
	return &NatsFetcher{stream: stream, batchSize: batchSize}
}

// Baseline returns the position after the last stream message
func (n *NatsFetcher) Baseline(ctx context.Context) (forwarder.Cursor, error) {
	info, err := n.stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get stream info: %w", err)
	}
	return forwarder.Cursor(info.State.LastSeq + 1), nil
}

// FetchSince reads up to one batch of messages starting at sequence cursor.
// Deleted sequences are skipped.
func (n *NatsFetcher) FetchSince(ctx context.Context, cursor forwarder.Cursor) (*forwarder.Snapshot, error) {
	info, err := n.stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}

	state := info.State
	from := uint64(cursor)
	if state.Msgs > 0 && from < state.FirstSeq {
		return nil, fmt.Errorf("%w: cursor %d, first %d", errBehindStream, from, state.FirstSeq)
	}

	end := cursor
	values := make([][]byte, 0)
	for seq := from; seq <= state.LastSeq && seq < from+uint64(n.batchSize); seq++ {
		msg, err := n.stream.GetMsg(ctx, seq)
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			end = forwarder.Cursor(seq + 1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get message %d: %w", seq, err)
		}
		values = append(values, msg.Data)
		end = forwarder.Cursor(seq + 1)
	}

	return &forwarder.Snapshot{End: end, Payload: joinRecords(values)}, nil
}

// Close closes the NATS connection
func (n *NatsFetcher) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}
