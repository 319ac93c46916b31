package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/maxpert/sysfwd/cfg"
	"github.com/maxpert/sysfwd/forwarder"
)

const (
	DefaultKafkaMaxBytes = 10 << 20 // 10MB
	defaultKafkaTimeout  = 10 * time.Second
)

func init() {
	Register(cfg.SourceKafka, func(conf *cfg.Configuration) (Source, error) {
		kc := conf.Source.Kafka
		return NewKafkaFetcher(KafkaConfig{
			Brokers:   kc.Brokers,
			Topic:     kc.Topic,
			Partition: kc.Partition,
			MaxBytes:  kc.MaxBytes,
		})
	})
}

// KafkaConfig holds configuration for KafkaFetcher
type KafkaConfig struct {
	Brokers   []string // Kafka broker addresses
	Topic     string   // Topic to read
	Partition int      // Partition to read
	MaxBytes  int      // Max bytes per fetch (default: 10MB)
}

// partition is the slice of a Kafka partition the fetcher needs
type partition interface {
	// Offsets returns the first available offset and the high-water mark
	Offsets(ctx context.Context) (first, last int64, err error)
	// Read returns messages starting at offset, stopping before last
	Read(ctx context.Context, offset, last int64, maxBytes int) ([]kafka.Message, error)
}

// KafkaFetcher reads records from one topic partition. Each message value is
// one JSON record; its position is offset+1.
type KafkaFetcher struct {
	partition partition
	maxBytes  int
}

// NewKafkaFetcher creates a fetcher. Connections are opened per fetch.
func NewKafkaFetcher(config KafkaConfig) (*KafkaFetcher, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka source requires at least one broker address")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka source requires a topic")
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultKafkaMaxBytes
	}

	return &KafkaFetcher{
		partition: &leaderPartition{
			brokers:   config.Brokers,
			topic:     config.Topic,
			partition: config.Partition,
		},
		maxBytes: config.MaxBytes,
	}, nil
}

// Baseline returns the position after the last message in the partition
func (k *KafkaFetcher) Baseline(ctx context.Context) (forwarder.Cursor, error) {
	_, last, err := k.partition.Offsets(ctx)
	if err != nil {
		return 0, err
	}
	return forwarder.Cursor(last + 1), nil
}

// FetchSince reads the messages from position cursor up to the high-water mark
func (k *KafkaFetcher) FetchSince(ctx context.Context, cursor forwarder.Cursor) (*forwarder.Snapshot, error) {
	if cursor == 0 {
		return nil, fmt.Errorf("invalid kafka position 0")
	}

	first, last, err := k.partition.Offsets(ctx)
	if err != nil {
		return nil, err
	}

	offset := int64(cursor) - 1
	if offset < first {
		return nil, fmt.Errorf("%w: offset %d, first %d", errBehindStream, offset, first)
	}
	if offset >= last {
		return &forwarder.Snapshot{End: cursor, Payload: joinRecords(nil)}, nil
	}

	msgs, err := k.partition.Read(ctx, offset, last, k.maxBytes)
	if err != nil {
		return nil, err
	}

	end := cursor
	values := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		values = append(values, m.Value)
		end = forwarder.Cursor(m.Offset + 2)
	}

	return &forwarder.Snapshot{End: end, Payload: joinRecords(values)}, nil
}

// Close is a no-op; connections do not outlive a fetch
func (k *KafkaFetcher) Close() error {
	return nil
}

// leaderPartition talks to the partition leader through kafka.Conn
type leaderPartition struct {
	brokers   []string
	topic     string
	partition int
}

func (p *leaderPartition) dial(ctx context.Context) (*kafka.Conn, error) {
	var errs []error
	for _, broker := range p.brokers {
		conn, err := kafka.DialLeader(ctx, "tcp", broker, p.topic, p.partition)
		if err == nil {
			deadline, ok := ctx.Deadline()
			if !ok {
				deadline = time.Now().Add(defaultKafkaTimeout)
			}
			if err := conn.SetDeadline(deadline); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("failed to dial leader for %s/%d: %w", p.topic, p.partition, errors.Join(errs...))
}

func (p *leaderPartition) Offsets(ctx context.Context) (int64, int64, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer conn.Close()

	first, last, err := conn.ReadOffsets()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read offsets: %w", err)
	}
	return first, last, nil
}

func (p *leaderPartition) Read(ctx context.Context, offset, last int64, maxBytes int) ([]kafka.Message, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.Seek(offset, kafka.SeekAbsolute); err != nil {
		return nil, fmt.Errorf("failed to seek to offset %d: %w", offset, err)
	}

	batch := conn.ReadBatch(1, maxBytes)
	defer batch.Close()

	var msgs []kafka.Message
	for offset < last {
		msg, err := batch.ReadMessage()
		if err != nil {
			if len(msgs) > 0 {
				break // Partial batch, the rest comes next fetch
			}
			return nil, fmt.Errorf("failed to read message at offset %d: %w", offset, err)
		}
		msgs = append(msgs, msg)
		offset = msg.Offset + 1
	}
	return msgs, nil
}
