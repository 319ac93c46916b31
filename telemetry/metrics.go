package telemetry

// CycleBuckets covers a fetch + forward cycle, dominated by the snapshot fetch
var CycleBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Forwarding cycle metrics
var (
	// CyclesTotal counts cycles by final status (active, no_snapshot, bad_data)
	CyclesTotal CounterVec = noopCounterVec{}

	// CycleDurationSeconds measures the fetch-to-commit duration
	CycleDurationSeconds Histogram = NoopStat{}

	// RecordsTotal counts fetched records by outcome
	// (forwarded, failed, own, unknown, empty, filtered, inactive, unmapped)
	RecordsTotal CounterVec = noopCounterVec{}

	// SnapshotResetsTotal counts re-baselines after a failed fetch
	SnapshotResetsTotal Counter = NoopStat{}

	// Watermark is the committed stream cursor
	Watermark Gauge = NoopStat{}
)

// Transmission metrics
var (
	// MessagesSentTotal counts datagrams sent by severity
	MessagesSentTotal CounterVec = noopCounterVec{}

	// SendFailuresTotal counts socket creation failures and partial writes
	SendFailuresTotal Counter = NoopStat{}
)

// Timestamp variables, only maintained when with_tstamp_vars is enabled
var (
	// LastMessageTimestamp is the newest record timestamp seen in a cycle (unix seconds)
	LastMessageTimestamp Gauge = NoopStat{}

	// LastCycleTimestamp is the completion time of the last successful cycle (unix seconds)
	LastCycleTimestamp Gauge = NoopStat{}
)

// Status is the current forwarder status code (102 active, 104 inactive, 2xx errors)
var Status Gauge = NoopStat{}

func InitMetrics() {
	CyclesTotal = NewCounterVec(
		"cycles_total",
		"Forwarding cycles by resulting status",
		[]string{"status"},
	)
	CycleDurationSeconds = NewHistogramWithBuckets(
		"cycle_duration_seconds",
		"Forwarding cycle duration in seconds",
		CycleBuckets,
	)
	RecordsTotal = NewCounterVec(
		"records_total",
		"Fetched records by outcome",
		[]string{"result"},
	)
	SnapshotResetsTotal = NewCounter(
		"snapshot_resets_total",
		"Snapshot re-baselines after a failed fetch",
	)
	Watermark = NewGauge(
		"watermark",
		"Committed event stream cursor",
	)

	MessagesSentTotal = NewCounterVec(
		"messages_sent_total",
		"Syslog datagrams sent by severity",
		[]string{"severity"},
	)
	SendFailuresTotal = NewCounter(
		"send_failures_total",
		"Syslog datagrams that could not be sent",
	)

	LastMessageTimestamp = NewGauge(
		"last_message_timestamp_seconds",
		"Timestamp of the newest record seen by the last cycle",
	)
	LastCycleTimestamp = NewGauge(
		"last_cycle_timestamp_seconds",
		"Completion time of the last successful cycle",
	)

	Status = NewGauge(
		"status",
		"Forwarder status code",
	)
}

func resetMetrics() {
	CyclesTotal = noopCounterVec{}
	CycleDurationSeconds = NoopStat{}
	RecordsTotal = noopCounterVec{}
	SnapshotResetsTotal = NoopStat{}
	Watermark = NoopStat{}
	MessagesSentTotal = noopCounterVec{}
	SendFailuresTotal = NoopStat{}
	LastMessageTimestamp = NoopStat{}
	LastCycleTimestamp = NoopStat{}
	Status = NoopStat{}
}
