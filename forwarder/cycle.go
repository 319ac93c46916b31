package forwarder

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/maxpert/sysfwd/telemetry"
)

const (
	// MaxTextRunes is the longest record text forwarded unabridged
	MaxTextRunes     = 1024
	truncationSuffix = "..."
)

// Record outcomes, used as the records_total label
const (
	resultForwarded = "forwarded"
	resultFailed    = "failed"
	resultOwn       = "own"
	resultUnknown   = "unknown"
	resultEmpty     = "empty"
	resultFiltered  = "filtered"
	resultInactive  = "inactive"
	resultUnmapped  = "unmapped"
)

// CommitListener is implemented by fetchers that want to know when a cursor
// was committed, e.g. to release storage
type CommitListener interface {
	Committed(Cursor)
}

// CycleResult summarizes one cycle
type CycleResult struct {
	Status       Status `json:"status"`
	Records      int    `json:"records"`       // Records in the snapshot
	Accepted     int    `json:"accepted"`      // Records handed to the transmitter
	Skipped      int    `json:"skipped"`       // Records dropped before transmission
	SendFailures int    `json:"send_failures"` // Accepted records that failed to send
	From         Cursor `json:"from"`          // Cursor the snapshot was fetched from
	To           Cursor `json:"to"`            // Committed watermark
}

// RunCycle fetches the records since the watermark, forwards the accepted
// ones and advances the watermark. Only one cycle runs at a time; an
// overlapping call returns ErrCycleInProgress without side effects.
func (f *Forwarder) RunCycle(ctx context.Context) (CycleResult, error) {
	if !f.cycleMu.TryLock() {
		return CycleResult{Status: f.Status()}, ErrCycleInProgress
	}
	defer f.cycleMu.Unlock()

	settings := f.settings.Load()
	if settings == nil {
		return CycleResult{Status: f.Status()}, ErrInactive
	}

	start := time.Now()
	result, err := f.cycle(ctx, settings)
	telemetry.CycleDurationSeconds.Observe(time.Since(start).Seconds())
	telemetry.CyclesTotal.With(result.Status.String()).Inc()

	return result, err
}

func (f *Forwarder) cycle(ctx context.Context, settings *Settings) (CycleResult, error) {
	var result CycleResult

	// Start
	previous, _ := f.watermark.Get()
	cursor, ok := previous, previous != 0
	if !ok {
		var err error
		cursor, err = f.watermark.Baseline(ctx, f.fetcher)
		if err != nil {
			log.Warn().Err(err).Msg("Unable to get initial snapshot")
			return f.abortNoSnapshot(result, previous, err)
		}
	}
	log.Debug().Uint64("watermark", uint64(cursor)).Msg("Starting cycle")

	// Fetching
	snapshot, err := f.fetch(ctx, cursor)
	if err != nil {
		old := cursor
		telemetry.SnapshotResetsTotal.Inc()

		cursor, err = f.watermark.Baseline(ctx, f.fetcher)
		if err != nil {
			log.Warn().Err(err).Uint64("old", uint64(old)).Msg("Unable to get snapshot, reset failed")
			return f.abortNoSnapshot(result, previous, err)
		}
		log.Warn().Uint64("old", uint64(old)).Uint64("new", uint64(cursor)).Msg("Unable to get snapshot, resetting")

		snapshot, err = f.fetch(ctx, cursor)
		if err != nil {
			log.Warn().Err(err).Uint64("watermark", uint64(cursor)).Msg("Unable to get snapshot, reset failed")
			return f.abortNoSnapshot(result, previous, err)
		}
	}
	result.From = cursor

	// Parsing
	records, err := DecodeRecords(snapshot.Payload)
	if err != nil {
		log.Warn().Err(err).Int("length", len(snapshot.Payload)).Msg("Unable to decode snapshot")
		log.Debug().Str("payload", preview(snapshot.Payload)).Msg("Undecodable snapshot")
		result.Status = StatusBadData
		f.setStatus(StatusBadData)
		return result, err
	}
	result.Records = len(records)

	// Processing
	filters, err := settings.Filters(f.cache)
	if err != nil {
		log.Error().Err(err).Msg("Unable to compile exclude filters")
		result.Status = StatusInvalidConfig
		f.setStatus(StatusInvalidConfig)
		return result, err
	}

	var lastTimestamp int64
	for _, rec := range records {
		outcome := f.process(settings, filters, rec)
		telemetry.RecordsTotal.With(outcome).Inc()

		switch outcome {
		case resultForwarded:
			result.Accepted++
		case resultFailed:
			result.Accepted++
			result.SendFailures++
		default:
			result.Skipped++
		}

		if passedFilters(outcome) && rec.Timestamp > lastTimestamp {
			lastTimestamp = rec.Timestamp
		}
	}

	// Committed
	if err := f.watermark.Advance(cursor, snapshot.End); err != nil {
		if errors.Is(err, ErrWatermarkRegression) {
			log.Warn().Err(err).Msg("Snapshot ends before its start")
			result.Status = StatusBadData
			f.setStatus(StatusBadData)
			return result, err
		}
		// The in-memory watermark advanced; only a restart would resend
		log.Error().Err(err).Uint64("watermark", uint64(snapshot.End)).Msg("Failed to persist watermark")
	}
	result.To = snapshot.End

	if listener, ok := f.fetcher.(CommitListener); ok {
		listener.Committed(snapshot.End)
	}

	if settings.WithTstampVars && f.variables != nil {
		if lastTimestamp != 0 {
			f.variables.SetLastMessage(lastTimestamp)
		}
		f.variables.SetLastCycle(f.now())
	}

	log.Debug().
		Int("length", len(snapshot.Payload)).
		Int("records", result.Records).
		Int("sent", result.Accepted).
		Uint64("watermark", uint64(result.To)).
		Msg("Cycle completed")

	result.Status = StatusActive
	f.setStatus(StatusActive)
	return result, nil
}

// fetch treats an error, a missing snapshot and an empty payload alike
func (f *Forwarder) fetch(ctx context.Context, cursor Cursor) (*Snapshot, error) {
	snapshot, err := f.fetcher.FetchSince(ctx, cursor)
	if err != nil {
		return nil, err
	}
	if snapshot == nil || len(snapshot.Payload) == 0 {
		return nil, ErrNoSnapshot
	}
	return snapshot, nil
}

func (f *Forwarder) abortNoSnapshot(result CycleResult, previous Cursor, cause error) (CycleResult, error) {
	if err := f.watermark.Set(previous); err != nil {
		log.Error().Err(err).Uint64("watermark", uint64(previous)).Msg("Failed to restore watermark")
	}

	result.Status = StatusNoSnapshot
	f.setStatus(StatusNoSnapshot)

	if errors.Is(cause, ErrNoSnapshot) {
		return result, cause
	}
	return result, fmt.Errorf("%w: %w", ErrNoSnapshot, cause)
}

// process decides the fate of one record and sends it when accepted
func (f *Forwarder) process(settings *Settings, filters *FilterSet, rec Record) string {
	if rec.OriginID == settings.InstanceID {
		return resultOwn
	}
	if !rec.Category.Known() {
		return resultUnknown
	}

	if rec.Sender == "" {
		return resultEmpty
	}
	if filters.Suppressed(FieldSender, rec.Sender) {
		return resultFiltered
	}
	if rec.Text == "" {
		return resultEmpty
	}
	if filters.Suppressed(FieldText, rec.Text) {
		return resultFiltered
	}

	log.Debug().
		Uint64("origin_id", rec.OriginID).
		Str("category", rec.Category.String()).
		Str("sender", rec.Sender).
		Int("text_len", len(rec.Text)).
		Int64("tstamp", rec.Timestamp).
		Msg("Record")

	if !settings.Active(rec.Category) {
		return resultInactive
	}
	severity, ok := rec.Category.Severity()
	if !ok {
		return resultUnmapped
	}

	if err := f.send(settings, settings.Facility, severity, settings.Program, truncateText(rec.Text)); err != nil {
		log.Error().Err(err).Str("sender", rec.Sender).Msg("Failed to send record")
		return resultFailed
	}
	return resultForwarded
}

// passedFilters reports whether the record made it past the exclude filters
func passedFilters(outcome string) bool {
	switch outcome {
	case resultOwn, resultUnknown, resultEmpty, resultFiltered:
		return false
	}
	return true
}

// truncateText cuts text to MaxTextRunes runes plus an ellipsis
func truncateText(text string) string {
	if utf8.RuneCountInString(text) <= MaxTextRunes {
		return text
	}
	n := 0
	for i := range text {
		if n == MaxTextRunes {
			return text[:i] + truncationSuffix
		}
		n++
	}
	return text
}
