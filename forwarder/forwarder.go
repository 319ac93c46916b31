package forwarder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/maxpert/sysfwd/cfg"
	"github.com/maxpert/sysfwd/id"
	"github.com/maxpert/sysfwd/syslog"
	"github.com/maxpert/sysfwd/telemetry"
)

// TestMessageText is the text sent by TestMessage
const TestMessageText = "Testnachricht"

// Options wires a Forwarder to its collaborators. Fetcher, Watermark and
// Facilities are required; the rest default to production implementations.
type Options struct {
	Fetcher     Fetcher
	Watermark   *Watermark
	Facilities  *syslog.FacilityTable
	Transmitter syslog.Transmitter
	MsgIDs      id.Generator
	Reporter    StatusReporter
	Variables   VariableStore
	Cache       *PatternCache
	Hostname    string
	Now         func() time.Time
}

// MessageOptions overrides the configured defaults for one message. Empty
// fields use the defaults.
type MessageOptions struct {
	Severity string
	Facility string
	Program  string
}

// Forwarder sends ad-hoc messages and runs forwarding cycles
type Forwarder struct {
	fetcher     Fetcher
	watermark   *Watermark
	facilities  *syslog.FacilityTable
	transmitter syslog.Transmitter
	msgIDs      id.Generator
	reporter    StatusReporter
	variables   VariableStore
	cache       *PatternCache
	hostname    string
	now         func() time.Time

	// nil unless the last Apply produced an enabled, valid configuration
	settings atomic.Pointer[Settings]
	status   atomic.Int64

	cycleMu   sync.Mutex // Held for the duration of a cycle
	scheduler *Scheduler
}

// New creates a Forwarder in the Inactive state. Call Apply to enable it.
func New(opts Options) (*Forwarder, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if opts.Watermark == nil {
		return nil, fmt.Errorf("watermark is required")
	}
	if opts.Facilities == nil {
		return nil, fmt.Errorf("facility table is required")
	}

	if opts.Transmitter == nil {
		opts.Transmitter = syslog.NewUDPTransmitter()
	}
	if opts.MsgIDs == nil {
		opts.MsgIDs = id.NewMsgIDGenerator()
	}
	if opts.Cache == nil {
		cache, err := NewPatternCache(DefaultPatternCacheSize)
		if err != nil {
			return nil, err
		}
		opts.Cache = cache
	}
	if opts.Hostname == "" {
		opts.Hostname = syslog.Hostname()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	f := &Forwarder{
		fetcher:     opts.Fetcher,
		watermark:   opts.Watermark,
		facilities:  opts.Facilities,
		transmitter: opts.Transmitter,
		msgIDs:      opts.MsgIDs,
		reporter:    opts.Reporter,
		variables:   opts.Variables,
		cache:       opts.Cache,
		hostname:    opts.Hostname,
		now:         opts.Now,
	}
	f.status.Store(int64(StatusInactive))
	f.scheduler = NewScheduler(f.runScheduledCycle)

	return f, nil
}

// Apply validates conf and makes it the active configuration. Invalid
// settings disable forwarding until the next successful Apply.
func (f *Forwarder) Apply(conf *cfg.Configuration) Status {
	settings, err := NewSettings(conf, f.facilities, f.cache)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid forwarding configuration, forwarding disabled")
		f.settings.Store(nil)
		f.scheduler.Reschedule(0)
		f.setStatus(StatusInvalidConfig)
		return StatusInvalidConfig
	}

	if !settings.Enabled() {
		log.Info().Msg("No syslog server configured, forwarder inactive")
		f.settings.Store(nil)
		f.scheduler.Reschedule(0)
		f.setStatus(StatusInactive)
		return StatusInactive
	}

	f.settings.Store(settings)
	f.scheduler.Reschedule(settings.Interval)
	f.setStatus(StatusActive)

	log.Info().
		Str("server", settings.Server).
		Int("port", settings.Port).
		Str("severity", settings.Severity.String()).
		Int("facility", int(settings.Facility)).
		Str("program", settings.Program).
		Dur("interval", settings.Interval).
		Msg("Forwarding configuration applied")

	return StatusActive
}

// Message sends text with the given overrides
func (f *Forwarder) Message(text string, opts MessageOptions) error {
	settings := f.settings.Load()
	if settings == nil {
		return ErrInactive
	}

	severity := settings.Severity
	if opts.Severity != "" {
		s, err := syslog.DecodeSeverity(opts.Severity)
		if err != nil {
			return fmt.Errorf("%w: %q", err, opts.Severity)
		}
		severity = s
	}

	facility := settings.Facility
	if opts.Facility != "" {
		fac, err := f.facilities.Decode(opts.Facility)
		if err != nil {
			return fmt.Errorf("%w: %q", err, opts.Facility)
		}
		facility = fac
	}

	program := settings.Program
	if opts.Program != "" {
		program = opts.Program
	}

	return f.send(settings, facility, severity, program, text)
}

// Error sends text with severity error
func (f *Forwarder) Error(text string) error {
	return f.Message(text, MessageOptions{Severity: "error"})
}

// Warning sends text with severity warning
func (f *Forwarder) Warning(text string) error {
	return f.Message(text, MessageOptions{Severity: "warn"})
}

// Notice sends text with severity notice
func (f *Forwarder) Notice(text string) error {
	return f.Message(text, MessageOptions{Severity: "notice"})
}

// Info sends text with severity info
func (f *Forwarder) Info(text string) error {
	return f.Message(text, MessageOptions{Severity: "info"})
}

// TestMessage sends a fixed test message with the defaults
func (f *Forwarder) TestMessage() error {
	return f.Message(TestMessageText, MessageOptions{})
}

func (f *Forwarder) send(settings *Settings, facility syslog.Facility, severity syslog.Severity, program, text string) error {
	msg := syslog.Message{
		Facility:  facility,
		Severity:  severity,
		Timestamp: f.now(),
		Hostname:  f.hostname,
		Program:   program,
		MsgID:     f.msgIDs.Next(),
		Text:      text,
	}

	if err := f.transmitter.Send(settings.Server, settings.Port, msg.Bytes()); err != nil {
		telemetry.SendFailuresTotal.Inc()
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	telemetry.MessagesSentTotal.With(severity.String()).Inc()
	return nil
}

// Status returns the current status
func (f *Forwarder) Status() Status {
	return Status(f.status.Load())
}

// Settings returns the active settings, nil when forwarding is disabled
func (f *Forwarder) Settings() *Settings {
	return f.settings.Load()
}

// Watermark returns the committed cursor and whether one is set
func (f *Forwarder) Watermark() (Cursor, bool) {
	return f.watermark.Get()
}

// CurrentWatermark exposes the watermark to the metrics collector
func (f *Forwarder) CurrentWatermark() (uint64, bool) {
	c, ok := f.watermark.Get()
	return uint64(c), ok
}

// Start starts periodic cycles at the applied interval
func (f *Forwarder) Start() {
	f.scheduler.Start()
}

// Stop stops periodic cycles and waits for a running scheduled cycle
func (f *Forwarder) Stop() {
	f.scheduler.Stop()
}

func (f *Forwarder) setStatus(s Status) {
	f.status.Store(int64(s))
	telemetry.Status.Set(float64(s))
	if f.reporter != nil {
		f.reporter.SetStatus(s)
	}
}

func (f *Forwarder) runScheduledCycle(ctx context.Context) {
	result, err := f.RunCycle(ctx)
	if errors.Is(err, ErrCycleInProgress) {
		log.Debug().Msg("Skipping timer trigger, cycle already in progress")
		return
	}
	if err != nil {
		log.Debug().Err(err).Str("status", result.Status.String()).Msg("Scheduled cycle ended early")
	}
}
