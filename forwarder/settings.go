package forwarder

import (
	"fmt"
	"time"

	"github.com/maxpert/sysfwd/cfg"
	"github.com/maxpert/sysfwd/syslog"
)

// Settings is the validated, immutable view of the forwarding configuration.
// A cycle keeps the Settings it started with even if Apply runs meanwhile.
type Settings struct {
	Server         string
	Port           int
	Severity       syslog.Severity
	Facility       syslog.Facility
	Program        string
	Interval       time.Duration
	WithTstampVars bool
	InstanceID     uint64

	facilities *syslog.FacilityTable
	active     map[Category]bool
	filters    []cfg.ExcludeFilter
}

// NewSettings validates conf. Errors are *cfg.ConfigError.
func NewSettings(conf *cfg.Configuration, facilities *syslog.FacilityTable, cache *PatternCache) (*Settings, error) {
	if conf.Port > 65535 {
		return nil, &cfg.ConfigError{Field: "port", Reason: fmt.Sprintf("invalid port: %d", conf.Port)}
	}
	if conf.UpdateInterval < 0 {
		return nil, &cfg.ConfigError{Field: "update_interval", Reason: "must be >= 0"}
	}

	severity, err := syslog.DecodeSeverity(conf.DefaultSeverity)
	if err != nil {
		return nil, &cfg.ConfigError{Field: "default_severity", Reason: fmt.Sprintf("%v: %q", err, conf.DefaultSeverity)}
	}

	facility, err := facilities.Decode(conf.DefaultFacility)
	if err != nil {
		return nil, &cfg.ConfigError{Field: "default_facility", Reason: fmt.Sprintf("%v: %q", err, conf.DefaultFacility)}
	}

	if conf.DefaultProgram == "" {
		return nil, &cfg.ConfigError{Field: "default_program", Reason: "must not be empty"}
	}

	active := make(map[Category]bool, len(conf.MessageTypes))
	for i, mt := range conf.MessageTypes {
		category, err := ParseCategory(mt.Category)
		if err != nil {
			return nil, &cfg.ConfigError{Field: fmt.Sprintf("message_types[%d].category", i), Reason: err.Error()}
		}
		active[category] = mt.Active
	}

	// Compiled here to surface bad patterns now; cycles recompile through the cache
	if _, err := CompileFilters(conf.ExcludeFilters, cache); err != nil {
		return nil, err
	}

	filters := make([]cfg.ExcludeFilter, len(conf.ExcludeFilters))
	copy(filters, conf.ExcludeFilters)

	return &Settings{
		Server:         conf.Server,
		Port:           conf.Port,
		Severity:       severity,
		Facility:       facility,
		Program:        conf.DefaultProgram,
		Interval:       time.Duration(conf.UpdateInterval) * time.Second,
		WithTstampVars: conf.WithTstampVars,
		InstanceID:     conf.InstanceID,
		facilities:     facilities,
		active:         active,
		filters:        filters,
	}, nil
}

// Enabled reports whether a destination is configured
func (s *Settings) Enabled() bool {
	return s.Server != "" && s.Port > 0
}

// Active reports whether records of category c are forwarded
func (s *Settings) Active(c Category) bool {
	return s.active[c]
}

// Filters compiles the exclude filters through cache
func (s *Settings) Filters(cache *PatternCache) (*FilterSet, error) {
	return CompileFilters(s.filters, cache)
}
