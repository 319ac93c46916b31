package syslog

import (
	"errors"
	"fmt"
	"strings"
)

// Severity is an RFC 5424 severity code
type Severity uint8

// Severity codes, most urgent first
const (
	SeverityEmergency Severity = iota
	SeverityAlert
	SeverityCritical
	SeverityError
	SeverityWarning
	SeverityNotice
	SeverityInfo
	SeverityDebug
)

// ErrUnsupportedSeverity is returned for names outside the alias table
var ErrUnsupportedSeverity = errors.New("unsupported severity")

var severityByName = map[string]Severity{
	"emerg":         SeverityEmergency,
	"emergency":     SeverityEmergency,
	"alert":         SeverityAlert,
	"crit":          SeverityCritical,
	"critical":      SeverityCritical,
	"err":           SeverityError,
	"error":         SeverityError,
	"warn":          SeverityWarning,
	"warning":       SeverityWarning,
	"notice":        SeverityNotice,
	"info":          SeverityInfo,
	"informational": SeverityInfo,
	"debug":         SeverityDebug,
}

var severityNames = [...]string{"emerg", "alert", "crit", "err", "warning", "notice", "info", "debug"}

// DecodeSeverity resolves a severity name, ignoring case
func DecodeSeverity(name string) (Severity, error) {
	sev, ok := severityByName[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnsupportedSeverity, name)
	}
	return sev, nil
}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return fmt.Sprintf("severity(%d)", uint8(s))
}
