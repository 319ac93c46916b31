package syslog

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Facility is an RFC 5424 facility code, already multiplied by 8
type Facility uint8

// Facility codes used by the lookup tables
const (
	FacilityUser   Facility = 1 << 3
	FacilityAuth   Facility = 4 << 3
	FacilityLocal0 Facility = 16 << 3
	FacilityLocal1 Facility = 17 << 3
	FacilityLocal2 Facility = 18 << 3
	FacilityLocal3 Facility = 19 << 3
	FacilityLocal4 Facility = 20 << 3
	FacilityLocal5 Facility = 21 << 3
	FacilityLocal6 Facility = 22 << 3
	FacilityLocal7 Facility = 23 << 3
)

// ErrUnsupportedFacility is returned for names outside the active table
var ErrUnsupportedFacility = errors.New("unsupported facility")

var reducedFacilities = map[string]Facility{
	"auth": FacilityAuth,
	"user": FacilityUser,
}

var extendedFacilities = map[string]Facility{
	"auth":   FacilityAuth,
	"local0": FacilityLocal0,
	"local1": FacilityLocal1,
	"local2": FacilityLocal2,
	"local3": FacilityLocal3,
	"local4": FacilityLocal4,
	"local5": FacilityLocal5,
	"local6": FacilityLocal6,
	"local7": FacilityLocal7,
	"user":   FacilityUser,
}

// FacilityTable maps facility names to codes. Which table is used is decided
// once, when the table is built.
type FacilityTable struct {
	byName   map[string]Facility
	extended bool
}

// NewFacilityTable returns the extended table (auth, local0-local7, user) or the
// reduced one (auth, user)
func NewFacilityTable(extended bool) *FacilityTable {
	if extended {
		return &FacilityTable{byName: extendedFacilities, extended: true}
	}
	return &FacilityTable{byName: reducedFacilities}
}

// ExtendedFacilitiesAvailable reports whether the platform knows the local
// facilities
func ExtendedFacilitiesAvailable() bool {
	return runtime.GOOS != "windows"
}

// Decode resolves a facility name, ignoring case
func (t *FacilityTable) Decode(name string) (Facility, error) {
	f, ok := t.byName[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnsupportedFacility, name)
	}
	return f, nil
}

// Extended reports whether local0-local7 are available
func (t *FacilityTable) Extended() bool {
	return t.extended
}

// Names lists the supported facility names in sorted order
func (t *FacilityTable) Names() []string {
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Priority computes the PRI value. Facilities are pre-scaled, so this is a sum.
func Priority(f Facility, s Severity) int {
	return int(f) + int(s)
}
