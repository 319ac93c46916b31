package forwarder

import "fmt"

// Status is the externally reported state of the forwarder. Codes follow the
// host status convention: 1xx operational, 2xx errors.
type Status int

const (
	StatusActive        Status = 102
	StatusInactive      Status = 104
	StatusInvalidConfig Status = 201
	StatusNoSnapshot    Status = 202
	StatusBadData       Status = 203
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	case StatusInvalidConfig:
		return "invalid_config"
	case StatusNoSnapshot:
		return "no_snapshot"
	case StatusBadData:
		return "bad_data"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText renders the status name in JSON responses
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
