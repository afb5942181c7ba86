package device

import (
	"errors"
	"fmt"
	"strings"
)

// Normalized device errors. Agents branch on these with errors.Is; the
// vendor diagnostic stays attached via DeviceError.
var (
	ErrNotFound     = errors.New("NOT_FOUND")
	ErrInvalidRange = errors.New("INVALID_RANGE")
	ErrBusy         = errors.New("BUSY")
	ErrUnavailable  = errors.New("UNAVAILABLE")
	ErrInternal     = errors.New("INTERNAL")
)

// vendorMap lists the message tokens a vendor uses for each normalized
// code. Matching is case-insensitive substring; unknown tokens map to
// INTERNAL.
type vendorMap struct {
	NotFound    []string
	Range       []string
	Busy        []string
	Unavailable []string
}

var vendorErrorMappings = map[string]vendorMap{
	// Bluefors control software HTTP API.
	"bluefors": {
		NotFound:    []string{"CHANNEL_NOT_FOUND", "UNKNOWN_CHANNEL", "NO_SUCH_TARGET"},
		Range:       []string{"OUT_OF_RANGE", "INVALID_SETPOINT", "INVALID_VALUE"},
		Busy:        []string{"SCANNING", "MEASUREMENT_IN_PROGRESS", "BUSY"},
		Unavailable: []string{"NOT_CONNECTED", "DEVICE_OFFLINE", "INITIALIZING"},
	},
	// Raritan PDU SNMP front end.
	"raritan": {
		NotFound:    []string{"NO_SUCH_OUTLET", "NOSUCHOBJECT", "NOSUCHINSTANCE"},
		Range:       []string{"WRONGVALUE", "BADVALUE"},
		Busy:        []string{"RESOURCEUNAVAILABLE", "COMMITFAILED"},
		Unavailable: []string{"TIMEOUT", "UNREACHABLE", "CONNECTION REFUSED"},
	},
	"generic": {
		NotFound:    []string{"NOT_FOUND", "NO_SUCH"},
		Range:       []string{"OUT_OF_RANGE", "INVALID_RANGE", "INVALID_PARAMETER", "BAD_VALUE"},
		Busy:        []string{"BUSY", "RETRY", "RATE_LIMIT", "IN_PROGRESS"},
		Unavailable: []string{"UNAVAILABLE", "OFFLINE", "NOT_READY", "TIMEOUT", "REFUSED"},
	},
}

// DeviceError carries a normalized code plus the vendor's original error.
type DeviceError struct {
	Code     error
	Original error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%v (device: %v)", e.Code, e.Original)
}

func (e *DeviceError) Unwrap() error {
	return e.Code
}

// Normalize maps a vendor error onto the normalized codes using the
// vendor's token table. A nil error stays nil; an already-normalized
// error passes through unchanged.
func Normalize(vendorErr error, vendorID string) error {
	if vendorErr == nil {
		return nil
	}
	for _, code := range []error{ErrNotFound, ErrInvalidRange, ErrBusy, ErrUnavailable, ErrInternal} {
		if errors.Is(vendorErr, code) {
			return vendorErr
		}
	}

	return &DeviceError{
		Code:     mapErrorToCode(vendorErr.Error(), vendorID),
		Original: vendorErr,
	}
}

func mapErrorToCode(msg, vendorID string) error {
	m, ok := vendorErrorMappings[vendorID]
	if !ok {
		m = vendorErrorMappings["generic"]
	}

	upper := strings.ToUpper(msg)
	match := func(tokens []string) bool {
		for _, tok := range tokens {
			if strings.Contains(upper, tok) {
				return true
			}
		}
		return false
	}

	switch {
	case match(m.NotFound):
		return ErrNotFound
	case match(m.Range):
		return ErrInvalidRange
	case match(m.Busy):
		return ErrBusy
	case match(m.Unavailable):
		return ErrUnavailable
	}
	return ErrInternal
}
