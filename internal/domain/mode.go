package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode selects how the relay treats inbound payloads.
type Mode string

const (
	// ModeChat rebroadcasts every text payload verbatim and never persists.
	ModeChat Mode = "chat"
	// ModeValue accepts only base-10 integers, persists them, and greets new clients with the last value.
	ModeValue Mode = "value"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeChat:
		return ModeChat, nil
	case ModeValue:
		return ModeValue, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Persists reports whether accepted payloads are written to the ValueStore.
func (m Mode) Persists() bool {
	return m == ModeValue
}

// ParseValue interprets a payload as a value-mode integer.
func ParseValue(payload string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, payload)
	}
	return v, nil
}

// FormatValue renders a value the way it travels on the wire.
func FormatValue(v int64) string {
	return strconv.FormatInt(v, 10)
}
