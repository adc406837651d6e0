// Package viewport computes which pages must be on screen or pre-rendered.
package viewport

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode is the reader view mode.
type Mode string

// Mode values.
const (
	ModeSingle Mode = "single"
	ModeDouble Mode = "double"
	ModeScroll Mode = "scroll"
)

// ParseMode parses a view mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSingle:
		return ModeSingle, nil
	case ModeDouble:
		return ModeDouble, nil
	case ModeScroll:
		return ModeScroll, nil
	}
	return "", fmt.Errorf("unknown view mode %q", s)
}

// Offsets is the read-ahead halo rendered around the on-screen pages.
type Offsets struct {
	Before int
	After  int
}

// ParseOffsets parses "before,after", for example "1,2".
func ParseOffsets(s string) (Offsets, error) {
	a, b, ok := strings.Cut(s, ",")
	if !ok {
		return Offsets{}, fmt.Errorf("read-ahead %q: expected before,after", s)
	}
	before, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil || before < 0 {
		return Offsets{}, fmt.Errorf("read-ahead %q: invalid before count", s)
	}
	after, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil || after < 0 {
		return Offsets{}, fmt.Errorf("read-ahead %q: invalid after count", s)
	}
	return Offsets{Before: before, After: after}, nil
}

// String formats the offsets as "before,after".
func (o Offsets) String() string {
	return strconv.Itoa(o.Before) + "," + strconv.Itoa(o.After)
}

// ReadAhead holds the per-mode read-ahead offsets.
type ReadAhead map[Mode]Offsets

// DefaultReadAhead returns the default per-mode offsets.
func DefaultReadAhead() ReadAhead {
	return ReadAhead{
		ModeSingle: {Before: 2, After: 2},
		ModeDouble: {Before: 2, After: 2},
		ModeScroll: {Before: 1, After: 2},
	}
}

// For returns the offsets for mode, zero when unset.
func (r ReadAhead) For(mode Mode) Offsets {
	o := r[mode]
	return Offsets{Before: max(o.Before, 0), After: max(o.After, 0)}
}

// Clone returns a copy of the offsets.
func (r ReadAhead) Clone() ReadAhead {
	out := make(ReadAhead, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
