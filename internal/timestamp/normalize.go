// Package timestamp converts unit-ambiguous timestamps into epoch milliseconds.
//
// Feeds deliver instants as seconds, milliseconds, microseconds or
// nanoseconds, sometimes as numbers and sometimes as strings, and
// occasionally as calendar dates. The unit is inferred from magnitude and
// every interpretation is checked against a plausible calendar range.
package timestamp

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Invalid is the sentinel returned when no interpretation is plausible.
const Invalid int64 = 0

// Unit names the interpretation Detect settled on.
type Unit string

const (
	UnitNone    Unit = ""
	UnitSeconds Unit = "s"
	UnitMillis  Unit = "ms"
	UnitMicros  Unit = "us"
	UnitNanos   Unit = "ns"
	UnitDate    Unit = "date"
)

var (
	// DefaultMin is the earliest plausible instant (inclusive).
	DefaultMin = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	// DefaultMax is the latest plausible instant (exclusive).
	DefaultMax = time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123,
	time.RFC1123Z,
}

// Normalizer validates results against [Min, Max).
type Normalizer struct {
	Min time.Time
	Max time.Time
}

// Default uses the 2020..2030 range.
var Default = Normalizer{Min: DefaultMin, Max: DefaultMax}

// Normalize converts raw with the default range.
func Normalize(raw any) (int64, bool) {
	return Default.Normalize(raw)
}

// MustNormalize returns Invalid instead of a false flag.
func MustNormalize(raw any) int64 {
	ms, _ := Default.Normalize(raw)
	return ms
}

// Normalize converts raw to epoch milliseconds. The result is identical for
// identical input.
func (n Normalizer) Normalize(raw any) (int64, bool) {
	ms, unit := n.Detect(raw)
	return ms, unit != UnitNone
}

// Detect converts raw and reports which unit was used. UnitNone means no
// interpretation landed in range and ms is Invalid.
func (n Normalizer) Detect(raw any) (int64, Unit) {
	switch v := raw.(type) {
	case nil:
		return Invalid, UnitNone
	case string:
		return n.fromString(v)
	case json.Number:
		return n.fromString(v.String())
	case time.Time:
		if v.IsZero() {
			return Invalid, UnitNone
		}
		return n.accept(v.UnixMilli(), UnitDate)
	case int:
		return n.fromInt(int64(v))
	case int32:
		return n.fromInt(int64(v))
	case int64:
		return n.fromInt(v)
	case uint:
		return n.fromUint(uint64(v))
	case uint32:
		return n.fromUint(uint64(v))
	case uint64:
		return n.fromUint(v)
	case float32:
		return n.fromFloat(float64(v))
	case float64:
		return n.fromFloat(v)
	default:
		return Invalid, UnitNone
	}
}

func (n Normalizer) fromString(raw string) (int64, Unit) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Invalid, UnitNone
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n.fromUint(u)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return n.fromFloat(f)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return n.accept(t.UnixMilli(), UnitDate)
		}
	}
	return Invalid, UnitNone
}

func (n Normalizer) fromInt(v int64) (int64, Unit) {
	if v <= 0 {
		return Invalid, UnitNone
	}
	return n.fromUint(uint64(v))
}

func (n Normalizer) fromUint(v uint64) (int64, Unit) {
	if v == 0 {
		return Invalid, UnitNone
	}
	for _, c := range candidates(digits(v)) {
		var ms uint64
		if c.scale >= 0 {
			ms = v / uint64(c.scale)
		} else {
			mul := uint64(-c.scale)
			if v > math.MaxInt64/mul {
				continue
			}
			ms = v * mul
		}
		if ms > math.MaxInt64 {
			continue
		}
		if out, unit := n.accept(int64(ms), c.unit); unit != UnitNone {
			return out, unit
		}
	}
	return Invalid, UnitNone
}

func (n Normalizer) fromFloat(f float64) (int64, Unit) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 1 || f >= math.MaxInt64 {
		return Invalid, UnitNone
	}
	for _, c := range candidates(digits(uint64(f))) {
		var ms float64
		if c.scale >= 0 {
			ms = f / float64(c.scale)
		} else {
			ms = f * float64(-c.scale)
		}
		if ms >= math.MaxInt64 {
			continue
		}
		if out, unit := n.accept(int64(math.Floor(ms)), c.unit); unit != UnitNone {
			return out, unit
		}
	}
	return Invalid, UnitNone
}

func (n Normalizer) accept(ms int64, unit Unit) (int64, Unit) {
	if ms < n.Min.UnixMilli() || ms >= n.Max.UnixMilli() {
		return Invalid, UnitNone
	}
	return ms, unit
}

// candidate divides by scale when positive and multiplies by -scale when
// negative.
type candidate struct {
	unit  Unit
	scale int64
}

var (
	asSeconds = candidate{unit: UnitSeconds, scale: -1000}
	asMillis  = candidate{unit: UnitMillis, scale: 1}
	asMicros  = candidate{unit: UnitMicros, scale: 1000}
	asNanos   = candidate{unit: UnitNanos, scale: 1_000_000}
)

// candidates lists unit interpretations for a value with the given number
// of integer digits, most likely first.
func candidates(n int) []candidate {
	switch {
	case n >= 16:
		return []candidate{asMicros, asNanos}
	case n >= 13:
		return []candidate{asMillis, asMicros}
	case n >= 10:
		return []candidate{asSeconds, asMillis}
	default:
		return []candidate{asMillis}
	}
}

func digits(v uint64) int {
	n := 1
	for v >= 10 {
		v /= 10
		n++
	}
	return n
}
