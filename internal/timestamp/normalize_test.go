package timestamp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const instantMs int64 = 1_700_000_000_123

func TestNormalizeUnitRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		unit Unit
	}{
		{name: "seconds int", raw: int64(1_700_000_000), unit: UnitSeconds},
		{name: "seconds string", raw: "1700000000", unit: UnitSeconds},
		{name: "millis", raw: instantMs, unit: UnitMillis},
		{name: "millis string", raw: "1700000000123", unit: UnitMillis},
		{name: "micros", raw: uint64(1_700_000_000_123_456), unit: UnitMicros},
		{name: "micros string", raw: "1700000000123456", unit: UnitMicros},
		{name: "nanos", raw: int64(1_700_000_000_123_456_789), unit: UnitNanos},
		{name: "nanos string", raw: "1700000000123456789", unit: UnitNanos},
		{name: "json number", raw: json.Number("1700000000123456"), unit: UnitMicros},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms, unit := Default.Detect(tt.raw)
			require.Equal(t, tt.unit, unit)
			want := instantMs
			if tt.unit == UnitSeconds {
				want = instantMs / 1000 * 1000
			}
			require.InDelta(t, want, ms, 1)
		})
	}
}

func TestNormalizeSameInstantAcrossUnits(t *testing.T) {
	seconds, ok := Normalize(int64(1_700_000_000))
	require.True(t, ok)
	for _, raw := range []any{
		int64(1_700_000_000_000),
		int64(1_700_000_000_000_000),
		int64(1_700_000_000_000_000_000),
		"1700000000000",
	} {
		ms, ok := Normalize(raw)
		require.True(t, ok, "raw=%v", raw)
		require.InDelta(t, seconds, ms, 1, "raw=%v", raw)
	}
}

func TestNormalizeFractionalSeconds(t *testing.T) {
	ms, unit := Default.Detect("1700000000.5")
	require.Equal(t, UnitSeconds, unit)
	require.Equal(t, int64(1_700_000_000_500), ms)

	ms, ok := Normalize(1_700_000_000.25)
	require.True(t, ok)
	require.Equal(t, int64(1_700_000_000_250), ms)
}

func TestNormalizeDates(t *testing.T) {
	want := time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC).UnixMilli()
	for _, raw := range []any{
		"2024-03-05T10:30:00Z",
		"2024-03-05T10:30:00.000Z",
		"2024-03-05 10:30:00",
		time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC),
	} {
		ms, unit := Default.Detect(raw)
		require.Equal(t, UnitDate, unit, "raw=%v", raw)
		require.Equal(t, want, ms)
	}
}

func TestNormalizeFallsBackToNextUnit(t *testing.T) {
	// Twelve digits: seconds overshoots and millis undershoots the range.
	ms, unit := Default.Detect(int64(160_000_000_000))
	require.Equal(t, UnitNone, unit)
	require.Equal(t, Invalid, ms)

	custom := Normalizer{Min: time.Unix(0, 0), Max: DefaultMax}
	ms, unit = custom.Detect(int64(160_000_000_000))
	require.Equal(t, UnitMillis, unit)
	require.Equal(t, int64(160_000_000_000), ms)
}

func TestNormalizeRejectsImplausible(t *testing.T) {
	for _, raw := range []any{
		nil,
		"",
		"   ",
		"not a date",
		int64(0),
		int64(-5),
		int64(42),
		"1999-12-31T00:00:00Z",
		"2031-01-01",
		int64(1_000_000_000_000_000_000),
		struct{}{},
		-1.5,
	} {
		ms, ok := Normalize(raw)
		require.False(t, ok, "raw=%v", raw)
		require.Equal(t, Invalid, ms)
		require.Equal(t, Invalid, MustNormalize(raw))
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		a, _ := Normalize("1700000000123456")
		b, _ := Normalize("1700000000123456")
		require.Equal(t, a, b)
	}
}
