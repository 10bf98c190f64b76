package docstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	secondsPerDay  = 86400
	microsPerSec   = 1_000_000
	timedeltaParts = 3
)

// Timedelta is a duration expressed as whole days, seconds, and
// microseconds. NewTimedelta normalizes so that 0 <= Seconds < 86400 and
// 0 <= Microseconds < 1e6; only Days may be negative. A Timedelta built
// field by field may be unnormalized; it stores and loads unchanged.
type Timedelta struct {
	Days         int64
	Seconds      int64
	Microseconds int64
}

// NewTimedelta builds a normalized Timedelta from possibly out-of-range parts.
func NewTimedelta(days, seconds, microseconds int64) Timedelta {
	seconds += floorDiv(microseconds, microsPerSec)
	microseconds = floorMod(microseconds, microsPerSec)
	days += floorDiv(seconds, secondsPerDay)
	seconds = floorMod(seconds, secondsPerDay)
	return Timedelta{Days: days, Seconds: seconds, Microseconds: microseconds}
}

// TimedeltaOf converts d, truncating below microsecond precision.
func TimedeltaOf(d time.Duration) Timedelta {
	return NewTimedelta(0, 0, d.Microseconds())
}

// Normalize returns t with its fields carried into the normalized ranges.
func (t Timedelta) Normalize() Timedelta {
	return NewTimedelta(t.Days, t.Seconds, t.Microseconds)
}

// Duration converts back to a time.Duration. Values beyond roughly 292 years
// overflow.
func (t Timedelta) Duration() time.Duration {
	total := (t.Days*secondsPerDay+t.Seconds)*microsPerSec + t.Microseconds
	return time.Duration(total) * time.Microsecond
}

// String returns the comma separated payload form "days,seconds,micros".
func (t Timedelta) String() string {
	return fmt.Sprintf("%d,%d,%d", t.Days, t.Seconds, t.Microseconds)
}

// ParseTimedelta parses the "days,seconds,micros" form. Exactly three integer
// fields are required. Fields are kept as written, so ParseTimedelta(t.String())
// == t for every Timedelta; use Normalize for the canonical form.
func ParseTimedelta(repr string) (Timedelta, error) {
	fields := strings.Split(repr, ",")
	if len(fields) != timedeltaParts {
		return Timedelta{}, fmt.Errorf("timedelta %q: expected %d fields, got %d", repr, timedeltaParts, len(fields))
	}
	var parts [timedeltaParts]int64
	for i, field := range fields {
		n, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
		if err != nil {
			return Timedelta{}, fmt.Errorf("timedelta %q: field %d: %w", repr, i, err)
		}
		parts[i] = n
	}
	return Timedelta{Days: parts[0], Seconds: parts[1], Microseconds: parts[2]}, nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	return a - floorDiv(a, b)*b
}
