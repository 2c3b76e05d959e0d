// A thin wrapper over the system clock which can be implemented for use in tests.
// Row timestamps are rendered through Timestamp so every writer produces the same
// layout; the layout keeps lexicographic order equal to chronological order.
package clock

import "time"

const timestampLayout = "2006-01-02T15:04:05.000000000Z"

type Clock interface {
	CurrentTimeMicro() uint64
	CurrentTimeMs() uint64
	Now() time.Time
}

type systemClock struct{}

func NewSystemClock() Clock {
	return &systemClock{}
}

func (sc *systemClock) CurrentTimeMicro() uint64 {
	return uint64(time.Now().UnixMicro())
}

func (sc *systemClock) CurrentTimeMs() uint64 {
	return sc.CurrentTimeMicro() / 1000
}

func (sc *systemClock) Now() time.Time {
	return time.Now()
}

// Timestamp renders t as a fixed-width ISO-8601 string in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
