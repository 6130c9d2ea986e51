package servertiming

import (
	"fmt"
	"strings"
	"time"
)

// HeaderName is the response field carrying the timings.
const HeaderName = "Server-Timing"

// Metric is a single server-timing entry, e.g. `query;dur=0.412`.
type Metric struct {
	Name     string
	Duration time.Duration
}

// Since returns a metric with the duration elapsed from start.
func Since(name string, start time.Time) Metric {
	return Metric{Name: name, Duration: time.Since(start)}
}

// Milliseconds returns the duration as fractional milliseconds.
func (m Metric) Milliseconds() float64 {
	return float64(m.Duration) / float64(time.Millisecond)
}

func (m Metric) String() string {
	return fmt.Sprintf("%s;dur=%.3f", m.Name, m.Milliseconds())
}

// Timings is a list of metrics rendered as one header value.
type Timings []Metric

func (t Timings) String() string {
	parts := make([]string, len(t))
	for i, m := range t {
		parts[i] = m.String()
	}
	return strings.Join(parts, ", ")
}
