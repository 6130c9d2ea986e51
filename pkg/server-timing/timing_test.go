package servertiming

import (
	"testing"
	"time"
)

func TestMetricString(t *testing.T) {
	m := Metric{Name: "query", Duration: 1234567 * time.Nanosecond}
	if s := m.String(); s != "query;dur=1.235" {
		t.Fatalf("Metric is %s", s)
	}
}

func TestTimingsString(t *testing.T) {
	ts := Timings{
		{Name: "query", Duration: time.Millisecond},
		{Name: "blob", Duration: 0},
	}
	if s := ts.String(); s != "query;dur=1.000, blob;dur=0.000" {
		t.Fatalf("Timings are %s", s)
	}
}
