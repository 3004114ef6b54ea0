package healthmetrics

import (
	"time"

	"github.com/google/uuid"
)

// MetricType is one of the vital signs the portal tracks.
type MetricType string

const (
	HeartRate              MetricType = "HEART_RATE"
	BloodPressureSystolic  MetricType = "BLOOD_PRESSURE_SYSTOLIC"
	BloodPressureDiastolic MetricType = "BLOOD_PRESSURE_DIASTOLIC"
	OxygenLevel            MetricType = "OXYGEN_LEVEL"
	Temperature            MetricType = "TEMPERATURE"
)

// metricSpec is the unit and the range of plausible values for a type.
type metricSpec struct {
	Unit     string
	Min, Max float64
}

var specs = map[MetricType]metricSpec{
	HeartRate:              {Unit: "bpm", Min: 20, Max: 250},
	BloodPressureSystolic:  {Unit: "mmHg", Min: 50, Max: 260},
	BloodPressureDiastolic: {Unit: "mmHg", Min: 30, Max: 160},
	OxygenLevel:            {Unit: "%", Min: 50, Max: 100},
	Temperature:            {Unit: "°C", Min: 30, Max: 45},
}

// ParseMetricType accepts the type in any case, with dashes or underscores.
func ParseMetricType(s string) (MetricType, bool) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '-':
			ch = '_'
		case ch >= 'a' && ch <= 'z':
			ch -= 'a' - 'A'
		}
		out = append(out, ch)
	}
	t := MetricType(out)
	_, ok := specs[t]
	return t, ok
}

// Summary is the latest value of each metric, keyed by type. Types with no
// reading are absent.
type Summary map[MetricType]float64

type Reading struct {
	ID         uuid.UUID  `json:"id"`
	MetricID   MetricType `json:"metric_id"`
	Value      float64    `json:"value"`
	Unit       string     `json:"unit"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// ReadingCreate records a new value. RecordedAt defaults to now.
type ReadingCreate struct {
	Value      float64    `json:"value"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
	Unit       string     `json:"unit,omitempty"`
}
