package types

import (
	"fmt"
	"strings"
)

// Metric names a measured quantity. The string value is the storage column.
type Metric string

const (
	MetricTemperature Metric = "temp"
	MetricLight       Metric = "light"
	MetricMoisture    Metric = "moisture"
)

// Metrics lists every metric in chart order.
var Metrics = []Metric{MetricTemperature, MetricLight, MetricMoisture}

func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case MetricTemperature:
		return MetricTemperature, nil
	case MetricLight:
		return MetricLight, nil
	case MetricMoisture:
		return MetricMoisture, nil
	default:
		return "", fmt.Errorf("unknown metric %q (allowed: temp, light, moisture)", s)
	}
}

// Sample is one tick of acquisition. A nil metric means the sensor has not
// reported yet.
type Sample struct {
	Timestamp   int64 `json:"date"`
	Temperature *int  `json:"temp,omitempty"`
	Light       *int  `json:"light,omitempty"`
	Moisture    *int  `json:"moisture,omitempty"`
}

// NewSample copies the given values so the result does not alias the caller's.
func NewSample(ts int64, temperature, light, moisture *int) Sample {
	return Sample{
		Timestamp:   ts,
		Temperature: cloneInt(temperature),
		Light:       cloneInt(light),
		Moisture:    cloneInt(moisture),
	}
}

// Value returns the metric value and whether it is present.
func (s Sample) Value(m Metric) (int, bool) {
	var p *int
	switch m {
	case MetricTemperature:
		p = s.Temperature
	case MetricLight:
		p = s.Light
	case MetricMoisture:
		p = s.Moisture
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// ChartValues returns [temperature, light, moisture] with absent metrics as 0.
func (s Sample) ChartValues() [3]int {
	var out [3]int
	for i, m := range Metrics {
		out[i], _ = s.Value(m)
	}
	return out
}

// Point is a [timestamp, value] pair as served by the history API.
type Point [2]int64

func IntPtr(v int) *int { return &v }

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
