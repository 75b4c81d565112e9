// Package sensors turns raw board readings into the three plant metrics.
// Conversion constants are fixed for the board wiring in use: an LM35 on a
// 5 V reference and two resistive 0-1023 analog sensors.
package sensors

import (
	"fmt"
	"math"

	"github.com/kristoforerickson/mkr1000/internal/board"
	"github.com/kristoforerickson/mkr1000/internal/modules/measurements/types"
)

type Kind int

const (
	Temperature Kind = iota
	Light
	Moisture
)

func (k Kind) String() string {
	switch k {
	case Temperature:
		return "temperature"
	case Light:
		return "light"
	case Moisture:
		return "moisture"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Source is the latest-value view of one analog input.
type Source interface {
	Latest() (board.Reading, bool)
}

// Sensor is one configured sensor. Read is an in-memory lookup of the
// last reported value, converted to the sensor's unit.
type Sensor interface {
	Kind() Kind
	Read() (int, bool)
}

// TemperatureOffset is subtracted from the LM35 Fahrenheit value to correct
// for the wiring of the sensor.
const TemperatureOffset = 25.0

// ConvertTemp applies the offset correction and rounds to the nearest degree.
func ConvertTemp(fahrenheit float64) int {
	return roundHalfUp(fahrenheit - TemperatureOffset)
}

// Scale maps a raw 0-1023 value to 0-100.
func Scale(raw int) int {
	raw = clampRaw(raw)
	return roundHalfUp(float64(raw) / board.MaxAnalogValue * 100)
}

// lm35Steps is the ADC step count used for voltage conversion: one step is
// 5 V / 1024. Scale keeps 0-1023 as its range so full scale maps to 100.
const lm35Steps = 1024

// LM35Fahrenheit converts a raw LM35 reading (10 mV per degree Celsius,
// 5 V reference) to degrees Fahrenheit.
func LM35Fahrenheit(raw int) float64 {
	celsius := float64(clampRaw(raw)) * 500 / lm35Steps
	return celsius*9/5 + 32
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

func clampRaw(raw int) int {
	if raw < 0 {
		return 0
	}
	if raw > board.MaxAnalogValue {
		return board.MaxAnalogValue
	}
	return raw
}

type thermometer struct {
	src Source
}

func (thermometer) Kind() Kind { return Temperature }

func (t thermometer) Read() (int, bool) {
	r, ok := t.src.Latest()
	if !ok {
		return 0, false
	}
	return ConvertTemp(LM35Fahrenheit(r.Raw)), true
}

type percentSensor struct {
	kind Kind
	src  Source
}

func (p percentSensor) Kind() Kind { return p.kind }

func (p percentSensor) Read() (int, bool) {
	r, ok := p.src.Latest()
	if !ok {
		return 0, false
	}
	return Scale(r.Raw), true
}

func NewThermometer(src Source) Sensor { return thermometer{src: src} }

func NewLightSensor(src Source) Sensor { return percentSensor{kind: Light, src: src} }

func NewMoistureSensor(src Source) Sensor { return percentSensor{kind: Moisture, src: src} }

// Registry holds the three configured sensors. It is built once the board is
// ready and is safe for concurrent reads.
type Registry struct {
	sensors [3]Sensor
}

func NewRegistry(temperature, light, moisture Source) *Registry {
	return &Registry{sensors: [3]Sensor{
		Temperature: NewThermometer(temperature),
		Light:       NewLightSensor(light),
		Moisture:    NewMoistureSensor(moisture),
	}}
}

// FromLink builds a registry over the analog pins of a ready link.
func FromLink(l *board.Link, tempPin, lightPin, moisturePin int) (*Registry, error) {
	if l.State() != board.BoardReady {
		return nil, fmt.Errorf("sensor registry: board is %s, want %s", l.State(), board.BoardReady)
	}
	temp, err := l.Analog(tempPin)
	if err != nil {
		return nil, fmt.Errorf("temperature sensor: %w", err)
	}
	light, err := l.Analog(lightPin)
	if err != nil {
		return nil, fmt.Errorf("light sensor: %w", err)
	}
	moisture, err := l.Analog(moisturePin)
	if err != nil {
		return nil, fmt.Errorf("moisture sensor: %w", err)
	}
	return NewRegistry(temp, light, moisture), nil
}

func (r *Registry) Read(k Kind) (int, bool) {
	if k < Temperature || k > Moisture {
		return 0, false
	}
	return r.sensors[k].Read()
}

func (r *Registry) ReadTemperature() (int, bool) { return r.Read(Temperature) }
func (r *Registry) ReadLight() (int, bool)       { return r.Read(Light) }
func (r *Registry) ReadMoisture() (int, bool)    { return r.Read(Moisture) }

// Snapshot reads every sensor once and returns the sample for timestamp ts.
func (r *Registry) Snapshot(ts int64) types.Sample {
	var vals [3]*int
	for _, s := range r.sensors {
		if v, ok := s.Read(); ok {
			vals[s.Kind()] = types.IntPtr(v)
		}
	}
	return types.NewSample(ts, vals[Temperature], vals[Light], vals[Moisture])
}
