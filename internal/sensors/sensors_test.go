package sensors

import (
	"sync"
	"testing"

	"github.com/kristoforerickson/mkr1000/internal/board"
)

type fakeSource struct {
	mu   sync.Mutex
	raw  int
	seen bool
}

func (f *fakeSource) set(raw int) {
	f.mu.Lock()
	f.raw, f.seen = raw, true
	f.mu.Unlock()
}

func (f *fakeSource) Latest() (board.Reading, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return board.Reading{Raw: f.raw}, f.seen
}

func TestScale(t *testing.T) {
	tests := []struct {
		raw  int
		want int
	}{
		{0, 0},
		{1023, 100},
		{512, 50},
		{5, 0},
		{6, 1},
		{-10, 0},
		{4096, 100},
	}
	for _, tt := range tests {
		if got := Scale(tt.raw); got != tt.want {
			t.Errorf("Scale(%d) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestScale_Range(t *testing.T) {
	for raw := -5; raw <= 1030; raw++ {
		if got := Scale(raw); got < 0 || got > 100 {
			t.Fatalf("Scale(%d) = %d, out of [0,100]", raw, got)
		}
	}
}

func TestConvertTemp(t *testing.T) {
	tests := []struct {
		f    float64
		want int
	}{
		{100.0, 75},
		{25.0, 0},
		{77.5, 53},
		{77.4, 52},
		{20.0, -5},
	}
	for _, tt := range tests {
		if got := ConvertTemp(tt.f); got != tt.want {
			t.Errorf("ConvertTemp(%v) = %d, want %d", tt.f, got, tt.want)
		}
	}
}

func TestLM35Fahrenheit(t *testing.T) {
	tests := []struct {
		raw  int
		want float64
	}{
		{0, 32},
		// 5 V / 1024 steps: 205 -> 1.0009765625 V -> 100.09765625 C
		{205, 212.17578125},
		{1023, 931.12109375},
		{2000, 931.12109375},
		{-4, 32},
	}
	for _, tt := range tests {
		if got := LM35Fahrenheit(tt.raw); got != tt.want {
			t.Errorf("LM35Fahrenheit(%d) = %v, want %v", tt.raw, got, tt.want)
		}
	}
	if got := ConvertTemp(LM35Fahrenheit(205)); got != 187 {
		t.Errorf("ConvertTemp(LM35Fahrenheit(205)) = %d, want 187", got)
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	temp, light, moisture := &fakeSource{}, &fakeSource{}, &fakeSource{}
	reg := NewRegistry(temp, light, moisture)

	s := reg.Snapshot(42)
	if s.Timestamp != 42 {
		t.Errorf("Timestamp = %d, want 42", s.Timestamp)
	}
	if s.Temperature != nil || s.Light != nil || s.Moisture != nil {
		t.Fatalf("snapshot before any report = %+v, want all absent", s)
	}

	temp.set(0)
	light.set(1023)
	moisture.set(512)

	s = reg.Snapshot(43)
	if s.Temperature == nil || *s.Temperature != 7 {
		t.Errorf("Temperature = %v, want 7", s.Temperature)
	}
	if s.Light == nil || *s.Light != 100 {
		t.Errorf("Light = %v, want 100", s.Light)
	}
	if s.Moisture == nil || *s.Moisture != 50 {
		t.Errorf("Moisture = %v, want 50", s.Moisture)
	}
	if got := s.ChartValues(); got != [3]int{7, 100, 50} {
		t.Errorf("ChartValues = %v", got)
	}
}

func TestRegistry_ReadByKind(t *testing.T) {
	light := &fakeSource{}
	light.set(1023)
	reg := NewRegistry(&fakeSource{}, light, &fakeSource{})

	if v, ok := reg.ReadLight(); !ok || v != 100 {
		t.Errorf("ReadLight = %d, %v", v, ok)
	}
	if _, ok := reg.ReadTemperature(); ok {
		t.Error("ReadTemperature without report: want ok=false")
	}
	if _, ok := reg.ReadMoisture(); ok {
		t.Error("ReadMoisture without report: want ok=false")
	}
	if _, ok := reg.Read(Kind(7)); ok {
		t.Error("Read(unknown kind): want ok=false")
	}
}

func TestKind_String(t *testing.T) {
	if Temperature.String() != "temperature" || Light.String() != "light" || Moisture.String() != "moisture" {
		t.Error("unexpected kind names")
	}
	if Kind(9).String() != "kind(9)" {
		t.Errorf("Kind(9) = %q", Kind(9).String())
	}
}
