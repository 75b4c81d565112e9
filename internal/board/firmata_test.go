package board

import (
	"bytes"
	"testing"
	"time"
)

func TestSamplingIntervalSysex(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want []byte
	}{
		{name: "250ms", in: 250 * time.Millisecond, want: []byte{0x7A, 0x7A, 0x01}},
		{name: "zero clamps to 1ms", in: 0, want: []byte{0x7A, 0x01, 0x00}},
		{name: "sub-millisecond clamps to 1ms", in: 500 * time.Microsecond, want: []byte{0x7A, 0x01, 0x00}},
		{name: "clamps to 14 bits", in: time.Hour, want: []byte{0x7A, 0x7F, 0x7F}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := samplingIntervalSysex(tt.in); !bytes.Equal(got, tt.want) {
				t.Errorf("samplingIntervalSysex(%v) = % x, want % x", tt.in, got, tt.want)
			}
		})
	}
}

func TestAnalogEvent(t *testing.T) {
	if got := analogEvent(2); got != "AnalogRead2" {
		t.Errorf("analogEvent(2) = %q", got)
	}
}
