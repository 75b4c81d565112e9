package board

import (
	"fmt"
	"time"
)

// MaxAnalogValue is the full-scale value of the board's 10-bit ADC.
const MaxAnalogValue = 1023

// Sysex command not covered by the firmata client.
const sysexSamplingInterval byte = 0x7A

// Event names published by the firmata client.
const eventError = "Error"

func analogEvent(channel int) string {
	return fmt.Sprintf("AnalogRead%d", channel)
}

// samplingIntervalSysex is the SAMPLING_INTERVAL payload, clamped to the
// 14-bit millisecond range.
func samplingIntervalSysex(d time.Duration) []byte {
	ms := int(d / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	if ms > 0x3FFF {
		ms = 0x3FFF
	}
	return []byte{sysexSamplingInterval, byte(ms & 0x7F), byte((ms >> 7) & 0x7F)}
}
