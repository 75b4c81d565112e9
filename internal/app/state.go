package app

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Stage is the process-level pipeline state. It only moves forward.
type Stage int32

const (
	StageDisconnected Stage = iota
	StageLinkEstablished
	StageBoardReady
	StageSampling
)

func (s Stage) String() string {
	switch s {
	case StageDisconnected:
		return "disconnected"
	case StageLinkEstablished:
		return "link_established"
	case StageBoardReady:
		return "board_ready"
	case StageSampling:
		return "sampling"
	default:
		return fmt.Sprintf("stage(%d)", int32(s))
	}
}

type pipeline struct {
	stage  atomic.Int32
	logger *slog.Logger
}

func (p *pipeline) current() Stage { return Stage(p.stage.Load()) }

// advance moves to next and logs the transition; going backwards is a no-op.
func (p *pipeline) advance(next Stage) {
	for {
		cur := p.current()
		if next <= cur {
			return
		}
		if p.stage.CompareAndSwap(int32(cur), int32(next)) {
			p.logger.Info("pipeline state changed", "from", cur.String(), "to", next.String())
			return
		}
	}
}
