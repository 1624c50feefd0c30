package driver

import "time"

type EngineDriverOpt func(*EngineDriver)

func WithTickLength(tickLength time.Duration) EngineDriverOpt {
	return func(d *EngineDriver) {
		d.tickLength = tickLength
	}
}
