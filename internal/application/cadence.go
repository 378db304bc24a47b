package application

import "time"

// Cadence classifies how soon the next pass should run.
type Cadence int

const (
	// CadenceBusy means results are awaited or a new wave is held back.
	CadenceBusy Cadence = iota
	// CadenceIdle means nothing is waiting on the test service.
	CadenceIdle
)

// intervalBusy caps the wait while results are awaited.
const intervalBusy = 5 * time.Minute

// String returns a human-readable name for the cadence.
func (c Cadence) String() string {
	switch c {
	case CadenceBusy:
		return "busy"
	case CadenceIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// cadenceInterval returns the wait before the next pass. The busy interval
// never exceeds the configured idle one.
func cadenceInterval(c Cadence, idle time.Duration) time.Duration {
	if c == CadenceBusy && idle > intervalBusy {
		return intervalBusy
	}
	return idle
}

// classifyPass determines the cadence from the outcome of a pass. Aborted
// passes fall back to the idle cadence.
func classifyPass(summary PassSummary, err error) Cadence {
	if err != nil {
		return CadenceIdle
	}
	if summary.NewWaveHeld || summary.Awaiting() > 0 {
		return CadenceBusy
	}
	return CadenceIdle
}
