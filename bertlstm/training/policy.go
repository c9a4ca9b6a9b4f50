package training

import "math"

// Decision is a set of actions a policy asks for after a validation.
type Decision uint8

const (
	Continue Decision = 0
	Save     Decision = 1 << (iota - 1)
	Stop
)

// Has reports whether every bit of flag is set.
func (d Decision) Has(flag Decision) bool { return d&flag == flag && flag != 0 }

// Policy observes one monitored metric per validation and decides what the
// orchestrator should do. Lower metric values are better.
type Policy interface {
	Evaluate(epoch int, metric float64) Decision
}

// BestCheckpoint asks for a save whenever the metric strictly improves. The
// first finite value always saves.
type BestCheckpoint struct {
	best float64
	seen bool
}

func NewBestCheckpoint() *BestCheckpoint { return &BestCheckpoint{} }

func (b *BestCheckpoint) Evaluate(_ int, metric float64) Decision {
	if math.IsNaN(metric) {
		return Continue
	}
	if !b.seen || metric < b.best {
		b.best, b.seen = metric, true
		return Save
	}
	return Continue
}

// Best returns the best value seen and whether any was.
func (b *BestCheckpoint) Best() (float64, bool) { return b.best, b.seen }

// EarlyStopping stops once Patience consecutive validations fail to beat the
// best value by more than MinDelta. A NaN metric stops immediately.
type EarlyStopping struct {
	Patience int
	MinDelta float64

	best float64
	seen bool
	wait int
}

func NewEarlyStopping(patience int, minDelta float64) *EarlyStopping {
	return &EarlyStopping{Patience: patience, MinDelta: math.Abs(minDelta)}
}

func (e *EarlyStopping) Evaluate(_ int, metric float64) Decision {
	if math.IsNaN(metric) {
		return Stop
	}
	if !e.seen || metric < e.best-e.MinDelta {
		e.best, e.seen, e.wait = metric, true, 0
		return Continue
	}
	e.wait++
	if e.wait >= e.Patience {
		return Stop
	}
	return Continue
}

// Wait returns the number of validations since the last improvement.
func (e *EarlyStopping) Wait() int { return e.wait }
