package procwatch

import "time"

// State is the stability detector's position in its lifecycle.
type State int

const (
	// StateWarmingUp accumulates the first samples to establish a baseline.
	StateWarmingUp State = iota
	// StateMonitoring watches for the value settling into the tolerance band.
	StateMonitoring
	// StateCoolingDown times how long the value has stayed within tolerance.
	StateCoolingDown
	// StateStopped is terminal: the subject has cooled down.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateWarmingUp:
		return "warming_up"
	case StateMonitoring:
		return "monitoring"
	case StateCoolingDown:
		return "cooling_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	defaultWarmupSamples = 5
	defaultThreshold     = 0.05
)

// StabilityDetector declares a monitored process "cooled down" once its
// resident memory stays within a tolerance band of an initial baseline for a
// sustained duration. It is meant for servers with no natural end event.
//
// The detector is single-writer: it must be driven from one goroutine, either
// inline by the sampler loop or replayed over a finished sample sequence.
// Cooldown timing uses the samples' own ElapsedS values, so replays are
// deterministic.
type StabilityDetector struct {
	warmupSamples int
	threshold     float64
	cooldown      time.Duration

	state          State
	warmup         []float64
	baseline       float64
	cooldownStartS float64
	pid            int32
}

// NewStabilityDetector creates a detector with the given tolerance band and
// required cooldown duration. warmupSamples and threshold fall back to
// defaults (5 samples, 5%) when non-positive.
func NewStabilityDetector(warmupSamples int, threshold float64, cooldown time.Duration) *StabilityDetector {
	if warmupSamples <= 0 {
		warmupSamples = defaultWarmupSamples
	}
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &StabilityDetector{
		warmupSamples: warmupSamples,
		threshold:     threshold,
		cooldown:      cooldown,
		warmup:        make([]float64, 0, warmupSamples),
	}
}

// Observe feeds one sample through the state machine and returns the
// resulting state. A change of process identity resets the detector: the new
// process's memory profile is not comparable to the old baseline.
func (d *StabilityDetector) Observe(sample MemSample) State {
	if d.pid != 0 && sample.PID != d.pid {
		d.Reset()
	}
	d.pid = sample.PID

	switch d.state {
	case StateStopped:
		return StateStopped

	case StateWarmingUp:
		d.warmup = append(d.warmup, sample.RSSMB())
		if len(d.warmup) >= d.warmupSamples {
			var sum float64
			for _, v := range d.warmup {
				sum += v
			}
			d.baseline = sum / float64(len(d.warmup))
			d.state = StateMonitoring
		}

	case StateMonitoring, StateCoolingDown:
		if d.relativeChange(sample.RSSMB()) > d.threshold {
			// Out of tolerance: any in-progress cooldown is broken.
			d.state = StateMonitoring
			d.cooldownStartS = 0
			break
		}
		if d.state == StateMonitoring {
			d.cooldownStartS = sample.ElapsedS
			d.state = StateCoolingDown
			break
		}
		if sample.ElapsedS-d.cooldownStartS >= d.cooldown.Seconds() {
			d.state = StateStopped
		}
	}
	return d.state
}

// Reset returns the detector to WarmingUp with all accumulators cleared.
func (d *StabilityDetector) Reset() {
	d.state = StateWarmingUp
	d.warmup = d.warmup[:0]
	d.baseline = 0
	d.cooldownStartS = 0
	d.pid = 0
}

// State returns the current state without consuming a sample.
func (d *StabilityDetector) State() State {
	return d.state
}

// Baseline returns the established baseline in MB, zero while warming up.
func (d *StabilityDetector) Baseline() float64 {
	return d.baseline
}

func (d *StabilityDetector) relativeChange(current float64) float64 {
	if d.baseline == 0 {
		return 0
	}
	diff := current - d.baseline
	if diff < 0 {
		diff = -diff
	}
	return diff / d.baseline
}
