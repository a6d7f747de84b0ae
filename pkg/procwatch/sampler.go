package procwatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultResolveGrace bounds how long Start waits for a target that
	// appears shortly after the profiler (common for short-lived runs).
	DefaultResolveGrace = 10 * time.Second

	resolveRetryInterval = 100 * time.Millisecond
)

// Sampler polls memory statistics of a target process (and optionally its
// descendants) in a background goroutine at a fixed interval.
//
// The sample slice is single-writer: only the sampling goroutine appends to
// it. Callers must Stop and Join before reading; a Join that returns nil
// establishes the happens-before edge that makes Samples safe to read.
type Sampler struct {
	resolver        Resolver
	interval        time.Duration
	includeChildren bool
	resolveGrace    time.Duration
	maxDuration     time.Duration
	maxSamples      int
	detector        *StabilityDetector
	log             *slog.Logger

	started atomic.Bool
	joined  atomic.Bool
	t0      time.Time
	stopCh  chan struct{}
	stopFn  sync.Once
	done    chan struct{}

	samples []MemSample
	termErr error
}

// SamplerOpt configures a Sampler.
type SamplerOpt func(s *Sampler)

// WithDescendants makes the sampler aggregate memory of the target's live
// descendant tree into each sample.
func WithDescendants() SamplerOpt {
	return func(s *Sampler) { s.includeChildren = true }
}

// WithResolveGrace overrides how long Start waits for the target to appear.
func WithResolveGrace(d time.Duration) SamplerOpt {
	return func(s *Sampler) { s.resolveGrace = d }
}

// WithMaxDuration stops sampling after the given wall duration.
func WithMaxDuration(d time.Duration) SamplerOpt {
	return func(s *Sampler) { s.maxDuration = d }
}

// WithMaxSamples stops sampling after n samples have been collected.
func WithMaxSamples(n int) SamplerOpt {
	return func(s *Sampler) { s.maxSamples = n }
}

// WithStabilityDetector attaches a cooldown detector; sampling stops once it
// reports the target has cooled down.
func WithStabilityDetector(d *StabilityDetector) SamplerOpt {
	return func(s *Sampler) { s.detector = d }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) SamplerOpt {
	return func(s *Sampler) { s.log = log }
}

// NewSampler creates an idle sampler. The interval must be positive.
func NewSampler(resolver Resolver, interval time.Duration, opts ...SamplerOpt) (*Sampler, error) {
	if resolver == nil {
		return nil, errors.New("sampler: resolver is required")
	}
	if interval <= 0 {
		return nil, errors.New("sampler: interval must be positive")
	}
	s := &Sampler{
		resolver:     resolver,
		interval:     interval,
		resolveGrace: DefaultResolveGrace,
		log:          slog.Default(),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start resolves the target (waiting up to the grace period for it to appear)
// and launches the background polling loop. It captures the monotonic zero
// instant all ElapsedS values are measured from. Calling Start twice is an
// error.
func (s *Sampler) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.resolveGrace)
	defer cancel()

	target, err := s.resolveWithGrace(ctx)
	if err != nil {
		s.started.Store(false)
		return err
	}

	s.t0 = time.Now()
	s.log.Debug("sampler started", "pid", target.PID(), "interval", s.interval)
	go s.run(target)
	return nil
}

// resolveWithGrace retries resolution at a fixed short interval until the
// target appears or the grace period expires.
func (s *Sampler) resolveWithGrace(ctx context.Context) (Target, error) {
	for {
		target, err := s.resolver.Resolve(ctx)
		if err == nil {
			return target, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(resolveRetryInterval):
		}
	}
}

// Stop requests the polling loop to finish. The loop observes the request at
// the top of its next cycle, so stop latency is bounded by one interval.
// Idempotent.
func (s *Sampler) Stop() {
	s.stopFn.Do(func() { close(s.stopCh) })
}

// Join blocks until the background goroutine has fully terminated or the
// timeout elapses. Only after Join returns nil may Samples be read.
func (s *Sampler) Join(timeout time.Duration) error {
	if !s.started.Load() {
		// Nothing ever ran; the empty trace is immediately readable.
		s.joined.Store(true)
		return nil
	}
	select {
	case <-s.done:
		s.joined.Store(true)
		return nil
	case <-time.After(timeout):
		return ErrJoinTimeout
	}
}

// Samples returns the collected trace. It fails with ErrNotJoined until a
// Join has completed without timing out.
func (s *Sampler) Samples() ([]MemSample, error) {
	if !s.joined.Load() {
		return nil, ErrNotJoined
	}
	return s.samples, nil
}

// Err reports the terminal condition of the loop after a successful Join.
// It is ErrPermissionDenied when sampling was cut short by a forbidden memory
// read, and nil otherwise; the target exiting is not an error.
func (s *Sampler) Err() error {
	if !s.joined.Load() {
		return ErrNotJoined
	}
	return s.termErr
}

// StartedAt returns the instant captured by Start, the origin of the
// sampler's time base. Offsets into that base must be computed on the same
// clock, e.g. Elapsed(launchInstant) for a subprocess launched right after
// Start.
func (s *Sampler) StartedAt() time.Time {
	return s.t0
}

// Elapsed converts an instant taken with time.Now into seconds on the
// sampler's time base.
func (s *Sampler) Elapsed(t time.Time) float64 {
	return t.Sub(s.t0).Seconds()
}

func (s *Sampler) run(initial Target) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	lastPID := initial.PID()
	for {
		target, err := s.resolver.Resolve(context.Background())
		if err != nil {
			// The target disappearing is the expected end of a run.
			s.log.Debug("target no longer resolvable, stopping", "pid", lastPID)
			return
		}
		if target.PID() != lastPID {
			s.log.Info("target pid changed", "old", lastPID, "new", target.PID())
			if s.detector != nil {
				s.detector.Reset()
			}
			lastPID = target.PID()
		}

		if !s.pollOnce(target) {
			return
		}
		if s.maxSamples > 0 && len(s.samples) >= s.maxSamples {
			return
		}
		if s.maxDuration > 0 && time.Since(s.t0) >= s.maxDuration {
			return
		}

		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// pollOnce reads memory for the current target tree and appends one sample.
// It returns false when the loop must terminate.
func (s *Sampler) pollOnce(target Target) bool {
	rss, vms, err := target.MemoryInfo()
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			// Do not retry: a denied read would fail every cycle.
			s.log.Warn("memory read denied, stopping sampler", "pid", target.PID())
			s.termErr = ErrPermissionDenied
			return false
		}
		s.log.Debug("target exited", "pid", target.PID())
		return false
	}

	if s.includeChildren {
		children, err := target.Children()
		if err != nil {
			// Transient enumeration failure: fall back to root-only this cycle.
			children = nil
		}
		for _, child := range children {
			crss, cvms, err := child.MemoryInfo()
			if err != nil {
				continue
			}
			rss += crss
			vms += cvms
		}
	}

	now := time.Now()
	sample := MemSample{
		Timestamp: now,
		PID:       target.PID(),
		RSSBytes:  rss,
		VMSBytes:  vms,
		ElapsedS:  now.Sub(s.t0).Seconds(),
	}
	s.samples = append(s.samples, sample)

	if s.detector != nil && s.detector.Observe(sample) == StateStopped {
		s.log.Info("cooldown reached, stopping sampler",
			"pid", sample.PID, "baseline_mb", s.detector.Baseline())
		return false
	}
	return true
}
