package procwatch

import "time"

const bytesPerMB = 1024 * 1024

// MemSample is a single point of a memory trace. Timestamp is wall-clock and
// only meant for display; ElapsedS is the offset from the owning sampler's
// monotonic start instant and is what all windowing math uses.
type MemSample struct {
	Timestamp time.Time
	PID       int32
	RSSBytes  uint64
	VMSBytes  uint64
	ElapsedS  float64
}

// RSSMB returns resident memory in megabytes.
func (s MemSample) RSSMB() float64 {
	return float64(s.RSSBytes) / bytesPerMB
}

// VMSMB returns virtual memory in megabytes.
func (s MemSample) VMSMB() float64 {
	return float64(s.VMSBytes) / bytesPerMB
}
