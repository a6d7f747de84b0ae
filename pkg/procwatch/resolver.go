package procwatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/process"
)

// Target is a resolved process handle the sampler can read memory from.
type Target interface {
	PID() int32
	// MemoryInfo returns current resident and virtual memory in bytes.
	MemoryInfo() (rss uint64, vms uint64, err error)
	// Children enumerates the live descendant tree, best-effort.
	Children() ([]Target, error)
}

// Resolver locates the process to be sampled. It is injected into the sampler
// so tests can supply a fake without touching the OS process table. Resolve is
// called once per poll cycle, which is what catches PID churn on name matching.
type Resolver interface {
	Resolve(ctx context.Context) (Target, error)
}

// PIDResolver resolves a fixed numeric process id.
type PIDResolver struct {
	pid int32
}

// ResolveByPID returns a resolver for a known process id.
func ResolveByPID(pid int32) *PIDResolver {
	return &PIDResolver{pid: pid}
}

func (r *PIDResolver) Resolve(_ context.Context) (Target, error) {
	proc, err := process.NewProcess(r.pid)
	if err != nil {
		return nil, fmt.Errorf("%w: pid %d", ErrNotFound, r.pid)
	}
	return &gopsTarget{proc: proc}, nil
}

// NameResolver resolves the first process whose name or command line contains
// the given substring (case-insensitive). The profiler's own process is
// skipped, since its command line usually contains the pattern itself.
type NameResolver struct {
	pattern string
	selfPID int32
}

// ResolveByName returns a resolver matching processes by name or command-line
// substring.
func ResolveByName(pattern string) *NameResolver {
	return &NameResolver{pattern: pattern, selfPID: int32(os.Getpid())}
}

func (r *NameResolver) Resolve(_ context.Context) (Target, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	needle := strings.ToLower(r.pattern)
	for _, proc := range procs {
		if proc.Pid == r.selfPID {
			continue
		}
		if name, err := proc.Name(); err == nil && strings.Contains(strings.ToLower(name), needle) {
			return &gopsTarget{proc: proc}, nil
		}
		if cmdline, err := proc.Cmdline(); err == nil && strings.Contains(strings.ToLower(cmdline), needle) {
			return &gopsTarget{proc: proc}, nil
		}
	}
	return nil, fmt.Errorf("%w: no process matching %q", ErrNotFound, r.pattern)
}

// gopsTarget adapts a gopsutil process handle to the Target interface.
type gopsTarget struct {
	proc *process.Process
}

func (t *gopsTarget) PID() int32 {
	return t.proc.Pid
}

func (t *gopsTarget) MemoryInfo() (uint64, uint64, error) {
	if status, err := t.proc.Status(); err == nil && status == "Z" {
		return 0, 0, errProcessGone
	}
	mi, err := t.proc.MemoryInfo()
	if err != nil {
		if isPermissionError(err) {
			return 0, 0, fmt.Errorf("%w: pid %d", ErrPermissionDenied, t.proc.Pid)
		}
		if running, rerr := t.proc.IsRunning(); rerr == nil && !running {
			return 0, 0, errProcessGone
		}
		return 0, 0, err
	}
	return mi.RSS, mi.VMS, nil
}

func (t *gopsTarget) Children() ([]Target, error) {
	children, err := t.proc.Children()
	if err != nil {
		return nil, err
	}
	targets := make([]Target, 0, len(children))
	for _, child := range children {
		targets = append(targets, &gopsTarget{proc: child})
	}
	return targets, nil
}

func isPermissionError(err error) bool {
	return errors.Is(err, os.ErrPermission) || os.IsPermission(err)
}
