//go:build linux

package process

import (
	"github.com/pkg/errors"
	gopsutil "github.com/shirou/gopsutil/v4/process"
)

// ResourceUsage is a point-in-time snapshot of a running child's resource
// consumption.
type ResourceUsage struct {
	// ResidentBytes is the child's resident set size.
	ResidentBytes uint64
	// CPUPercent is total CPU time used divided by the child's lifetime.
	CPUPercent float64
	// Threads is the child's current thread count.
	Threads int32
}

// ResourceUsage samples the running child. It requires Running: once the
// child exits (or before it spawns) there is nothing to sample.
func (h *Handle) ResourceUsage() (*ResourceUsage, error) {
	if !h.ManagesProcess() {
		return nil, errors.WithStack(ErrNotManaged)
	}
	if h.state != Running {
		return nil, errors.WithStack(ErrNotRunning)
	}

	proc, err := gopsutil.NewProcess(int32(h.pid))
	if err != nil {
		return nil, errors.Wrapf(err, "inspecting pid %v", h.pid)
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return nil, errors.Wrapf(err, "reading memory info of pid %v", h.pid)
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		return nil, errors.Wrapf(err, "reading cpu usage of pid %v", h.pid)
	}
	threads, err := proc.NumThreads()
	if err != nil {
		return nil, errors.Wrapf(err, "reading thread count of pid %v", h.pid)
	}

	return &ResourceUsage{
		ResidentBytes: mem.RSS,
		CPUPercent:    cpu,
		Threads:       threads,
	}, nil
}
