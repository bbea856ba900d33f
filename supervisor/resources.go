package supervisor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Usage is one resource sample of the current process.
type Usage struct {
	CPUPercent float64
	MemoryMB   float64
}

// Sampler reads process resource usage.
type Sampler interface {
	Sample(ctx context.Context) (Usage, error)
}

// ProcessSampler samples this process through gopsutil.
type ProcessSampler struct {
	proc   *process.Process
	window time.Duration
}

// NewProcessSampler returns a sampler for the current process. window is the
// CPU measurement window; zero means 100ms.
func NewProcessSampler(window time.Duration) (*ProcessSampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("supervisor: open process: %w", err)
	}
	if window <= 0 {
		window = 100 * time.Millisecond
	}
	return &ProcessSampler{proc: p, window: window}, nil
}

func (s *ProcessSampler) Sample(ctx context.Context) (Usage, error) {
	cpu, err := s.proc.PercentWithContext(ctx, s.window)
	if err != nil {
		return Usage{}, fmt.Errorf("supervisor: cpu percent: %w", err)
	}
	mem, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("supervisor: memory info: %w", err)
	}
	return Usage{
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
	}, nil
}
