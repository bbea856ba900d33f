package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Check failures. Cycle wraps them with details.
var (
	ErrHeartbeatStale = errors.New("supervisor: heartbeat stale")
	ErrWorkerDead     = errors.New("supervisor: worker terminated")
	ErrNotMonitoring  = errors.New("supervisor: detector reports not monitoring")
	ErrActivityStale  = errors.New("supervisor: no poll activity")
)

// checkHeartbeat fails when the previous cycle ended more than two periods
// ago. It only fires when the supervisor itself was stalled.
func (s *Supervisor) checkHeartbeat(now time.Time) error {
	ns := s.lastHeartbeat.Load()
	if ns == 0 {
		return nil
	}
	limit := 2 * s.cfg.HeartbeatPeriod
	if gap := now.Sub(time.Unix(0, ns)); gap > limit {
		return fmt.Errorf("%w: %s since last heartbeat (limit %s)", ErrHeartbeatStale, gap.Truncate(time.Second), limit)
	}
	return nil
}

func (s *Supervisor) checkWorker(now time.Time) error {
	if !s.expect.Load() {
		return nil
	}
	w := s.worker.Load()
	if w == nil {
		return nil
	}
	select {
	case <-w.done:
		return fmt.Errorf("%w after %s", ErrWorkerDead, now.Sub(w.started).Truncate(time.Second))
	default:
	}

	if hours := int(now.Sub(w.started) / s.cfg.WorkerNotice); hours > s.workerNoticed {
		s.workerNoticed = hours
		s.log.Info("supervisor: worker running", "account", s.cfg.Account, "runtime", now.Sub(w.started).Truncate(time.Minute))
	}
	return nil
}

func (s *Supervisor) checkSelfReport(time.Time) error {
	if !s.expect.Load() {
		return nil
	}
	if !s.target.Monitoring() {
		return ErrNotMonitoring
	}
	return nil
}

// checkActivity counts consecutive cycles in which the last poll activity is
// older than two poll intervals, and fails once the count reaches
// MaxConsecutiveFailures. Before the first poll the supervisor start time
// stands in for the activity time.
func (s *Supervisor) checkActivity(now time.Time) error {
	last := s.target.LastPollActivity()
	if last.IsZero() {
		last = s.started
	}
	limit := 2 * s.cfg.PollInterval
	age := now.Sub(last)
	if age <= limit {
		if prev := s.consecutive.Swap(0); prev > 0 {
			s.log.Info("supervisor: poll activity resumed", "account", s.cfg.Account, "late_cycles", prev)
		}
		return nil
	}

	n := int(s.consecutive.Add(1))
	if n >= s.cfg.MaxConsecutiveFailures {
		return fmt.Errorf("%w for %s (%d consecutive cycles, limit %d)",
			ErrActivityStale, age.Truncate(time.Second), n, s.cfg.MaxConsecutiveFailures)
	}
	s.log.Warn("supervisor: poll activity late", "account", s.cfg.Account,
		"age", age.Truncate(time.Second), "limit", limit,
		"consecutive", n, "max", s.cfg.MaxConsecutiveFailures)
	return nil
}

// checkResources samples the process and logs the advisory notices. It never
// fails the cycle.
func (s *Supervisor) checkResources(ctx context.Context, now time.Time) Snapshot {
	snap := s.snapshotBase(now)

	if s.cfg.Sampler != nil {
		u, err := s.cfg.Sampler.Sample(ctx)
		if err != nil {
			s.log.Warn("supervisor: resource sample failed", "error", err)
		} else {
			snap.CPUPercent = u.CPUPercent
			snap.MemoryMB = u.MemoryMB
		}
	}

	if snap.CPUPercent > s.cfg.CPUThreshold {
		s.log.Warn("supervisor: high cpu usage", "cpu_percent", snap.CPUPercent, "threshold", s.cfg.CPUThreshold)
	}
	if snap.MemoryMB > s.cfg.MemoryThresholdMB {
		s.log.Warn("supervisor: high memory usage", "memory_mb", snap.MemoryMB, "threshold_mb", s.cfg.MemoryThresholdMB)
	}
	if days := int(snap.Uptime / s.cfg.UptimeNotice); days > s.uptimeNoticed {
		s.uptimeNoticed = days
		s.log.Info("supervisor: long uptime, consider a scheduled restart", "uptime", snap.Uptime.Truncate(time.Minute))
	}

	s.log.Debug("supervisor: resources", "cpu_percent", snap.CPUPercent, "memory_mb", snap.MemoryMB,
		"goroutines", snap.Goroutines, "worker_alive", snap.WorkerAlive)
	return snap
}
