package monitor

import (
	"time"

	"github.com/hazyhaar/feedwatch/detector"
	"github.com/hazyhaar/feedwatch/supervisor"
)

// Status is the externally visible state of the monitor.
type Status struct {
	// Status is "monitoring" while the detector loop runs, "standby" otherwise.
	Status           string             `json:"status"`
	Running          bool               `json:"running"`
	Account          string             `json:"account,omitempty"`
	IntervalSeconds  int                `json:"interval_seconds,omitempty"`
	StartedAt        time.Time          `json:"started_at,omitzero"`
	LastPollActivity time.Time          `json:"last_poll_activity,omitzero"`
	Stats            detector.Stats     `json:"stats"`
	Baseline         *detector.Post     `json:"baseline,omitempty"`
	Supervisor       *supervisor.Status `json:"supervisor,omitempty"`
}

// Status returns a snapshot. It is safe to call at any time.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	st := Status{
		Status:          "standby",
		Running:         m.running,
		Account:         m.account,
		IntervalSeconds: int(m.interval / time.Second),
		StartedAt:       m.startedAt,
	}
	det, sup := m.det, m.sup
	m.mu.Unlock()

	if det != nil {
		if det.Monitoring() {
			st.Status = "monitoring"
		}
		st.LastPollActivity = det.LastPollActivity()
		st.Stats = det.Stats()
		st.Baseline = det.Baseline()
	}
	if sup != nil {
		s := sup.Status()
		st.Supervisor = &s
	}
	return st
}
