package supervisor

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/hazyhaar/feedwatch/notify"
)

// Snapshot is the resource and worker picture attached to an alert.
type Snapshot struct {
	PID         int           `json:"pid"`
	Uptime      time.Duration `json:"uptime"`
	CPUPercent  float64       `json:"cpu_percent"`
	MemoryMB    float64       `json:"memory_mb"`
	Goroutines  int           `json:"goroutines"`
	WorkerAlive bool          `json:"worker_alive"`
}

// Alert is the emergency notification payload.
type Alert struct {
	Timestamp  time.Time `json:"timestamp"`
	Error      string    `json:"error"`
	ErrorCount int       `json:"error_count"`
	MaxErrors  int       `json:"max_errors"`
	Status     string    `json:"status"` // monitoring or standby
	Account    string    `json:"account"`
	Snapshot   Snapshot  `json:"snapshot"`
}

// Subject is the mail subject line.
func (a Alert) Subject() string {
	return fmt.Sprintf("[feedwatch] EMERGENCY: monitor for @%s is failing", a.Account)
}

func (a Alert) fields() [][2]string {
	s := a.Snapshot
	return [][2]string{
		{"Time", a.Timestamp.Format("2006-01-02 15:04:05")},
		{"Error", a.Error},
		{"Errors", fmt.Sprintf("%d/%d", a.ErrorCount, a.MaxErrors)},
		{"Status", a.Status},
		{"Account", "@" + a.Account},
		{"PID", fmt.Sprintf("%d", s.PID)},
		{"Uptime", s.Uptime.Truncate(time.Second).String()},
		{"CPU", fmt.Sprintf("%.1f%%", s.CPUPercent)},
		{"Memory", fmt.Sprintf("%.1f MB", s.MemoryMB)},
		{"Goroutines", fmt.Sprintf("%d", s.Goroutines)},
		{"Worker alive", fmt.Sprintf("%t", s.WorkerAlive)},
	}
}

// Text renders the plain-text body.
func (a Alert) Text() string {
	var b strings.Builder
	b.WriteString("The feedwatch health supervisor reached its error limit.\n\n")
	for _, f := range a.fields() {
		fmt.Fprintf(&b, "%-13s %s\n", f[0]+":", f[1])
	}
	b.WriteString("\nCheck the process logs and restart the monitor if needed.\n")
	return b.String()
}

// HTML renders the HTML body.
func (a Alert) HTML() string {
	var b strings.Builder
	b.WriteString(`<div style="font-family:sans-serif"><h3 style="color:#c0392b">feedwatch emergency</h3><table>`)
	for _, f := range a.fields() {
		fmt.Fprintf(&b, "<tr><td><b>%s</b></td><td>%s</td></tr>", html.EscapeString(f[0]), html.EscapeString(f[1]))
	}
	b.WriteString(`</table><p>Check the process logs and restart the monitor if needed.</p></div>`)
	return b.String()
}

// Message builds the notification for recipient.
func (a Alert) Message(recipient string) notify.Message {
	return notify.Message{
		Recipient: recipient,
		Subject:   a.Subject(),
		Text:      a.Text(),
		HTML:      a.HTML(),
	}
}
