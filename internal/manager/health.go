package manager

import (
	"fmt"
	"math"
	"time"

	"github.com/ctc/forcemon/internal/session"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Status is a point-in-time view of one device
type Status struct {
	Name      string
	State     session.State
	Connected bool
	Simulated bool
	Mode      string
	// AgeMillis is the time since the last reading, -1 when none arrived
	AgeMillis int64
	LastError error
}

// Status returns the status of every device in configuration order
func (m *Manager) Status() []Status {
	out := make([]Status, 0, m.handlers.Len())
	for pair := m.handlers.Oldest(); pair != nil; pair = pair.Next() {
		h := pair.Value
		age := h.AgeMillis()
		if !h.Simulated() && age == math.MaxInt64 {
			age = -1
		}
		out = append(out, Status{
			Name:      pair.Key,
			State:     h.State(),
			Connected: h.IsConnected(),
			Simulated: h.Simulated(),
			Mode:      h.Mode().String(),
			AgeMillis: age,
			LastError: h.LastError(),
		})
	}
	return out
}

// StartHealthReport logs every device status on the configured interval.
// A zero interval disables the report.
func (m *Manager) StartHealthReport() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	interval := m.cfg.HealthInterval
	if interval <= 0 || m.cron != nil {
		return nil
	}

	c := cron.New()
	schedule := fmt.Sprintf("@every %s", interval)
	if _, err := c.AddFunc(schedule, m.reportHealth); err != nil {
		return fmt.Errorf("invalid health interval %s: %w", interval, err)
	}
	c.Start()
	m.cron = c

	m.logger.WithField("interval", interval).Debug("Health report started")
	return nil
}

func (m *Manager) reportHealth() {
	staleAfter := 2 * m.cfg.Reading.ReadTimeout
	for _, st := range m.Status() {
		fields := logrus.Fields{
			"device":    st.Name,
			"state":     st.State.String(),
			"mode":      st.Mode,
			"simulated": st.Simulated,
		}
		if st.AgeMillis >= 0 {
			fields["age_ms"] = st.AgeMillis
		}
		if st.LastError != nil {
			fields["error"] = st.LastError
		}
		entry := m.logger.WithFields(fields)

		switch {
		case st.State == session.Failed:
			entry.Warn("Device connect failed")
		case st.Connected && st.Mode == "continuous" &&
			(st.AgeMillis < 0 || time.Duration(st.AgeMillis)*time.Millisecond > staleAfter):
			entry.Warn("Device stream is stale")
		default:
			entry.Info("Device status")
		}
	}
}
