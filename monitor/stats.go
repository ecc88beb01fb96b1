package monitor

import (
	"time"

	"github.com/frobware/go-one/dispatcher"
)

// Subscription describes one captured queue.
type Subscription struct {
	QID     uint32   `json:"qid" yaml:"qid"`
	Name    string   `json:"name,omitempty" yaml:"name,omitempty"`
	Managed bool     `json:"managed" yaml:"managed"`
	Attach  []uint32 `json:"attach,omitempty" yaml:"attach,omitempty"`
}

// Stats is a point-in-time view of a running monitor.
type Stats struct {
	RunID         string           `json:"run_id" yaml:"run_id"`
	StartedAt     time.Time        `json:"started_at" yaml:"started_at"`
	TapCapacity   int              `json:"tap_capacity" yaml:"tap_capacity"`
	Captured      uint64           `json:"captured" yaml:"captured"`
	Dropped       uint64           `json:"dropped" yaml:"dropped"`
	StoreErrors   uint64           `json:"store_errors" yaml:"store_errors"`
	Subscriptions []Subscription   `json:"subscriptions" yaml:"subscriptions"`
	Dispatcher    dispatcher.Stats `json:"dispatcher" yaml:"dispatcher"`
}

// Stats returns the monitor's counters and subscriptions in
// subscription order. It returns ErrNotRunning unless the monitor has
// been started.
func (m *Monitor) Stats() (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return Stats{}, ErrNotRunning
	}

	subs := make([]Subscription, 0, len(m.order))
	for _, qid := range m.order {
		sub := m.subs[qid]
		s := Subscription{QID: uint32(qid), Name: sub.spec.Name, Managed: sub.managed}
		for _, src := range sub.spec.Attach {
			s.Attach = append(s.Attach, uint32(src))
		}
		subs = append(subs, s)
	}
	return Stats{
		RunID:         m.runID,
		StartedAt:     m.startedAt,
		TapCapacity:   m.opts.TapCapacity,
		Captured:      m.captured.Load(),
		Dropped:       m.dropped.Load(),
		StoreErrors:   m.storeErrors.Load(),
		Subscriptions: subs,
		Dispatcher:    m.disp.Stats(),
	}, nil
}
