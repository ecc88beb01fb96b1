package dispatcher

import "sync/atomic"

type counters struct {
	batches       atomic.Uint64
	packets       atomic.Uint64
	dropped       atomic.Uint64
	corrupt       atomic.Uint64
	wakeups       atomic.Uint64
	rebuilds      atomic.Uint64
	receiveErrors atomic.Uint64
	oversized     atomic.Uint64
	oversizedQID  atomic.Uint32
}

// Stats is a point-in-time view of a Dispatcher's counters.
type Stats struct {
	Serial     Serial `json:"serial" yaml:"serial"`
	ControlQID uint32 `json:"control_qid" yaml:"control_qid"`
	Queues     int    `json:"queues" yaml:"queues"`
	Generation uint64 `json:"generation" yaml:"generation"`

	Batches       uint64 `json:"batches" yaml:"batches"`
	Packets       uint64 `json:"packets" yaml:"packets"`
	Dropped       uint64 `json:"dropped" yaml:"dropped"`
	Corrupt       uint64 `json:"corrupt" yaml:"corrupt"`
	Wakeups       uint64 `json:"wakeups" yaml:"wakeups"`
	Rebuilds      uint64 `json:"rebuilds" yaml:"rebuilds"`
	ReceiveErrors uint64 `json:"receive_errors" yaml:"receive_errors"`
	// Oversized counts receives that found a packet larger than the
	// maximum buffer; OversizedQID is the last queue holding one.
	Oversized    uint64 `json:"oversized" yaml:"oversized"`
	OversizedQID uint32 `json:"oversized_qid,omitempty" yaml:"oversized_qid,omitempty"`
}

// Stats returns the current counters. Packets counts every decoded
// packet including those for the control queue; Dropped counts packets
// whose destination had no handler.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	queues, gen := len(d.keys), d.gen
	d.mu.Unlock()

	return Stats{
		Serial:        d.serial,
		ControlQID:    uint32(d.control),
		Queues:        queues,
		Generation:    gen,
		Batches:       d.stats.batches.Load(),
		Packets:       d.stats.packets.Load(),
		Dropped:       d.stats.dropped.Load(),
		Corrupt:       d.stats.corrupt.Load(),
		Wakeups:       d.stats.wakeups.Load(),
		Rebuilds:      d.stats.rebuilds.Load(),
		ReceiveErrors: d.stats.receiveErrors.Load(),
		Oversized:     d.stats.oversized.Load(),
		OversizedQID:  d.stats.oversizedQID.Load(),
	}
}
