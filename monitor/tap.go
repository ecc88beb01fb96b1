package monitor

import (
	"context"
	"time"

	"code.hybscloud.com/iox"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/dispatcher"
	"github.com/frobware/go-one/registry"
)

// tapPacket runs on the dispatcher worker, the tap's only producer. The
// payload aliases the worker's receive buffer, so it is copied.
func (m *Monitor) tapPacket(_ *dispatcher.Dispatcher, hdr one.Header, payload []byte) {
	e := tapEntry{hdr: hdr, at: time.Now()}
	if m.opts.CapturePayloads {
		e.payload = append([]byte(nil), payload...)
	}
	if err := m.tap.Enqueue(&e); err != nil {
		if iox.IsWouldBlock(err) {
			m.dropped.Add(1)
			return
		}
		m.logger.Error("tap enqueue", "qid", hdr.QID, "error", err)
	}
}

// drain is the tap's only consumer. Once stopDrain is set it empties
// the tap and exits.
func (m *Monitor) drain() {
	defer close(m.drainDone)

	ctx := context.Background()
	var backoff iox.Backoff
	for {
		e, err := m.tap.Dequeue()
		if err != nil {
			if m.stopDrain.Load() {
				// The producer has stopped; one last look catches an
				// entry published between the failed dequeue and the
				// load.
				if e, err = m.tap.Dequeue(); err != nil {
					return
				}
			} else {
				backoff.Wait()
				continue
			}
		}
		backoff.Reset()
		m.persist(ctx, e)
	}
}

func (m *Monitor) persist(ctx context.Context, e tapEntry) {
	id, err := m.store.SaveCapture(ctx, registry.Capture{
		RunID:      m.runID,
		QID:        e.hdr.QID,
		Flags:      uint32(e.hdr.Flags),
		Size:       e.hdr.Size,
		Payload:    e.payload,
		CapturedAt: e.at,
	})
	if err != nil {
		m.storeErrors.Add(1)
		m.logger.Warn("save capture", "qid", e.hdr.QID, "error", err)
		return
	}
	m.captured.Add(1)
	m.logger.Debug("captured", "id", id, "qid", e.hdr.QID, "size", e.hdr.Size)
}
