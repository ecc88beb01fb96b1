package queue

import (
	"github.com/frobware/go-one/device"
	"github.com/frobware/go-one/session"

	one "github.com/frobware/go-one"
)

// Dispatch sends buf as one packet to qid.
func Dispatch(s *session.Session, qid one.QID, buf []byte) error {
	return DispatchScatter(s, qid, [][]byte{buf})
}

// DispatchScatter sends one packet to qid whose payload is the
// concatenation of bufs. The buffers are handed to the device as they
// are; nothing is copied.
func DispatchScatter(s *session.Session, qid one.QID, bufs [][]byte) error {
	dev, err := s.Device()
	if err != nil {
		return err
	}
	hdr := one.NewHeader(qid, device.PayloadSize(bufs))
	return translate("dispatch", qid, retry(func() error {
		return dev.Dispatch(hdr, bufs)
	}))
}

// Receive blocks until packets are available on any of qids and writes
// them into out. A timeoutMs of zero blocks indefinitely.
//
// Without strip, out receives whole packets, header first, and the
// returned count includes the headers. With strip, the header of the
// first packet goes to internal scratch space and only the bytes
// written to out are counted; strip is meant for receives of a single
// packet.
//
// A return of zero bytes with a nil error means the call was woken by
// WakeUp. A timeout returns one.ErrTimeout.
func Receive(s *session.Session, qids []one.QID, out []byte, timeoutMs uint32, strip bool) (int, error) {
	return ReceiveScatter(s, qids, [][]byte{out}, timeoutMs, strip)
}

// ReceiveScatter is Receive into a scatter vector.
func ReceiveScatter(s *session.Session, qids []one.QID, outs [][]byte, timeoutMs uint32, strip bool) (int, error) {
	dev, err := s.Device()
	if err != nil {
		return 0, err
	}
	iov, hdr := withHeaderSpace(outs, strip)
	var n int
	err = retryTimed(timeoutMs, func(timeoutMs uint32) error {
		var err error
		n, err = dev.Receive(qids, iov, timeoutMs)
		return err
	})
	if err != nil {
		return 0, translate("receive", firstQID(qids), err)
	}
	return received(n, hdr), nil
}

// DispatchAndReceive sends sendBuf to sendQID and then receives from
// recvQIDs as one device operation, so no other receiver can take a
// reply that only this send could have caused. Arguments are otherwise
// as for Dispatch and Receive.
func DispatchAndReceive(s *session.Session, sendQID one.QID, sendBuf []byte, recvQIDs []one.QID, out []byte, timeoutMs uint32, strip bool) (int, error) {
	dev, err := s.Device()
	if err != nil {
		return 0, err
	}
	send := [][]byte{sendBuf}
	hdr := one.NewHeader(sendQID, len(sendBuf))
	iov, scratch := withHeaderSpace([][]byte{out}, strip)
	var n int
	err = retryTimed(timeoutMs, func(timeoutMs uint32) error {
		var err error
		n, err = dev.DispatchReceive(hdr, send, recvQIDs, iov, timeoutMs)
		return err
	})
	if err != nil {
		return 0, translate("dispatch-receive", sendQID, err)
	}
	return received(n, scratch), nil
}

// WakeUp makes every receive blocked on any of qids return zero bytes
// so its caller can re-evaluate what to wait for.
func WakeUp(s *session.Session, qids []one.QID) error {
	dev, err := s.Device()
	if err != nil {
		return err
	}
	return translate("wakeup", firstQID(qids), retry(func() error {
		return dev.WakeUp(qids)
	}))
}

// withHeaderSpace prepends header scratch space to outs when stripping.
func withHeaderSpace(outs [][]byte, strip bool) ([][]byte, []byte) {
	if !strip {
		return outs, nil
	}
	hdr := make([]byte, one.HeaderSize)
	iov := make([][]byte, 0, len(outs)+1)
	iov = append(iov, hdr)
	return append(iov, outs...), hdr
}

func received(n int, scratch []byte) int {
	if scratch == nil || n < len(scratch) {
		return n
	}
	return n - len(scratch)
}

func firstQID(qids []one.QID) one.QID {
	if len(qids) == 0 {
		return one.QIDNone
	}
	return qids[0]
}
