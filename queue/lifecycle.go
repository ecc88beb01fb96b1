// Package queue implements queue lifecycle control calls and the
// transfer primitives of the One transport.
//
// Every function takes the session whose device it operates on; the
// caller must hold a reference on it (session.Acquire). Interrupted
// control calls are retried transparently. Receive timeouts surface as
// one.ErrTimeout; any other device failure is a *one.TransportError
// carrying the errno. None of these functions log or cache anything:
// every call reaches the device.
package queue

import (
	"github.com/frobware/go-one/device"
	"github.com/frobware/go-one/session"

	one "github.com/frobware/go-one"
)

// Create creates a queue and returns its QID. Pass one.QIDNone to have
// the device allocate a fresh QID; any other value asks for that QID
// specifically.
func Create(s *session.Session, flags device.QueueFlags, requested one.QID) (one.QID, error) {
	dev, err := s.Device()
	if err != nil {
		return one.QIDNone, err
	}
	var qid one.QID
	err = retry(func() error {
		var err error
		qid, err = dev.Create(flags, requested)
		return err
	})
	if err != nil {
		return one.QIDNone, translate("create", requested, err)
	}
	return qid, nil
}

// Destroy destroys a queue. The QID must not be used afterwards: the
// device may hand it out again.
func Destroy(s *session.Session, qid one.QID) error {
	dev, err := s.Device()
	if err != nil {
		return err
	}
	return translate("destroy", qid, retry(func() error {
		return dev.Destroy(qid)
	}))
}

// Attach makes packets dispatched on qid observable on target too.
func Attach(s *session.Session, qid, target one.QID) error {
	dev, err := s.Device()
	if err != nil {
		return err
	}
	return translate("attach", qid, retry(func() error {
		return dev.Attach(qid, target)
	}))
}

// Detach removes a relationship created by Attach.
func Detach(s *session.Session, qid, target one.QID) error {
	dev, err := s.Device()
	if err != nil {
		return err
	}
	return translate("detach", qid, retry(func() error {
		return dev.Detach(qid, target)
	}))
}

// SetName labels a queue for diagnostics. The transport never reads the
// label back.
func SetName(s *session.Session, qid one.QID, name string) error {
	dev, err := s.Device()
	if err != nil {
		return err
	}
	return translate("set-name", qid, retry(func() error {
		return dev.SetName(device.EntryQueue, uint32(qid), name)
	}))
}
