// Package session manages the reference-counted handle to the queue
// device.
//
// A Session opens the device on the first Acquire and closes it when the
// last holder calls Release, so any number of components can share one
// device handle without coordinating. Sessions are explicit values:
// construct one with New and pass it to the queue and dispatcher
// packages. Default returns a lazily created process-wide session on the
// Linux character device for callers that do not need to inject one.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/frobware/go-one/device"
	"github.com/frobware/go-one/device/onedev"
)

// ErrNotAcquired is returned when the device is requested, or a
// reference released, while the session holds no references.
var ErrNotAcquired = errors.New("session not acquired")

// Session is a reference-counted device handle. The device is open if
// and only if the reference count is positive.
type Session struct {
	opener device.Opener
	logger *slog.Logger

	mu   sync.Mutex
	refs int
	dev  device.Device
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for open/close diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// New returns a session that opens its device through opener.
func New(opener device.Opener, opts ...Option) *Session {
	s := &Session{opener: opener}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "session")
	return s
}

var defaultSession = sync.OnceValue(func() *Session {
	return New(onedev.Opener(onedev.DefaultPath))
})

// Default returns the process-wide session for the device at
// onedev.DefaultPath.
func Default() *Session {
	return defaultSession()
}

// Acquire takes a reference, opening the device if this is the first
// one. If opening fails the reference is not taken.
func (s *Session) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		dev, err := s.opener.Open()
		if err != nil {
			return fmt.Errorf("open device: %w", err)
		}
		s.dev = dev
		s.logger.Debug("device opened")
	}
	s.refs++
	return nil
}

// Release drops a reference, closing the device when none remain.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		return ErrNotAcquired
	}
	s.refs--
	if s.refs > 0 {
		return nil
	}

	dev := s.dev
	s.dev = nil
	if err := dev.Close(); err != nil {
		return fmt.Errorf("close device: %w", err)
	}
	s.logger.Debug("device closed")
	return nil
}

// Device returns the open device. The caller must hold a reference for
// as long as it uses the device.
func (s *Session) Device() (device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		return nil, ErrNotAcquired
	}
	return s.dev, nil
}

// Refs returns the current reference count.
func (s *Session) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}
