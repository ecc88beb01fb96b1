package dispatcher

import (
	"log/slog"
	"time"

	one "github.com/frobware/go-one"
)

const (
	// DefaultBufferSize is the initial size of the worker's receive
	// buffer.
	DefaultBufferSize = 64 << 10

	// MaxBufferSize is the default bound on how far the receive buffer
	// grows when a packet does not fit.
	MaxBufferSize = 16 << 20

	DefaultRetryMin  = 25 * time.Millisecond
	DefaultRetryMax  = 2 * time.Second
	DefaultStopGrace = 100 * time.Millisecond
)

type options struct {
	logger     *slog.Logger
	bufferSize int
	maxBuffer  int
	retryMin   time.Duration
	retryMax   time.Duration
	stopGrace  time.Duration
	name       string
	unrouted   Handler
}

func defaultOptions() options {
	return options{
		logger:     slog.Default(),
		bufferSize: DefaultBufferSize,
		maxBuffer:  MaxBufferSize,
		retryMin:   DefaultRetryMin,
		retryMax:   DefaultRetryMax,
		stopGrace:  DefaultStopGrace,
	}
}

// Option configures a Dispatcher.
type Option func(*options)

// WithLogger sets the logger for worker diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBufferSize sets the initial receive buffer size. Sizes smaller
// than one header are ignored.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n >= one.HeaderSize {
			o.bufferSize = n
		}
	}
}

// WithMaxBufferSize bounds how far the receive buffer may grow. A
// packet larger than this is never received; the worker reports the
// queue holding it in Stats so it can be removed.
func WithMaxBufferSize(n int) Option {
	return func(o *options) {
		if n >= one.HeaderSize {
			o.maxBuffer = n
		}
	}
}

// WithRetryBackoff sets the bounds of the exponential backoff applied
// after a failed receive.
func WithRetryBackoff(minDelay, maxDelay time.Duration) Option {
	return func(o *options) {
		if minDelay > 0 {
			o.retryMin = minDelay
		}
		if maxDelay >= o.retryMin {
			o.retryMax = maxDelay
		}
	}
}

// WithStopGrace sets how long Close waits for the worker to notice a
// wakeup before it posts a packet to the control queue instead.
func WithStopGrace(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.stopGrace = d
		}
	}
}

// WithName sets the diagnostic name given to the control queue.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithUnroutedHandler sets a handler for packets whose destination has
// no registered handler, such as packets forwarded by an attachment
// from a queue this dispatcher does not serve. Without it such packets
// are dropped.
func WithUnroutedHandler(h Handler) Option {
	return func(o *options) {
		o.unrouted = h
	}
}
