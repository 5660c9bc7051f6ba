package heco

import "log/slog"

// options defines the configuration of a Store.
type options struct {
	registry *Registry    // tag space, shared when set
	capacity int          // types to pre-size the index for
	maxBytes uintptr      // arena size limit, 0 for none
	logger   *slog.Logger // growth and failure diagnostics
	events   Events
}

// Option is a function that configures a Store.
type Option func(*options)

// GrowEvent describes a buffer replacement.
type GrowEvent struct {
	OldBytes uintptr
	NewBytes uintptr
	Moved    int // live elements moved into the new buffer
}

// Events holds callbacks run after the store replaces its buffer.
type Events struct {
	OnGrow   func(GrowEvent)
	OnShrink func(GrowEvent)
}

// WithRegistry makes the store assign tags from r instead of a private
// registry. Stores sharing a registry agree on every tag.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithCapacity pre-sizes the type index for n types.
func WithCapacity(n int) Option {
	return func(o *options) {
		o.capacity = n
	}
}

// WithMaxBytes limits the arena buffer to n bytes. Inserts that would need a
// larger buffer fail with an *AllocationError.
func WithMaxBytes(n uintptr) Option {
	return func(o *options) {
		o.maxBytes = n
	}
}

// WithLogger sets the logger used for growth and allocation diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithEvents installs growth callbacks.
func WithEvents(e Events) Option {
	return func(o *options) {
		o.events = e
	}
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		logger: slog.New(slog.DiscardHandler),
	}
}
