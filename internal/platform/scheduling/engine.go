// Package scheduling turns recurring weekly availability into conflict-free
// bookings: capacity per slot and date, overlap validation, greedy multi-day
// allocation and the assignment lifecycle. Storage is reached only through
// the store interfaces in this package.
package scheduling

import (
	"time"

	"github.com/rs/zerolog"
)

// Engine is safe for concurrent use; it holds no mutable state of its own.
type Engine struct {
	slots      SlotStore
	bookings   BookingStore
	extensions ExtensionStore
	locker     Locker
	logger     zerolog.Logger
	now        func() time.Time
	maxDays    int
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l.With().Str("component", "scheduling").Logger() }
}

// WithClock replaces time.Now for lifecycle timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxDays sets the allocator's default day cap.
func WithMaxDays(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxDays = n
		}
	}
}

func NewEngine(slots SlotStore, bookings BookingStore, extensions ExtensionStore, locker Locker, opts ...Option) *Engine {
	e := &Engine{
		slots:      slots,
		bookings:   bookings,
		extensions: extensions,
		locker:     locker,
		logger:     zerolog.Nop(),
		now:        time.Now,
		maxDays:    DefaultMaxDays,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// MaxDays returns the allocator's default day cap.
func (e *Engine) MaxDays() int { return e.maxDays }
