package repository

import (
	"time"

	"github.com/okian/badgeboard/pkg/logger"
)

// Option applies a configuration option to a store.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger logger.Logger
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger used for migrations and diagnostics.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
