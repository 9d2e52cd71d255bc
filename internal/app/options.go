package service

import (
	"time"

	"github.com/okian/badgeboard/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTestIDs sets the configured test identifiers. The first is the default
// leaderboard.
func WithTestIDs(ids ...string) Option {
	return func(s *Service) {
		out := make([]string, 0, len(ids))
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
		if len(out) > 0 {
			s.testIDs = out
		}
	}
}

// WithRetries sets how many times a retryable remote failure is repeated,
// with exponential backoff starting at base.
func WithRetries(n int, base time.Duration) Option {
	return func(s *Service) {
		if n >= 0 {
			s.retries = n
		}
		if base > 0 {
			s.retryBase = base
		}
	}
}

// WithConcurrency bounds the number of users synced in parallel by SyncAllUsers.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMirror copies badge images through m before they are stored.
func WithMirror(m ImageMirror) Option {
	return func(s *Service) { s.mirror = m }
}
