package usecase

import (
	"time"

	"github.com/totegamma/checkpoint/internal/logger"
	"github.com/totegamma/checkpoint/internal/metrics"
)

type settings struct {
	logger        *logger.Logger
	metrics       *metrics.Metrics
	publisher     EventPublisher
	cache         CheckpointCache
	now           func() time.Time
	verifyOnWrite bool
}

// timestamp is the clock reading stored on records. Postgres keeps
// microseconds, so finer digits are dropped before anything compares them.
func (s settings) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Option configures a usecase.
type Option func(*settings)

func newSettings(opts []Option) settings {
	s := settings{
		logger:        logger.Nop(),
		now:           time.Now,
		verifyOnWrite: true,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func WithLogger(l *logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

func WithPublisher(p EventPublisher) Option {
	return func(s *settings) { s.publisher = p }
}

func WithCheckpointCache(c CheckpointCache) Option {
	return func(s *settings) { s.cache = c }
}

// WithClock overrides the clock used for revision timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithVerifyOnWrite toggles the full chain check run before each chain
// mutation commits.
func WithVerifyOnWrite(verify bool) Option {
	return func(s *settings) { s.verifyOnWrite = verify }
}
