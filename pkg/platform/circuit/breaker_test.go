package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// BreakerSuite covers the open/close thresholds.
//
// Justification: the degraded/recovered log lines and gauges are driven
// entirely by these transitions.
type BreakerSuite struct {
	suite.Suite
}

func TestBreakerSuite(t *testing.T) {
	suite.Run(t, new(BreakerSuite))
}

func (s *BreakerSuite) TestOpensAfterConsecutiveFailures() {
	b := New("redis", WithFailureThreshold(3))

	s.False(b.RecordFailure().Opened)
	s.False(b.RecordFailure().Opened)
	s.True(b.RecordFailure().Opened)
	s.True(b.IsOpen())

	// Further failures do not re-announce the transition.
	s.False(b.RecordFailure().Opened)
}

func (s *BreakerSuite) TestSuccessResetsFailureStreak() {
	b := New("redis", WithFailureThreshold(2))

	b.RecordFailure()
	b.RecordSuccess()
	s.False(b.RecordFailure().Opened)
	s.Equal(StateClosed, b.State())
}

func (s *BreakerSuite) TestClosesAfterConsecutiveSuccesses() {
	now := time.Unix(1_700_000_000, 0)
	b := New("redis",
		WithFailureThreshold(1),
		WithSuccessThreshold(2),
		WithClock(func() time.Time { return now }),
	)

	s.True(b.RecordFailure().Opened)
	now = now.Add(90 * time.Second)

	s.False(b.RecordSuccess().Closed)
	change := b.RecordSuccess()
	s.True(change.Closed)
	s.Equal(90*time.Second, change.OpenFor)
	s.Equal("closed", b.State().String())
}

func (s *BreakerSuite) TestFailureWhileRecoveringRestartsCount() {
	b := New("redis", WithFailureThreshold(1), WithSuccessThreshold(2))

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	s.False(b.RecordSuccess().Closed)
	s.True(b.RecordSuccess().Closed)
}
