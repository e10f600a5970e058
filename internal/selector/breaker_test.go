package selector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// manualClock is a minimal fake clock.Clock for deterministic breaker tests
// (§9: "tests inject a fake clock").
type manualClock struct {
	now time.Time
}

func (m *manualClock) Now() time.Time { return m.now }
func (m *manualClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- m.now.Add(d)
	return ch
}
func (m *manualClock) Sleep(d time.Duration) { m.now = m.now.Add(d) }
func (m *manualClock) advance(d time.Duration) { m.now = m.now.Add(d) }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clk := &manualClock{now: time.Now()}
	b := NewBreaker(3, time.Second, clk)

	url := "http://127.0.0.1:9000"
	for i := 0; i < 2; i++ {
		allowed, state := b.Allow(url)
		require.True(t, allowed)
		require.Equal(t, BreakerClosed, state)
		b.RecordFailure(url)
	}
	require.Equal(t, BreakerClosed, b.StateOf(url))

	b.RecordFailure(url) // third consecutive failure trips it
	require.Equal(t, BreakerOpen, b.StateOf(url))

	allowed, state := b.Allow(url)
	require.False(t, allowed)
	require.Equal(t, BreakerOpen, state)
}

func TestBreaker_HalfOpenAfterCooldownAllowsOneProbe(t *testing.T) {
	clk := &manualClock{now: time.Now()}
	b := NewBreaker(1, 10*time.Second, clk)

	url := "http://127.0.0.1:9000"
	b.RecordFailure(url)
	require.Equal(t, BreakerOpen, b.StateOf(url))

	allowed, _ := b.Allow(url)
	require.False(t, allowed, "cooldown has not elapsed yet")

	clk.advance(11 * time.Second)

	allowed, state := b.Allow(url)
	require.True(t, allowed)
	require.Equal(t, BreakerHalfOpen, state)

	// a second concurrent request must not get its own probe
	allowed2, _ := b.Allow(url)
	require.False(t, allowed2)
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	clk := &manualClock{now: time.Now()}
	b := NewBreaker(1, time.Second, clk)
	url := "http://127.0.0.1:9000"

	b.RecordFailure(url)
	clk.advance(2 * time.Second)
	allowed, state := b.Allow(url)
	require.True(t, allowed)
	require.Equal(t, BreakerHalfOpen, state)

	b.RecordSuccess(url)
	require.Equal(t, BreakerClosed, b.StateOf(url))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := &manualClock{now: time.Now()}
	b := NewBreaker(1, time.Second, clk)
	url := "http://127.0.0.1:9000"

	b.RecordFailure(url)
	clk.advance(2 * time.Second)
	b.Allow(url)

	b.RecordFailure(url)
	require.Equal(t, BreakerOpen, b.StateOf(url))
}
