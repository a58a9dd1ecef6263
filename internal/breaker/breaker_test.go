package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := New(3, 30*time.Second)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAfterThresholdFailures(t *testing.T) {
	b, _ := newTestBreaker(t)

	b.Failure()
	b.Failure()
	assert.True(t, b.Allow(), "two failures must not open the circuit")

	b.Failure()
	assert.False(t, b.Allow(), "third consecutive failure must open the circuit")

	st := b.Snapshot()
	assert.True(t, st.Open)
	assert.Equal(t, 3, st.FailureCount)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(t)

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()
	assert.True(t, b.Allow(), "success must reset the consecutive failure count")
}

func TestBreakerSuccessClosesOpenCircuit(t *testing.T) {
	b, _ := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	require.False(t, b.Allow())

	// a success anywhere clears the circuit, cooldown or not
	b.Success()
	assert.True(t, b.Allow())
	assert.Equal(t, 0, b.Snapshot().FailureCount)
}

func TestBreakerAllowsAfterCooldown(t *testing.T) {
	b, now := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	require.False(t, b.Allow())

	*now = now.Add(29 * time.Second)
	assert.False(t, b.Allow(), "still inside the cooldown window")

	*now = now.Add(2 * time.Second)
	assert.True(t, b.Allow(), "cooldown elapsed, next call proceeds normally")
}
