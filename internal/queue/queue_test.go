package queue

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/worker"
)

func TestAddRequiresConnection(t *testing.T) {
	m := NewManager()

	err := m.Add("g1", []worker.Track{{Title: "a"}})
	assert.ErrorIs(t, err, ErrNotConnected)

	m.Connect("g1", "ch1")
	require.NoError(t, m.Add("g1", []worker.Track{{Title: "a"}}))

	q, err := m.Get("g1")
	require.NoError(t, err)
	assert.Len(t, q, 1)
}

func TestConcurrentAddsDoNotInterleave(t *testing.T) {
	m := NewManager()
	m.Connect("g1", "ch1")

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_ = m.Add("g1", []worker.Track{{Title: "t"}})
			}
		}()
	}
	wg.Wait()

	q, err := m.Get("g1")
	require.NoError(t, err)
	assert.Len(t, q, writers*perWriter, "every append must land exactly once")
}

func TestWithLockReleasedAfterError(t *testing.T) {
	m := NewManager()
	m.Connect("g1", "ch1")

	wantErr := errors.New("mutation failed")
	err := m.WithLock("g1", func(st *GuildState) error { return wantErr })
	assert.ErrorIs(t, err, wantErr)

	// the guild must not stay locked after a failing mutation
	require.NoError(t, m.Add("g1", []worker.Track{{Title: "a"}}))
}

func TestWithLockReleasedAfterPanic(t *testing.T) {
	m := NewManager()
	m.Connect("g1", "ch1")

	func() {
		defer func() { _ = recover() }()
		_ = m.WithLock("g1", func(st *GuildState) error { panic("boom") })
	}()

	require.NoError(t, m.Add("g1", []worker.Track{{Title: "a"}}))
}

func TestRemoveBounds(t *testing.T) {
	m := NewManager()
	m.Connect("g1", "ch1")
	require.NoError(t, m.Add("g1", []worker.Track{{Title: "a"}, {Title: "b"}, {Title: "c"}}))

	_, err := m.Remove("g1", -1)
	assert.Error(t, err)
	_, err = m.Remove("g1", 3)
	assert.Error(t, err)

	removed, err := m.Remove("g1", 1)
	require.NoError(t, err)
	assert.Equal(t, "b", removed.Title)

	q, err := m.Get("g1")
	require.NoError(t, err)
	require.Len(t, q, 2)
	assert.Equal(t, "a", q[0].Title)
	assert.Equal(t, "c", q[1].Title)
}

func TestDisconnectClearsState(t *testing.T) {
	m := NewManager()
	m.Connect("g1", "ch1")
	require.NoError(t, m.Add("g1", []worker.Track{{Title: "a"}}))

	m.Disconnect("g1")

	_, err := m.Get("g1")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, m.ActiveGuilds())
}

func TestActiveGuilds(t *testing.T) {
	m := NewManager()
	m.Connect("g1", "ch1")
	m.Connect("g2", "ch2")
	m.Disconnect("g2")

	active := m.ActiveGuilds()
	assert.Equal(t, []string{"g1"}, active)
}
