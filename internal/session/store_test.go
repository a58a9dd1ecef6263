package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/worker"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestActiveSessionLifecycle(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetActive(ctx, "g1", "ch1"))

	a, err := s.GetActive(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "ch1", a.ChannelID)
	assert.False(t, a.Timestamp.IsZero())
	assert.Equal(t, TTL, mr.TTL("session:active:g1"))

	require.NoError(t, s.ClearActive(ctx, "g1"))
	a, err = s.GetActive(ctx, "g1")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestActiveSessionExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetActive(ctx, "g1", "ch1"))
	mr.FastForward(TTL + time.Second)

	a, err := s.GetActive(ctx, "g1")
	require.NoError(t, err)
	assert.Nil(t, a, "an idle session must lapse on its own")
}

func TestRefreshSlidesTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetActive(ctx, "g1", "ch1"))
	mr.FastForward(20 * time.Minute)
	require.NoError(t, s.Refresh(ctx, "g1"))
	mr.FastForward(20 * time.Minute)

	a, err := s.GetActive(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, a, "activity within the window must keep the session alive")
	assert.Equal(t, TTL, mr.TTL("session:active:g1"))
}

func TestCurrentAndLastChannel(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetCurrentChannel(ctx, "g1", "u1", "ch1"))
	require.NoError(t, s.SetLastChannel(ctx, "g1", "u1", "ch1"))

	cur, err := s.GetCurrentChannel(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "ch1", cur)

	// leaving voice clears current but keeps the sticky last channel
	require.NoError(t, s.ClearCurrentChannel(ctx, "g1", "u1"))
	cur, err = s.GetCurrentChannel(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Empty(t, cur)

	last, err := s.GetLastChannel(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "ch1", last)
}

func TestWorkerStatusRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	conn, err := s.GetWorkerStatus(ctx, worker.Music, "g1")
	require.NoError(t, err)
	assert.Nil(t, conn)

	want := worker.Connection{ChannelID: "ch1", Connected: true, LastHeartbeat: time.Now().UTC()}
	require.NoError(t, s.SetWorkerStatus(ctx, worker.Music, "g1", want))

	conn, err = s.GetWorkerStatus(ctx, worker.Music, "g1")
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, "ch1", conn.ChannelID)
	assert.True(t, conn.Connected)

	require.NoError(t, s.ClearWorkerStatus(ctx, worker.Music, "g1"))
	conn, err = s.GetWorkerStatus(ctx, worker.Music, "g1")
	require.NoError(t, err)
	assert.Nil(t, conn)
}

func TestVolumeDefaultsWhenAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetVolume(ctx, "g1", worker.Music)
	require.NoError(t, err)
	assert.Equal(t, DefaultVolume, v)

	require.NoError(t, s.SetVolume(ctx, "g1", worker.Music, 0.8))
	v, err = s.GetVolume(ctx, "g1", worker.Music)
	require.NoError(t, err)
	assert.Equal(t, 0.8, v)

	// volumes are per worker type
	v, err = s.GetVolume(ctx, "g1", worker.TTS)
	require.NoError(t, err)
	assert.Equal(t, DefaultVolume, v)
}

func TestDisabledStoreDegradesQuietly(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	assert.False(t, s.Enabled())
	require.NoError(t, s.SetActive(ctx, "g1", "ch1"))

	a, err := s.GetActive(ctx, "g1")
	require.NoError(t, err)
	assert.Nil(t, a)

	v, err := s.GetVolume(ctx, "g1", worker.Music)
	require.NoError(t, err)
	assert.Equal(t, DefaultVolume, v)
}
