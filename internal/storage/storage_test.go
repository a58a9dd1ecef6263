package storage

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "datastore.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCommandHistoryRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.SetCommand("g1", "ch1", "general", "My Guild", "u1", "alice", "play"))
	require.NoError(t, s.SetCommand("g1", "ch1", "general", "My Guild", "u2", "bob", "skip"))

	history, err := s.GetCommandHistory("g1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "play", history[0].Command)
	assert.Equal(t, "skip", history[1].Command)
	assert.Equal(t, "bob", history[1].Username)
	assert.False(t, history[1].Datetime.IsZero())

	// guilds are isolated
	other, err := s.GetCommandHistory("g2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestCommandHistoryTrimsToLimit(t *testing.T) {
	s := newTestStorage(t)

	for i := 0; i < commandHistoryLimit+5; i++ {
		require.NoError(t, s.SetCommand("g1", "ch1", "general", "My Guild", "u1", "alice",
			fmt.Sprintf("cmd-%d", i)))
	}

	history, err := s.GetCommandHistory("g1")
	require.NoError(t, err)
	require.Len(t, history, commandHistoryLimit)
	assert.Equal(t, "cmd-5", history[0].Command, "oldest entries fall off first")
	assert.Equal(t, fmt.Sprintf("cmd-%d", commandHistoryLimit+4), history[len(history)-1].Command)
}

func TestPreferredTTSVoice(t *testing.T) {
	s := newTestStorage(t)

	voice, err := s.GetPreferredTTSVoice("g1")
	require.NoError(t, err)
	assert.Empty(t, voice)

	require.NoError(t, s.SetPreferredTTSVoice("g1", "en-GB-standard-B"))

	voice, err = s.GetPreferredTTSVoice("g1")
	require.NoError(t, err)
	assert.Equal(t, "en-GB-standard-B", voice)
}

func TestVoicePreferenceSurvivesHistoryWrites(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.SetPreferredTTSVoice("g1", "en-US-standard-C"))
	require.NoError(t, s.SetCommand("g1", "ch1", "general", "My Guild", "u1", "alice", "say"))

	voice, err := s.GetPreferredTTSVoice("g1")
	require.NoError(t, err)
	assert.Equal(t, "en-US-standard-C", voice)
}
