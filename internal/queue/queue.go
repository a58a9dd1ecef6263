// Package queue serializes mutations of each guild's locally held track
// queue. Every read-modify-write runs under a per-guild mutex, so two
// concurrent enqueues for the same guild can never interleave; different
// guilds share nothing and proceed independently.
package queue

import (
	"errors"
	"fmt"
	"sync"

	"maestro/internal/worker"
)

// ErrNotConnected is returned by queue operations when the guild has no
// active local voice state.
var ErrNotConnected = errors.New("no active voice session for this guild")

type guildEntry struct {
	mu    sync.Mutex
	state GuildState
}

// Manager holds one mutex and one GuildState per guild. Entries are created
// lazily on first use and kept for the process lifetime; the per-process
// guild count is small enough that they are never reclaimed.
type Manager struct {
	mu     sync.Mutex
	guilds map[string]*guildEntry
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{guilds: make(map[string]*guildEntry)}
}

func (m *Manager) entry(guildID string) *guildEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.guilds[guildID]
	if !ok {
		e = &guildEntry{}
		m.guilds[guildID] = e
	}
	return e
}

// WithLock runs fn with exclusive access to the guild's state. The lock is
// released on every exit path, including a panicking fn, so a failing
// mutation cannot leave the guild permanently locked.
func (m *Manager) WithLock(guildID string, fn func(st *GuildState) error) error {
	e := m.entry(guildID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&e.state)
}

// Connect marks the guild as having an active local voice state in channelID.
func (m *Manager) Connect(guildID, channelID string) {
	_ = m.WithLock(guildID, func(st *GuildState) error {
		st.ChannelID = channelID
		if st.Volume == 0 {
			st.Volume = 0.5
		}
		return nil
	})
}

// Disconnect clears the guild's local voice state and queue.
func (m *Manager) Disconnect(guildID string) {
	_ = m.WithLock(guildID, func(st *GuildState) error {
		*st = GuildState{}
		return nil
	})
}

// Add appends tracks to the guild's queue.
func (m *Manager) Add(guildID string, tracks []worker.Track) error {
	return m.WithLock(guildID, func(st *GuildState) error {
		if st.ChannelID == "" {
			return ErrNotConnected
		}
		st.Queue = append(st.Queue, tracks...)
		return nil
	})
}

// Clear empties the guild's queue, leaving the current track untouched.
func (m *Manager) Clear(guildID string) error {
	return m.WithLock(guildID, func(st *GuildState) error {
		if st.ChannelID == "" {
			return ErrNotConnected
		}
		st.Queue = nil
		return nil
	})
}

// Remove deletes and returns the track at index.
func (m *Manager) Remove(guildID string, index int) (worker.Track, error) {
	var removed worker.Track
	err := m.WithLock(guildID, func(st *GuildState) error {
		if st.ChannelID == "" {
			return ErrNotConnected
		}
		if index < 0 || index >= len(st.Queue) {
			return fmt.Errorf("queue index %d out of range (len %d)", index, len(st.Queue))
		}
		removed = st.Queue[index]
		st.Queue = append(st.Queue[:index], st.Queue[index+1:]...)
		return nil
	})
	return removed, err
}

// Get returns a copy of the guild's queue.
func (m *Manager) Get(guildID string) ([]worker.Track, error) {
	var out []worker.Track
	err := m.WithLock(guildID, func(st *GuildState) error {
		if st.ChannelID == "" {
			return ErrNotConnected
		}
		out = append(out, st.Queue...)
		return nil
	})
	return out, err
}

// ActiveGuilds returns the IDs of guilds with an active local voice state.
func (m *Manager) ActiveGuilds() []string {
	m.mu.Lock()
	entries := make(map[string]*guildEntry, len(m.guilds))
	for id, e := range m.guilds {
		entries[id] = e
	}
	m.mu.Unlock()

	var out []string
	for id, e := range entries {
		e.mu.Lock()
		if e.state.ChannelID != "" {
			out = append(out, id)
		}
		e.mu.Unlock()
	}
	return out
}
