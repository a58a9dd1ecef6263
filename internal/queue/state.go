package queue

import (
	"time"

	"maestro/internal/worker"
)

// GuildState is the orchestrator's local view of one guild's voice session:
// the staging queue, the track the music worker is playing, and the pause
// bookkeeping that playback-position math needs. The music worker owns the
// authoritative queue; this copy exists so snapshots can be written without a
// round-trip and restored after a crash.
type GuildState struct {
	ChannelID  string
	Queue      []worker.Track
	Current    *worker.Track
	Volume     float64
	LastUserID string

	startedAt   time.Time
	pausedAt    time.Time
	totalPaused time.Duration
	paused      bool
}

// StartTrack marks a track as playing from position zero.
func (g *GuildState) StartTrack(t worker.Track, now time.Time) {
	g.Current = &t
	g.startedAt = now
	g.pausedAt = time.Time{}
	g.totalPaused = 0
	g.paused = false
}

// ResumeTrack marks a track as playing from a given position, as after a
// crash-recovery seek.
func (g *GuildState) ResumeTrack(t worker.Track, positionMs int64, paused bool, now time.Time) {
	g.Current = &t
	g.startedAt = now.Add(-time.Duration(positionMs) * time.Millisecond)
	g.totalPaused = 0
	g.paused = paused
	if paused {
		g.pausedAt = now
	} else {
		g.pausedAt = time.Time{}
	}
}

// StopTrack clears the playing track.
func (g *GuildState) StopTrack() {
	g.Current = nil
	g.startedAt = time.Time{}
	g.pausedAt = time.Time{}
	g.totalPaused = 0
	g.paused = false
}

// Pause freezes the position clock. No-op when already paused.
func (g *GuildState) Pause(now time.Time) {
	if g.paused || g.Current == nil {
		return
	}
	g.paused = true
	g.pausedAt = now
}

// Resume unfreezes the position clock, folding the finished pause into the
// accumulated pause time.
func (g *GuildState) Resume(now time.Time) {
	if !g.paused {
		return
	}
	g.totalPaused += now.Sub(g.pausedAt)
	g.paused = false
	g.pausedAt = time.Time{}
}

// Paused reports whether playback is currently paused.
func (g *GuildState) Paused() bool { return g.paused }

// PositionMs returns the playback position of the current track. Pause time
// is excluded, so the position of a paused track stays frozen.
func (g *GuildState) PositionMs(now time.Time) int64 {
	if g.Current == nil {
		return 0
	}
	elapsed := now.Sub(g.startedAt) - g.totalPaused
	if g.paused {
		elapsed -= now.Sub(g.pausedAt)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed.Milliseconds()
}
