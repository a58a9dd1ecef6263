// Package coordinator drives the music, TTS and soundboard worker processes
// on behalf of the orchestrator. Every guild-level operation is guarded by a
// per-worker circuit breaker and health probe, retried with backoff when safe,
// and returned as a typed Result instead of an error, so handlers upstream
// always get something they can render.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"maestro/internal/breaker"
	"maestro/internal/queue"
	"maestro/internal/session"
	"maestro/internal/worker"
)

const (
	// autoFollowAttempts x autoFollowInterval bounds how long EnsureConnected
	// waits for a worker's out-of-band auto-join before forcing a join RPC.
	autoFollowAttempts = 4
	autoFollowInterval = 500 * time.Millisecond
)

// Client is the RPC surface of one worker as the coordinator sees it.
// *worker.Client is the production implementation.
type Client interface {
	Health(ctx context.Context) (worker.HealthResponse, error)
	GetState(ctx context.Context, guildID string) (worker.StateResponse, error)
	Join(ctx context.Context, guildID, channelID string) (worker.JoinResponse, error)
	Leave(ctx context.Context, guildID string) (worker.LeaveResponse, error)
	Call(ctx context.Context, op string, req worker.OpRequest) (worker.OpResponse, error)
}

// Clients is the fixed set of worker clients. A nil field means that worker
// type is not configured and every call to it fails with KindNotConfigured.
type Clients struct {
	Music      Client
	TTS        Client
	Soundboard Client
}

func (cs Clients) client(t worker.BotType) Client {
	switch t {
	case worker.Music:
		return cs.Music
	case worker.TTS:
		return cs.TTS
	case worker.Soundboard:
		return cs.Soundboard
	}
	return nil
}

// TTSQueue is the optional durable job queue SpeakTTS prefers over a direct
// RPC, decoupling the caller from worker availability.
type TTSQueue interface {
	Enqueue(ctx context.Context, guildID, channelID, userID, text, voice string) error
}

// Config tunes the coordinator. Zero values fall back to the defaults.
type Config struct {
	MaxRetries       int
	BackoffBase      time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = breaker.DefaultThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = breaker.DefaultCooldown
	}
}

// WorkerStatus is one worker's line in a status report.
type WorkerStatus struct {
	BotType    worker.BotType
	Configured bool
	Health     breaker.HealthState
	Circuit    breaker.State
	Connection *worker.Connection
}

// Coordinator composes the worker clients, their breakers and the health
// monitor, and keeps the shared session store and local queue state current
// as operations succeed. Construct one at process start and pass it down;
// it is safe for concurrent use.
type Coordinator struct {
	cfg      Config
	clients  Clients
	breakers [3]*breaker.Breaker
	health   *breaker.HealthMonitor
	sessions *session.Store
	queues   *queue.Manager

	ttsMu sync.RWMutex
	tts   TTSQueue

	// test seams
	sleep      func(ctx context.Context, d time.Duration) error
	randInt63n func(n int64) int64
	now        func() time.Time
}

// New wires a Coordinator and registers a health probe for every configured
// worker. Run the probes with go c.RunHealth(ctx).
func New(cfg Config, clients Clients, health *breaker.HealthMonitor, sessions *session.Store, queues *queue.Manager) *Coordinator {
	cfg.applyDefaults()
	c := &Coordinator{
		cfg:        cfg,
		clients:    clients,
		health:     health,
		sessions:   sessions,
		queues:     queues,
		sleep:      defaultSleep,
		randInt63n: defaultRandInt63n,
		now:        time.Now,
	}
	for _, t := range worker.AllBotTypes() {
		c.breakers[t] = breaker.New(cfg.FailureThreshold, cfg.Cooldown)
		if cl := clients.client(t); cl != nil {
			t := t
			health.Register(t, func(ctx context.Context) error {
				probeCtx, cancel := context.WithTimeout(ctx, worker.CallTimeout)
				defer cancel()
				_, err := cl.Health(probeCtx)
				return err
			})
		}
	}
	return c
}

// SetTTSQueue installs the optional durable TTS queue.
func (c *Coordinator) SetTTSQueue(q TTSQueue) {
	c.ttsMu.Lock()
	defer c.ttsMu.Unlock()
	c.tts = q
}

// RunHealth runs the periodic worker health probes until ctx is done.
func (c *Coordinator) RunHealth(ctx context.Context) {
	c.health.Run(ctx)
}

func (c *Coordinator) breakerFor(t worker.BotType) *breaker.Breaker {
	return c.breakers[t]
}

// guard returns a failure when a call to the worker must not be issued:
// unregistered client, open circuit, or a health probe reporting not-ready.
func (c *Coordinator) guard(t worker.BotType) *Result {
	if c.clients.client(t) == nil {
		r := fail(KindNotConfigured, "%s worker is not configured", t)
		return &r
	}
	if !c.breakerFor(t).Allow() {
		r := fail(KindUnavailable, "%s worker unavailable: circuit open", t)
		return &r
	}
	if !c.health.Ready(t) {
		st := c.health.State(t)
		r := fail(KindUnavailable, "%s worker unavailable: not ready (%s)", t, st.LastError)
		return &r
	}
	return nil
}

// EnsureConnected makes sure the worker's voice session for the guild sits in
// channelID. Workers auto-follow the orchestrator into channels, so after
// finding the worker elsewhere we first poll briefly for that signal and only
// then issue an explicit join.
func (c *Coordinator) EnsureConnected(ctx context.Context, t worker.BotType, guildID, channelID string) Result {
	if channelID == "" {
		return fail(KindInvalidTarget, "no voice channel to connect %s worker to", t)
	}
	if r := c.guard(t); r != nil {
		return *r
	}
	cl := c.clients.client(t)
	br := c.breakerFor(t)

	connected, err := c.checkState(ctx, cl, br, guildID, channelID)
	if err == nil && connected {
		c.markConnected(ctx, t, guildID, channelID)
		return ok("already connected")
	}

	for i := 0; i < autoFollowAttempts; i++ {
		if serr := c.sleep(ctx, autoFollowInterval); serr != nil {
			return fail(KindTransport, "connect %s worker: %v", t, serr)
		}
		// state polls feed the breaker too; stop polling once it opens
		if !br.Allow() {
			return fail(KindUnavailable, "%s worker unavailable: circuit open", t)
		}
		connected, err = c.checkState(ctx, cl, br, guildID, channelID)
		if err == nil && connected {
			c.markConnected(ctx, t, guildID, channelID)
			return ok("connected")
		}
	}
	if !br.Allow() {
		return fail(KindUnavailable, "%s worker unavailable: circuit open", t)
	}

	var join worker.JoinResponse
	err = c.requestWithRetry(ctx, br, true, func(ctx context.Context) error {
		var jerr error
		join, jerr = cl.Join(ctx, guildID, channelID)
		return jerr
	})
	if err != nil {
		return fail(KindTransport, "join %s worker to channel: %v", t, err)
	}
	if join.Status != worker.StatusJoined && join.Status != worker.StatusAlreadyConnected {
		return fail(KindUpstream, "%s worker refused join: %s", t, upstreamMessage(join.Status, join.Message))
	}
	c.markConnected(ctx, t, guildID, channelID)
	return ok("connected")
}

func (c *Coordinator) checkState(ctx context.Context, cl Client, br failureRecorder, guildID, channelID string) (bool, error) {
	st, err := cl.GetState(ctx, guildID)
	if err != nil {
		br.Failure()
		return false, err
	}
	br.Success()
	return st.Connected && st.ChannelID == channelID, nil
}

// markConnected records the successful connection in the shared store and the
// local queue state. Store writes are best-effort; connection state is
// re-derivable from the worker on the next status poll.
func (c *Coordinator) markConnected(ctx context.Context, t worker.BotType, guildID, channelID string) {
	if err := c.sessions.SetActive(ctx, guildID, channelID); err != nil {
		log.Printf("[WARN] [Coordinator] Failed to store active session for guild %s: %v", guildID, err)
	}
	if err := c.sessions.SetWorkerStatus(ctx, t, guildID, worker.Connection{
		ChannelID:     channelID,
		Connected:     true,
		LastHeartbeat: c.now(),
	}); err != nil {
		log.Printf("[WARN] [Coordinator] Failed to store %s worker status for guild %s: %v", t, guildID, err)
	}
	if t == worker.Music {
		c.queues.Connect(guildID, channelID)
		if vol, err := c.sessions.GetVolume(ctx, guildID, t); err == nil {
			_ = c.queues.WithLock(guildID, func(st *queue.GuildState) error {
				st.Volume = vol
				return nil
			})
		}
	}
}

// Disconnect issues a best-effort leave to one worker and clears its
// connection record. The leave RPC honors the circuit and health guards like
// every other call; the local and store cleanup happens regardless, so a
// guarded-off worker still loses its stale session records.
func (c *Coordinator) Disconnect(ctx context.Context, t worker.BotType, guildID string) Result {
	cl := c.clients.client(t)
	if cl == nil {
		return fail(KindNotConfigured, "%s worker is not configured", t)
	}

	guarded := c.guard(t)
	var err error
	if guarded == nil {
		err = c.requestWithRetry(ctx, c.breakerFor(t), true, func(ctx context.Context) error {
			_, lerr := cl.Leave(ctx, guildID)
			return lerr
		})
	}
	if cerr := c.sessions.ClearWorkerStatus(ctx, t, guildID); cerr != nil {
		log.Printf("[WARN] [Coordinator] Failed to clear %s worker status for guild %s: %v", t, guildID, cerr)
	}
	if t == worker.Music {
		c.queues.Disconnect(guildID)
	}
	if guarded != nil {
		return *guarded
	}
	if err != nil {
		return fail(KindTransport, "leave %s worker: %v", t, err)
	}
	return ok("disconnected")
}

// DisconnectAll leaves all configured workers concurrently. One worker's
// failure never blocks the others, and the guild session is cleared
// regardless of the outcomes.
func (c *Coordinator) DisconnectAll(ctx context.Context, guildID string) Result {
	var wg sync.WaitGroup
	results := make([]Result, len(worker.AllBotTypes()))
	for _, t := range worker.AllBotTypes() {
		if c.clients.client(t) == nil {
			continue
		}
		wg.Add(1)
		go func(t worker.BotType) {
			defer wg.Done()
			results[t] = c.Disconnect(ctx, t, guildID)
		}(t)
	}
	wg.Wait()

	if err := c.sessions.ClearActive(ctx, guildID); err != nil {
		log.Printf("[WARN] [Coordinator] Failed to clear active session for guild %s: %v", guildID, err)
	}

	for _, t := range worker.AllBotTypes() {
		if r := results[t]; r.Kind == KindTransport || r.Kind == KindUnavailable {
			return fail(r.Kind, "disconnected with errors: %s", r.Message)
		}
	}
	return ok("disconnected")
}

// requireSession fails playback operations for guilds with neither a local
// voice state nor a shared active-session record. The local check is enough on
// the instance that joined; the store covers this instance after a restart.
func (c *Coordinator) requireSession(ctx context.Context, guildID string) *Result {
	connected := false
	_ = c.queues.WithLock(guildID, func(st *queue.GuildState) error {
		connected = st.ChannelID != ""
		return nil
	})
	if connected {
		return nil
	}
	active, err := c.sessions.GetActive(ctx, guildID)
	if err != nil {
		log.Printf("[WARN] [Coordinator] Failed to read active session for guild %s: %v", guildID, err)
	}
	if active != nil {
		return nil
	}
	r := fail(KindNotConnected, "no active voice session for this guild")
	return &r
}

// call runs one guarded, retried domain operation and refreshes the guild
// session TTL on success.
func (c *Coordinator) call(ctx context.Context, t worker.BotType, guildID, op string, idempotent bool, req worker.OpRequest) (worker.OpResponse, *Result) {
	if r := c.guard(t); r != nil {
		return worker.OpResponse{}, r
	}
	cl := c.clients.client(t)
	req.GuildID = guildID

	var resp worker.OpResponse
	err := c.requestWithRetry(ctx, c.breakerFor(t), idempotent, func(ctx context.Context) error {
		var cerr error
		resp, cerr = cl.Call(ctx, op, req)
		return cerr
	})
	if err != nil {
		r := fail(KindTransport, "%s %s failed: %v", t, op, err)
		return resp, &r
	}
	if resp.Status != worker.StatusSuccess {
		r := fail(KindUpstream, "%s %s: %s", t, op, upstreamMessage(resp.Status, resp.Message))
		return resp, &r
	}
	if err := c.sessions.Refresh(ctx, guildID); err != nil {
		log.Printf("[WARN] [Coordinator] Failed to refresh session for guild %s: %v", guildID, err)
	}
	return resp, nil
}

// EnqueueTrack sends tracks to the music worker and mirrors them into the
// local staging queue for snapshots. Not retried: a duplicate enqueue would
// double the tracks.
func (c *Coordinator) EnqueueTrack(ctx context.Context, guildID, userID string, tracks []worker.Track) Result {
	if r := c.requireSession(ctx, guildID); r != nil {
		return *r
	}
	resp, failure := c.call(ctx, worker.Music, guildID, "enqueue", false, worker.OpRequest{
		UserID: userID,
		Tracks: tracks,
	})
	if failure != nil {
		return *failure
	}

	_ = c.queues.WithLock(guildID, func(st *queue.GuildState) error {
		st.LastUserID = userID
		rest := tracks
		if resp.NowPlaying != nil {
			st.StartTrack(*resp.NowPlaying, c.now())
			// the worker consumed the first track to start playback
			if len(rest) > 0 && rest[0].Title == resp.NowPlaying.Title {
				rest = rest[1:]
			}
		}
		st.Queue = append(st.Queue, rest...)
		return nil
	})

	r := ok(responseMessage(resp, fmt.Sprintf("queued %d track(s)", len(tracks))))
	r.NowPlaying = resp.NowPlaying
	return r
}

// SpeakTTS voices text in the guild's channel. When a durable TTS queue is
// configured the request goes there first so the caller is not coupled to
// worker availability; a direct RPC is the fallback.
func (c *Coordinator) SpeakTTS(ctx context.Context, guildID, channelID, userID, text, voice string) Result {
	c.ttsMu.RLock()
	q := c.tts
	c.ttsMu.RUnlock()
	if q != nil {
		if err := q.Enqueue(ctx, guildID, channelID, userID, text, voice); err == nil {
			// a queued utterance is guild activity even before the consumer
			// replays it
			if rerr := c.sessions.Refresh(ctx, guildID); rerr != nil {
				log.Printf("[WARN] [Coordinator] Failed to refresh session for guild %s: %v", guildID, rerr)
			}
			return ok("speech queued")
		} else {
			log.Printf("[WARN] [Coordinator] TTS queue rejected job for guild %s, falling back to direct call: %v", guildID, err)
		}
	}
	return c.SpeakDirect(ctx, guildID, channelID, userID, text, voice)
}

// SpeakDirect bypasses the durable queue and calls the TTS worker now. Also
// used by the queue's consumer to replay queued jobs.
func (c *Coordinator) SpeakDirect(ctx context.Context, guildID, channelID, userID, text, voice string) Result {
	if channelID != "" {
		if r := c.EnsureConnected(ctx, worker.TTS, guildID, channelID); !r.Success {
			return r
		}
	}
	_, failure := c.call(ctx, worker.TTS, guildID, "speak", false, worker.OpRequest{
		UserID: userID,
		Text:   text,
		Voice:  voice,
	})
	if failure != nil {
		return *failure
	}
	return ok("speaking")
}

// Speak adapts SpeakDirect to a plain error return for the durable queue's
// consumer.
func (c *Coordinator) Speak(ctx context.Context, guildID, channelID, userID, text, voice string) error {
	if r := c.SpeakDirect(ctx, guildID, channelID, userID, text, voice); !r.Success {
		return fmt.Errorf("speak in guild %s: %s", guildID, r.Message)
	}
	return nil
}

// PlaySoundboard plays one sound effect.
func (c *Coordinator) PlaySoundboard(ctx context.Context, guildID, userID, sfxID string, volume float64) Result {
	_, failure := c.call(ctx, worker.Soundboard, guildID, "sound", false, worker.OpRequest{
		UserID: userID,
		SfxID:  sfxID,
		Volume: volume,
	})
	if failure != nil {
		return *failure
	}
	return ok("playing sound")
}

// SetVolume sets an absolute volume on a worker and persists it.
func (c *Coordinator) SetVolume(ctx context.Context, t worker.BotType, guildID string, volume float64) Result {
	_, failure := c.call(ctx, t, guildID, "volume", true, worker.OpRequest{Volume: volume})
	if failure != nil {
		return *failure
	}
	if err := c.sessions.SetVolume(ctx, guildID, t, volume); err != nil {
		log.Printf("[WARN] [Coordinator] Failed to persist volume for guild %s: %v", guildID, err)
	}
	_ = c.queues.WithLock(guildID, func(st *queue.GuildState) error {
		st.Volume = volume
		return nil
	})
	return ok(fmt.Sprintf("volume set to %.0f%%", volume*100))
}

// Skip advances the music worker past the current track. Never retried: a
// second skip would drop an extra track.
func (c *Coordinator) Skip(ctx context.Context, guildID string, count int) Result {
	if r := c.requireSession(ctx, guildID); r != nil {
		return *r
	}
	resp, failure := c.call(ctx, worker.Music, guildID, "skip", false, worker.OpRequest{Count: count})
	if failure != nil {
		return *failure
	}
	_ = c.queues.WithLock(guildID, func(st *queue.GuildState) error {
		if resp.NowPlaying != nil {
			st.StartTrack(*resp.NowPlaying, c.now())
		} else {
			st.StopTrack()
		}
		for i := 0; i < count && len(st.Queue) > 0; i++ {
			st.Queue = st.Queue[1:]
		}
		return nil
	})
	r := ok(responseMessage(resp, "skipped"))
	r.NowPlaying = resp.NowPlaying
	return r
}

// TogglePause flips the music worker between paused and playing. Never
// retried: a duplicate toggle would undo itself.
func (c *Coordinator) TogglePause(ctx context.Context, guildID string) Result {
	if r := c.requireSession(ctx, guildID); r != nil {
		return *r
	}
	resp, failure := c.call(ctx, worker.Music, guildID, "pause", false, worker.OpRequest{})
	if failure != nil {
		return *failure
	}
	paused := resp.Paused != nil && *resp.Paused
	_ = c.queues.WithLock(guildID, func(st *queue.GuildState) error {
		if paused {
			st.Pause(c.now())
		} else {
			st.Resume(c.now())
		}
		return nil
	})
	if paused {
		return ok("paused")
	}
	return ok("resumed")
}

// Stop halts playback, keeping the voice connection.
func (c *Coordinator) Stop(ctx context.Context, guildID string) Result {
	if r := c.requireSession(ctx, guildID); r != nil {
		return *r
	}
	_, failure := c.call(ctx, worker.Music, guildID, "stop", true, worker.OpRequest{})
	if failure != nil {
		return *failure
	}
	_ = c.queues.WithLock(guildID, func(st *queue.GuildState) error {
		st.StopTrack()
		return nil
	})
	return ok("stopped")
}

// ClearQueue empties the music worker's queue and the local staging copy.
func (c *Coordinator) ClearQueue(ctx context.Context, guildID string) Result {
	if r := c.requireSession(ctx, guildID); r != nil {
		return *r
	}
	_, failure := c.call(ctx, worker.Music, guildID, "clear", true, worker.OpRequest{})
	if failure != nil {
		return *failure
	}
	_ = c.queues.WithLock(guildID, func(st *queue.GuildState) error {
		st.Queue = nil
		return nil
	})
	return ok("queue cleared")
}

// GetQueue fetches the music worker's authoritative queue.
func (c *Coordinator) GetQueue(ctx context.Context, guildID string) Result {
	if r := c.requireSession(ctx, guildID); r != nil {
		return *r
	}
	resp, failure := c.call(ctx, worker.Music, guildID, "queue", true, worker.OpRequest{})
	if failure != nil {
		return *failure
	}
	r := ok(fmt.Sprintf("%d track(s) queued", len(resp.Queue)))
	r.Queue = resp.Queue
	r.NowPlaying = resp.NowPlaying
	return r
}

// ToggleAutoplay flips the music worker's autoplay mode. Never retried.
func (c *Coordinator) ToggleAutoplay(ctx context.Context, guildID string) Result {
	if r := c.requireSession(ctx, guildID); r != nil {
		return *r
	}
	resp, failure := c.call(ctx, worker.Music, guildID, "autoplay", false, worker.OpRequest{})
	if failure != nil {
		return *failure
	}
	r := ok(responseMessage(resp, "autoplay toggled"))
	if resp.Autoplay != nil {
		r.Autoplay = *resp.Autoplay
	}
	return r
}

// Replay restarts the current track from the beginning.
func (c *Coordinator) Replay(ctx context.Context, guildID string) Result {
	if r := c.requireSession(ctx, guildID); r != nil {
		return *r
	}
	resp, failure := c.call(ctx, worker.Music, guildID, "replay", true, worker.OpRequest{})
	if failure != nil {
		return *failure
	}
	_ = c.queues.WithLock(guildID, func(st *queue.GuildState) error {
		if st.Current != nil {
			st.StartTrack(*st.Current, c.now())
		}
		return nil
	})
	return ok(responseMessage(resp, "replaying"))
}

// GetAllWorkerStatus reports health, circuit and connection state for every
// worker type. Local state only; no worker RPCs are issued.
func (c *Coordinator) GetAllWorkerStatus(ctx context.Context, guildID string) []WorkerStatus {
	out := make([]WorkerStatus, 0, len(worker.AllBotTypes()))
	for _, t := range worker.AllBotTypes() {
		ws := WorkerStatus{
			BotType:    t,
			Configured: c.clients.client(t) != nil,
			Health:     c.health.State(t),
			Circuit:    c.breakerFor(t).Snapshot(),
		}
		if ws.Configured {
			conn, err := c.sessions.GetWorkerStatus(ctx, t, guildID)
			if err != nil {
				log.Printf("[WARN] [Coordinator] Failed to read %s worker status for guild %s: %v", t, guildID, err)
			}
			ws.Connection = conn
		}
		out = append(out, ws)
	}
	return out
}

// --- crash-recovery hooks, consumed by the snapshot store ---

// Rejoin reconnects the music worker to a channel during snapshot restore.
func (c *Coordinator) Rejoin(ctx context.Context, guildID, channelID string) error {
	if r := c.EnsureConnected(ctx, worker.Music, guildID, channelID); !r.Success {
		return fmt.Errorf("rejoin guild %s: %s", guildID, r.Message)
	}
	return nil
}

// ResumePlayback restarts a track at a saved position after a restore.
func (c *Coordinator) ResumePlayback(ctx context.Context, guildID string, t worker.Track, positionMs int64, paused bool) error {
	_, failure := c.call(ctx, worker.Music, guildID, "enqueue", false, worker.OpRequest{
		Tracks:     []worker.Track{t},
		PositionMs: positionMs,
	})
	if failure != nil {
		return fmt.Errorf("resume playback for guild %s: %s", guildID, failure.Message)
	}
	if paused {
		if r := c.TogglePause(ctx, guildID); !r.Success {
			return fmt.Errorf("re-pause guild %s: %s", guildID, r.Message)
		}
	}
	_ = c.queues.WithLock(guildID, func(st *queue.GuildState) error {
		st.ResumeTrack(t, positionMs, paused, c.now())
		return nil
	})
	return nil
}

// RestoreVolume reapplies a saved volume during restore.
func (c *Coordinator) RestoreVolume(ctx context.Context, guildID string, volume float64) error {
	if r := c.SetVolume(ctx, worker.Music, guildID, volume); !r.Success {
		return fmt.Errorf("restore volume for guild %s: %s", guildID, r.Message)
	}
	return nil
}

// Queues exposes the local queue manager for snapshot bookkeeping.
func (c *Coordinator) Queues() *queue.Manager { return c.queues }

// Sessions exposes the shared session store.
func (c *Coordinator) Sessions() *session.Store { return c.sessions }

func upstreamMessage(status, message string) string {
	if message != "" {
		return message
	}
	return fmt.Sprintf("status %q", status)
}

func responseMessage(resp worker.OpResponse, fallback string) string {
	if resp.Message != "" {
		return resp.Message
	}
	return fallback
}
