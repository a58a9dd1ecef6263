package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/breaker"
	"maestro/internal/queue"
	"maestro/internal/session"
	"maestro/internal/worker"
)

// fakeClient is a scriptable worker endpoint that records every call.
type fakeClient struct {
	mu sync.Mutex

	stateCalls int
	joinCalls  int
	leaveCalls int
	opCalls    []string

	stateErr   error
	stateResp  worker.StateResponse
	joinErr    error
	joinResp   worker.JoinResponse
	leaveErr   error
	callErr    error
	callResp   worker.OpResponse
	stateAfter int // report connected starting with this call number (0 = per stateResp)
}

func (f *fakeClient) Health(ctx context.Context) (worker.HealthResponse, error) {
	return worker.HealthResponse{OK: true}, nil
}

func (f *fakeClient) GetState(ctx context.Context, guildID string) (worker.StateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls++
	if f.stateErr != nil {
		return worker.StateResponse{}, f.stateErr
	}
	if f.stateAfter > 0 && f.stateCalls >= f.stateAfter {
		return worker.StateResponse{Connected: true, ChannelID: "ch1"}, nil
	}
	return f.stateResp, nil
}

func (f *fakeClient) Join(ctx context.Context, guildID, channelID string) (worker.JoinResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinCalls++
	if f.joinErr != nil {
		return worker.JoinResponse{}, f.joinErr
	}
	if f.joinResp.Status == "" {
		return worker.JoinResponse{Status: worker.StatusJoined}, nil
	}
	return f.joinResp, nil
}

func (f *fakeClient) Leave(ctx context.Context, guildID string) (worker.LeaveResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaveCalls++
	if f.leaveErr != nil {
		return worker.LeaveResponse{}, f.leaveErr
	}
	return worker.LeaveResponse{Status: worker.StatusSuccess}, nil
}

func (f *fakeClient) Call(ctx context.Context, op string, req worker.OpRequest) (worker.OpResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opCalls = append(f.opCalls, op)
	if f.callErr != nil {
		return worker.OpResponse{}, f.callErr
	}
	if f.callResp.Status == "" {
		return worker.OpResponse{Status: worker.StatusSuccess}, nil
	}
	return f.callResp, nil
}

func (f *fakeClient) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opCalls...)
}

func newTestCoordinator(t *testing.T, clients Clients) *Coordinator {
	t.Helper()
	health := breaker.NewHealthMonitor(0)
	c := New(Config{}, clients, health, session.New(nil), queue.NewManager())
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	c.randInt63n = func(n int64) int64 { return 0 }
	return c
}

func TestCircuitOpensAfterConsecutiveTransportFailures(t *testing.T) {
	music := &fakeClient{callErr: errors.New("connection refused")}
	c := newTestCoordinator(t, Clients{Music: music})
	c.queues.Connect("g1", "ch1")
	ctx := context.Background()

	// skip is never retried, so each call records exactly one failure
	for i := 0; i < breaker.DefaultThreshold; i++ {
		r := c.Skip(ctx, "g1", 1)
		require.False(t, r.Success)
		assert.Equal(t, KindTransport, r.Kind)
	}

	before := len(music.ops())
	r := c.Skip(ctx, "g1", 1)
	require.False(t, r.Success)
	assert.Equal(t, KindUnavailable, r.Kind)
	assert.Contains(t, r.Message, "circuit open")
	assert.Equal(t, before, len(music.ops()), "an open circuit must short the call before the network")
}

func TestIdempotentOpsRetryAndOneShotOpsDoNot(t *testing.T) {
	music := &fakeClient{callErr: errors.New("connection refused")}
	c := newTestCoordinator(t, Clients{Music: music})
	c.breakers[worker.Music] = breaker.New(100, time.Minute) // keep the circuit out of the way
	c.queues.Connect("g1", "ch1")
	ctx := context.Background()

	r := c.Stop(ctx, "g1")
	require.False(t, r.Success)
	assert.Len(t, music.ops(), DefaultMaxRetries+1, "stop is safe to retry")

	music.opCalls = nil
	r = c.Skip(ctx, "g1", 1)
	require.False(t, r.Success)
	assert.Len(t, music.ops(), 1, "skip must never be retried")

	music.opCalls = nil
	r = c.EnqueueTrack(ctx, "g1", "u1", []worker.Track{{Title: "a"}})
	require.False(t, r.Success)
	assert.Len(t, music.ops(), 1, "enqueue must never be retried")
}

func TestUpstreamRefusalDoesNotTripCircuit(t *testing.T) {
	music := &fakeClient{callResp: worker.OpResponse{Status: "error", Message: "nothing playing"}}
	c := newTestCoordinator(t, Clients{Music: music})
	c.queues.Connect("g1", "ch1")
	ctx := context.Background()

	for i := 0; i < breaker.DefaultThreshold+2; i++ {
		r := c.Skip(ctx, "g1", 1)
		require.False(t, r.Success)
		assert.Equal(t, KindUpstream, r.Kind)
		assert.Contains(t, r.Message, "nothing playing")
	}
	assert.False(t, c.breakers[worker.Music].Snapshot().Open,
		"a worker that answers, even with a refusal, is healthy transport")
}

func TestEnsureConnectedIsIdempotent(t *testing.T) {
	music := &fakeClient{stateResp: worker.StateResponse{Connected: true, ChannelID: "ch1"}}
	c := newTestCoordinator(t, Clients{Music: music})

	r := c.EnsureConnected(context.Background(), worker.Music, "g1", "ch1")
	require.True(t, r.Success)
	assert.Equal(t, 0, music.joinCalls, "already-connected workers must not be re-joined")
	assert.Equal(t, 1, music.stateCalls)
}

func TestEnsureConnectedWaitsForAutoFollow(t *testing.T) {
	// worker reports connected on the second state poll, as if it followed
	// the orchestrator into the channel on its own
	music := &fakeClient{stateAfter: 2}
	c := newTestCoordinator(t, Clients{Music: music})

	r := c.EnsureConnected(context.Background(), worker.Music, "g1", "ch1")
	require.True(t, r.Success)
	assert.Equal(t, 0, music.joinCalls, "auto-follow must preempt the explicit join")
	assert.Equal(t, 2, music.stateCalls)
}

func TestEnsureConnectedFallsBackToJoin(t *testing.T) {
	music := &fakeClient{}
	c := newTestCoordinator(t, Clients{Music: music})

	r := c.EnsureConnected(context.Background(), worker.Music, "g1", "ch1")
	require.True(t, r.Success)
	assert.Equal(t, 1, music.joinCalls)
	assert.Equal(t, 1+autoFollowAttempts, music.stateCalls,
		"initial check plus the full auto-follow window precede the join")
}

func TestEnsureConnectedRejectsEmptyChannel(t *testing.T) {
	c := newTestCoordinator(t, Clients{Music: &fakeClient{}})

	r := c.EnsureConnected(context.Background(), worker.Music, "g1", "")
	require.False(t, r.Success)
	assert.Equal(t, KindInvalidTarget, r.Kind)
}

func TestPlaybackOpsRequireActiveSession(t *testing.T) {
	music := &fakeClient{}
	c := newTestCoordinator(t, Clients{Music: music})

	r := c.Skip(context.Background(), "g1", 1)
	require.False(t, r.Success)
	assert.Equal(t, KindNotConnected, r.Kind)
	assert.Empty(t, music.ops(), "a guild without a session must not reach the worker")
}

func TestOpsAgainstUnconfiguredWorker(t *testing.T) {
	c := newTestCoordinator(t, Clients{Music: &fakeClient{}})

	r := c.SpeakDirect(context.Background(), "g1", "", "u1", "hello", "")
	require.False(t, r.Success)
	assert.Equal(t, KindNotConfigured, r.Kind)
}

func TestDisconnectShortCircuitsOpenCircuit(t *testing.T) {
	music := &fakeClient{callErr: errors.New("connection refused")}
	c := newTestCoordinator(t, Clients{Music: music})
	c.queues.Connect("g1", "ch1")
	ctx := context.Background()

	for i := 0; i < breaker.DefaultThreshold; i++ {
		require.False(t, c.Skip(ctx, "g1", 1).Success)
	}
	require.False(t, c.breakers[worker.Music].Allow())

	r := c.Disconnect(ctx, worker.Music, "g1")
	require.False(t, r.Success)
	assert.Equal(t, KindUnavailable, r.Kind)
	assert.Equal(t, 0, music.leaveCalls, "an open circuit must block the leave RPC")

	// local cleanup still happens so stale session state does not linger
	assert.Empty(t, c.queues.ActiveGuilds())
}

func TestEnsureConnectedStopsPollingWhenCircuitOpens(t *testing.T) {
	music := &fakeClient{stateErr: errors.New("connection refused")}
	c := newTestCoordinator(t, Clients{Music: music})

	r := c.EnsureConnected(context.Background(), worker.Music, "g1", "ch1")
	require.False(t, r.Success)
	assert.Equal(t, KindUnavailable, r.Kind)
	assert.Equal(t, breaker.DefaultThreshold, music.stateCalls,
		"polling must stop the moment the circuit opens")
	assert.Equal(t, 0, music.joinCalls, "the join fallback must not fire against an open circuit")
}

func TestRetryBackoffGrowsPerAttempt(t *testing.T) {
	music := &fakeClient{callErr: errors.New("connection refused")}
	c := newTestCoordinator(t, Clients{Music: music})
	c.queues.Connect("g1", "ch1")

	var delays []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	require.False(t, c.Stop(context.Background(), "g1").Success)

	require.Len(t, delays, DefaultMaxRetries, "one backoff pause between each pair of attempts")
	assert.Equal(t, DefaultBackoffBase, delays[0])
	assert.Equal(t, 2*DefaultBackoffBase, delays[1])
	assert.Greater(t, delays[1], delays[0])
}

func TestDisconnectAllAttemptsEveryWorker(t *testing.T) {
	music := &fakeClient{leaveErr: errors.New("connection refused")}
	tts := &fakeClient{}
	sfx := &fakeClient{}
	c := newTestCoordinator(t, Clients{Music: music, TTS: tts, Soundboard: sfx})

	r := c.DisconnectAll(context.Background(), "g1")
	require.False(t, r.Success)
	assert.Equal(t, KindTransport, r.Kind)

	// the music failure must not stop the other leaves
	assert.GreaterOrEqual(t, music.leaveCalls, 1)
	assert.Equal(t, 1, tts.leaveCalls)
	assert.Equal(t, 1, sfx.leaveCalls)
}

type fakeTTSQueue struct {
	err  error
	jobs int
}

func (q *fakeTTSQueue) Enqueue(ctx context.Context, guildID, channelID, userID, text, voice string) error {
	q.jobs++
	return q.err
}

func TestSpeakTTSPrefersDurableQueue(t *testing.T) {
	tts := &fakeClient{}
	c := newTestCoordinator(t, Clients{TTS: tts})
	q := &fakeTTSQueue{}
	c.SetTTSQueue(q)

	r := c.SpeakTTS(context.Background(), "g1", "ch1", "u1", "hello", "")
	require.True(t, r.Success)
	assert.Equal(t, 1, q.jobs)
	assert.Empty(t, tts.ops(), "a queued job must not touch the worker directly")
}

func TestSpeakTTSQueuedRefreshesSession(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	sessions := session.New(rdb)

	c := New(Config{}, Clients{TTS: &fakeClient{}}, breaker.NewHealthMonitor(0), sessions, queue.NewManager())
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	c.SetTTSQueue(&fakeTTSQueue{})

	ctx := context.Background()
	require.NoError(t, sessions.SetActive(ctx, "g1", "ch1"))
	mr.FastForward(10 * time.Minute)

	require.True(t, c.SpeakTTS(ctx, "g1", "ch1", "u1", "hello", "").Success)
	assert.Equal(t, session.TTL, mr.TTL("session:active:g1"),
		"queued speech must slide the session expiry like any other activity")
}

func TestSpeakTTSFallsBackWhenQueueRejects(t *testing.T) {
	tts := &fakeClient{}
	c := newTestCoordinator(t, Clients{TTS: tts})
	c.SetTTSQueue(&fakeTTSQueue{err: errors.New("redis down")})

	r := c.SpeakTTS(context.Background(), "g1", "", "u1", "hello", "")
	require.True(t, r.Success)
	assert.Equal(t, []string{"speak"}, tts.ops())
}

func TestEnqueueTrackMirrorsLocalQueue(t *testing.T) {
	now := &worker.Track{Title: "a"}
	music := &fakeClient{
		stateResp: worker.StateResponse{Connected: true, ChannelID: "ch1"},
		callResp:  worker.OpResponse{Status: worker.StatusSuccess, NowPlaying: now},
	}
	c := newTestCoordinator(t, Clients{Music: music})
	ctx := context.Background()

	require.True(t, c.EnsureConnected(ctx, worker.Music, "g1", "ch1").Success)

	r := c.EnqueueTrack(ctx, "g1", "u1", []worker.Track{{Title: "a"}, {Title: "b"}})
	require.True(t, r.Success)
	require.NotNil(t, r.NowPlaying)

	_ = c.queues.WithLock("g1", func(st *queue.GuildState) error {
		require.NotNil(t, st.Current)
		assert.Equal(t, "a", st.Current.Title)
		require.Len(t, st.Queue, 1, "the now-playing track must not sit in the staging queue too")
		assert.Equal(t, "b", st.Queue[0].Title)
		assert.Equal(t, "u1", st.LastUserID)
		return nil
	})
}

func TestGetAllWorkerStatusCoversEveryType(t *testing.T) {
	c := newTestCoordinator(t, Clients{Music: &fakeClient{}})

	statuses := c.GetAllWorkerStatus(context.Background(), "g1")
	require.Len(t, statuses, 3)

	byType := map[worker.BotType]WorkerStatus{}
	for _, s := range statuses {
		byType[s.BotType] = s
	}
	assert.True(t, byType[worker.Music].Configured)
	assert.False(t, byType[worker.TTS].Configured)
	assert.False(t, byType[worker.Soundboard].Configured)
}
