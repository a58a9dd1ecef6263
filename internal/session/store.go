// Package session keeps the voice-session state every orchestrator instance
// shares: where users sit, which channel a guild's session lives in, worker
// connection status and per-worker volume. Everything is TTL-keyed redis so
// state survives an orchestrator restart and expires on its own when idle.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"maestro/internal/worker"
)

const (
	// TTL is the sliding expiry of a guild's active session.
	TTL = 30 * time.Minute
	// DefaultVolume is returned when a guild/worker pair has no stored volume.
	DefaultVolume = 0.5
)

// Active is the canonical record of a guild's voice session.
type Active struct {
	ChannelID string    `json:"channelId"`
	Timestamp time.Time `json:"timestamp"`
}

// Store wraps the shared redis instance. A Store built over a nil client is
// disabled: writes are dropped and reads report "absent", so losing redis
// degrades session features instead of failing commands outright.
type Store struct {
	rdb *redis.Client
}

// New creates a Store over rdb. rdb may be nil (disabled store).
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Enabled reports whether the store has a live redis client behind it.
func (s *Store) Enabled() bool { return s.rdb != nil }

func currentKey(guildID, userID string) string {
	return fmt.Sprintf("session:current:%s:%s", guildID, userID)
}

func lastKey(guildID, userID string) string {
	return fmt.Sprintf("session:last:%s:%s", guildID, userID)
}

func activeKey(guildID string) string {
	return fmt.Sprintf("session:active:%s", guildID)
}

func workerKey(t worker.BotType, guildID string) string {
	return fmt.Sprintf("worker:%s:%s", t, guildID)
}

func volumeKey(guildID string, t worker.BotType) string {
	return fmt.Sprintf("volume:%s:%s", guildID, t)
}

// SetCurrentChannel records the voice channel a user currently occupies.
func (s *Store) SetCurrentChannel(ctx context.Context, guildID, userID, channelID string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Set(ctx, currentKey(guildID, userID), channelID, 0).Err()
}

// GetCurrentChannel returns the user's current voice channel, or "" when the
// user is not in voice.
func (s *Store) GetCurrentChannel(ctx context.Context, guildID, userID string) (string, error) {
	return s.getString(ctx, currentKey(guildID, userID))
}

// ClearCurrentChannel deletes the current-channel key when a user leaves voice.
func (s *Store) ClearCurrentChannel(ctx context.Context, guildID, userID string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, currentKey(guildID, userID)).Err()
}

// SetLastChannel records the sticky last-known voice channel for a user.
func (s *Store) SetLastChannel(ctx context.Context, guildID, userID, channelID string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Set(ctx, lastKey(guildID, userID), channelID, 0).Err()
}

// GetLastChannel returns the user's last known voice channel, or "".
func (s *Store) GetLastChannel(ctx context.Context, guildID, userID string) (string, error) {
	return s.getString(ctx, lastKey(guildID, userID))
}

// SetActive stores the guild's active session with the sliding TTL.
func (s *Store) SetActive(ctx context.Context, guildID, channelID string) error {
	if s.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(Active{ChannelID: channelID, Timestamp: time.Now()})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, activeKey(guildID), payload, TTL).Err()
}

// GetActive returns the guild's active session, if any.
func (s *Store) GetActive(ctx context.Context, guildID string) (*Active, error) {
	if s.rdb == nil {
		return nil, nil
	}
	raw, err := s.rdb.Get(ctx, activeKey(guildID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var a Active
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode active session for guild %s: %w", guildID, err)
	}
	return &a, nil
}

// ClearActive deletes the guild's active session.
func (s *Store) ClearActive(ctx context.Context, guildID string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, activeKey(guildID)).Err()
}

// Refresh resets the active session TTL if the key still exists. Called after
// every successful worker activity so a used session never lapses mid-use.
func (s *Store) Refresh(ctx context.Context, guildID string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Expire(ctx, activeKey(guildID), TTL).Err()
}

// SetWorkerStatus records a worker's connection state for a guild.
func (s *Store) SetWorkerStatus(ctx context.Context, t worker.BotType, guildID string, conn worker.Connection) error {
	if s.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(conn)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, workerKey(t, guildID), payload, 0).Err()
}

// GetWorkerStatus returns the recorded connection state for a worker/guild
// pair, or nil when none was recorded.
func (s *Store) GetWorkerStatus(ctx context.Context, t worker.BotType, guildID string) (*worker.Connection, error) {
	if s.rdb == nil {
		return nil, nil
	}
	raw, err := s.rdb.Get(ctx, workerKey(t, guildID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var conn worker.Connection
	if err := json.Unmarshal(raw, &conn); err != nil {
		return nil, fmt.Errorf("decode worker status %s/%s: %w", t, guildID, err)
	}
	return &conn, nil
}

// ClearWorkerStatus removes the connection record after a leave.
func (s *Store) ClearWorkerStatus(ctx context.Context, t worker.BotType, guildID string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, workerKey(t, guildID)).Err()
}

// SetVolume stores the per-worker volume for a guild.
func (s *Store) SetVolume(ctx context.Context, guildID string, t worker.BotType, volume float64) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Set(ctx, volumeKey(guildID, t), strconv.FormatFloat(volume, 'f', -1, 64), 0).Err()
}

// GetVolume returns the stored volume or DefaultVolume when absent.
func (s *Store) GetVolume(ctx context.Context, guildID string, t worker.BotType) (float64, error) {
	if s.rdb == nil {
		return DefaultVolume, nil
	}
	raw, err := s.rdb.Get(ctx, volumeKey(guildID, t)).Result()
	if err == redis.Nil {
		return DefaultVolume, nil
	}
	if err != nil {
		return DefaultVolume, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return DefaultVolume, fmt.Errorf("parse volume %s/%s: %w", guildID, t, err)
	}
	return v, nil
}

func (s *Store) getString(ctx context.Context, key string) (string, error) {
	if s.rdb == nil {
		return "", nil
	}
	v, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}
