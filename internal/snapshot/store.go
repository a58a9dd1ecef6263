// Package snapshot persists each active guild's playback state to Postgres
// so a crashed or restarted orchestrator can rejoin channels and resume
// playback where it left off. Rows are written by a periodic auto-save and
// consumed (then deleted) by the startup restore pass.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"maestro/internal/queue"
	"maestro/internal/worker"
	"maestro/pkg/util"
)

const (
	// MaxAge is how old a snapshot may be and still be restored.
	MaxAge = time.Hour
	// AutoSaveInterval is the period of the background save loop.
	AutoSaveInterval = 30 * time.Second
	// saveWorkers bounds the fan-out of SaveAll.
	saveWorkers = 4
)

// restoreJoinRate paces channel rejoins during startup restoration so
// repeated voice joins stay inside the platform's rate limits.
var restoreJoinRate = rate.Every(2 * time.Second)

// ErrStale marks a snapshot older than MaxAge.
var ErrStale = errors.New("snapshot is stale")

// Row is one persisted guild snapshot.
type Row struct {
	GuildID    string
	ChannelID  string
	Queue      []worker.Track
	Current    *worker.Track
	PositionMs int64
	IsPaused   bool
	Volume     float64
	LastUserID string
	SavedAt    time.Time
}

// PlatformClient resolves guilds, channels and channel occupancy. The Discord
// bot implements it; restore refuses to rejoin anything it cannot resolve or
// that holds no humans.
type PlatformClient interface {
	GuildAvailable(guildID string) bool
	ChannelAvailable(guildID, channelID string) bool
	HumansInChannel(guildID, channelID string) (int, error)
}

// Restorer replays a snapshot through the coordinator: rejoin the channel,
// reapply volume, resume the saved track at its position.
type Restorer interface {
	Rejoin(ctx context.Context, guildID, channelID string) error
	RestoreVolume(ctx context.Context, guildID string, volume float64) error
	ResumePlayback(ctx context.Context, guildID string, t worker.Track, positionMs int64, paused bool) error
}

// Store reads and writes snapshot rows, sourcing live state from the local
// queue manager.
type Store struct {
	db     *sql.DB
	queues *queue.Manager

	now func() time.Time
}

// New creates a Store and ensures the snapshot table exists.
func New(db *sql.DB, queues *queue.Manager) (*Store, error) {
	s := &Store{db: db, queues: queues, now: time.Now}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure snapshot schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS voice_snapshots (
			guild_id      TEXT PRIMARY KEY,
			channel_id    TEXT NOT NULL,
			queue_data    JSONB NOT NULL,
			current_track JSONB,
			position_ms   BIGINT NOT NULL,
			is_paused     BOOLEAN NOT NULL,
			volume        DOUBLE PRECISION NOT NULL,
			last_user_id  TEXT,
			saved_at      TIMESTAMPTZ NOT NULL
		)`)
	return err
}

// Save persists the guild's current playback state. When nothing is playing
// and the queue is empty the row is deleted instead, so finished sessions do
// not resurrect on the next restart.
func (s *Store) Save(ctx context.Context, guildID string) error {
	var row *Row
	_ = s.queues.WithLock(guildID, func(st *queue.GuildState) error {
		if st.ChannelID == "" || (st.Current == nil && len(st.Queue) == 0) {
			return nil
		}
		r := Row{
			GuildID:    guildID,
			ChannelID:  st.ChannelID,
			Queue:      append([]worker.Track(nil), st.Queue...),
			PositionMs: st.PositionMs(s.now()),
			IsPaused:   st.Paused(),
			Volume:     st.Volume,
			LastUserID: st.LastUserID,
			SavedAt:    s.now(),
		}
		if st.Current != nil {
			cur := *st.Current
			r.Current = &cur
		}
		row = &r
		return nil
	})

	if row == nil {
		return s.delete(ctx, guildID)
	}
	return s.upsert(ctx, row)
}

// SaveAll snapshots every guild with an active local session. Guilds fail
// independently; errors are logged and the loop continues.
func (s *Store) SaveAll(ctx context.Context) {
	guilds := s.queues.ActiveGuilds()
	if len(guilds) == 0 {
		return
	}
	err := util.ForEachParallel(ctx, guilds, saveWorkers, func(ctx context.Context, guildID string) error {
		if serr := s.Save(ctx, guildID); serr != nil {
			log.Printf("[ERR] [Snapshot] Failed to save guild %s: %v", guildID, serr)
			return serr
		}
		return nil
	})
	if err == nil {
		log.Printf("[INFO] [Snapshot] Saved playback state for %d guild(s)", len(guilds))
	}
}

// Run auto-saves on a fixed interval until ctx is done. Call from main; do a
// final SaveAll during graceful shutdown.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(AutoSaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SaveAll(ctx)
		}
	}
}

// Restore attempts to bring one guild back from its snapshot. It reports
// false without error when the snapshot is missing, stale, unresolvable or
// the channel holds no humans. The row is deleted only after a successful
// restore (or when found stale).
func (s *Store) Restore(ctx context.Context, guildID string, pc PlatformClient, r Restorer) (bool, error) {
	row, err := s.load(ctx, guildID)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}

	restored, err := s.restoreRow(ctx, row, pc, r)
	if errors.Is(err, ErrStale) {
		if derr := s.delete(ctx, guildID); derr != nil {
			log.Printf("[WARN] [Snapshot] Failed to delete stale row for guild %s: %v", guildID, derr)
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !restored {
		return false, nil
	}
	if derr := s.delete(ctx, guildID); derr != nil {
		log.Printf("[WARN] [Snapshot] Failed to delete restored row for guild %s: %v", guildID, derr)
	}
	return true, nil
}

// restoreRow holds the validity checks and the actual replay, separated from
// row loading/deletion so it can be exercised without a database.
func (s *Store) restoreRow(ctx context.Context, row *Row, pc PlatformClient, r Restorer) (bool, error) {
	if s.now().Sub(row.SavedAt) > MaxAge {
		return false, fmt.Errorf("guild %s saved at %s: %w", row.GuildID, row.SavedAt.Format(time.RFC3339), ErrStale)
	}
	if !pc.GuildAvailable(row.GuildID) {
		log.Printf("[WARN] [Snapshot] Guild %s no longer resolvable, skipping restore", row.GuildID)
		return false, nil
	}
	if !pc.ChannelAvailable(row.GuildID, row.ChannelID) {
		log.Printf("[WARN] [Snapshot] Channel %s in guild %s no longer resolvable, skipping restore", row.ChannelID, row.GuildID)
		return false, nil
	}
	humans, err := pc.HumansInChannel(row.GuildID, row.ChannelID)
	if err != nil {
		return false, fmt.Errorf("count members in channel %s: %w", row.ChannelID, err)
	}
	if humans == 0 {
		log.Printf("[INFO] [Snapshot] Channel %s in guild %s has no human listeners, skipping restore", row.ChannelID, row.GuildID)
		return false, nil
	}

	if err := r.Rejoin(ctx, row.GuildID, row.ChannelID); err != nil {
		return false, err
	}

	_ = s.queues.WithLock(row.GuildID, func(st *queue.GuildState) error {
		st.ChannelID = row.ChannelID
		st.Queue = append([]worker.Track(nil), row.Queue...)
		st.Volume = row.Volume
		st.LastUserID = row.LastUserID
		return nil
	})
	if err := r.RestoreVolume(ctx, row.GuildID, row.Volume); err != nil {
		log.Printf("[WARN] [Snapshot] Failed to restore volume for guild %s: %v", row.GuildID, err)
	}

	switch {
	case row.Current != nil:
		if err := r.ResumePlayback(ctx, row.GuildID, *row.Current, row.PositionMs, row.IsPaused); err != nil {
			return false, err
		}
	case len(row.Queue) > 0:
		// nothing was playing; start the head of the queue from zero
		next := row.Queue[0]
		_ = s.queues.WithLock(row.GuildID, func(st *queue.GuildState) error {
			if len(st.Queue) > 0 {
				st.Queue = st.Queue[1:]
			}
			return nil
		})
		if err := r.ResumePlayback(ctx, row.GuildID, next, 0, false); err != nil {
			return false, err
		}
	}

	log.Printf("[INFO] [Snapshot] Restored guild %s: channel=%s queue=%d position=%dms paused=%v",
		row.GuildID, row.ChannelID, len(row.Queue), row.PositionMs, row.IsPaused)
	return true, nil
}

// RestoreAll replays every persisted snapshot at startup, paced so repeated
// channel joins respect platform rate limits. One guild's failure never
// blocks the rest. Returns how many restores succeeded out of how many rows
// were attempted.
func (s *Store) RestoreAll(ctx context.Context, pc PlatformClient, r Restorer) (restored, attempted int) {
	guilds, err := s.listGuilds(ctx)
	if err != nil {
		log.Printf("[ERR] [Snapshot] Failed to list snapshots: %v", err)
		return 0, 0
	}

	limiter := rate.NewLimiter(restoreJoinRate, 1)
	for _, guildID := range guilds {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		attempted++
		okRestore, err := s.Restore(ctx, guildID, pc, r)
		if err != nil {
			log.Printf("[ERR] [Snapshot] Restore failed for guild %s: %v", guildID, err)
			continue
		}
		if okRestore {
			restored++
		}
	}
	log.Printf("[INFO] [Snapshot] Restored %d/%d guild session(s)", restored, attempted)
	return restored, attempted
}

// --- row persistence ---

func (s *Store) upsert(ctx context.Context, row *Row) error {
	queueData, err := json.Marshal(row.Queue)
	if err != nil {
		return fmt.Errorf("marshal queue for guild %s: %w", row.GuildID, err)
	}
	var currentData []byte
	if row.Current != nil {
		currentData, err = json.Marshal(row.Current)
		if err != nil {
			return fmt.Errorf("marshal current track for guild %s: %w", row.GuildID, err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO voice_snapshots
			(guild_id, channel_id, queue_data, current_track, position_ms, is_paused, volume, last_user_id, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (guild_id) DO UPDATE SET
			channel_id    = EXCLUDED.channel_id,
			queue_data    = EXCLUDED.queue_data,
			current_track = EXCLUDED.current_track,
			position_ms   = EXCLUDED.position_ms,
			is_paused     = EXCLUDED.is_paused,
			volume        = EXCLUDED.volume,
			last_user_id  = EXCLUDED.last_user_id,
			saved_at      = EXCLUDED.saved_at`,
		row.GuildID, row.ChannelID, queueData, nullableBytes(currentData),
		row.PositionMs, row.IsPaused, row.Volume, nullableString(row.LastUserID), row.SavedAt)
	return err
}

func (s *Store) load(ctx context.Context, guildID string) (*Row, error) {
	var (
		row         Row
		queueData   []byte
		currentData []byte
		lastUserID  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT guild_id, channel_id, queue_data, current_track, position_ms, is_paused, volume, last_user_id, saved_at
		FROM voice_snapshots WHERE guild_id = $1`, guildID).
		Scan(&row.GuildID, &row.ChannelID, &queueData, &currentData,
			&row.PositionMs, &row.IsPaused, &row.Volume, &lastUserID, &row.SavedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(queueData, &row.Queue); err != nil {
		return nil, fmt.Errorf("decode queue for guild %s: %w", guildID, err)
	}
	if len(currentData) > 0 {
		var cur worker.Track
		if err := json.Unmarshal(currentData, &cur); err != nil {
			return nil, fmt.Errorf("decode current track for guild %s: %w", guildID, err)
		}
		row.Current = &cur
	}
	row.LastUserID = lastUserID.String
	return &row, nil
}

func (s *Store) listGuilds(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id FROM voice_snapshots ORDER BY saved_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) delete(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM voice_snapshots WHERE guild_id = $1`, guildID)
	return err
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
