package worker

import "time"

// BotType identifies one class of voice worker process. The set is closed:
// every coordinator code path switches over these three values, so an unknown
// worker type cannot appear at runtime.
type BotType int

const (
	Music BotType = iota
	TTS
	Soundboard
)

var botTypeNames = [...]string{"music", "tts", "soundboard"}

func (t BotType) String() string {
	if t < 0 || int(t) >= len(botTypeNames) {
		return "unknown"
	}
	return botTypeNames[t]
}

// AllBotTypes returns the worker types in a fixed order.
func AllBotTypes() []BotType {
	return []BotType{Music, TTS, Soundboard}
}

// Track is the immutable description of one playable item, exchanged as-is
// between the local queue, snapshots and worker RPC payloads.
type Track struct {
	Title        string `json:"title"`
	URL          string `json:"url,omitempty"`
	Duration     int    `json:"duration,omitempty"` // seconds, 0 when unknown
	IsLocal      bool   `json:"is_local"`
	IsSoundboard bool   `json:"is_soundboard"`
	Source       string `json:"source,omitempty"`
}

// --- RPC payloads ---

// Status values a worker reports in its responses.
const (
	StatusSuccess          = "success"
	StatusJoined           = "joined"
	StatusAlreadyConnected = "already_connected"
)

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
}

type StateRequest struct {
	GuildID string `json:"guild_id"`
}

type StateResponse struct {
	Connected bool    `json:"connected"`
	ChannelID string  `json:"channel_id,omitempty"`
	Playing   bool    `json:"playing,omitempty"`
	Volume    float64 `json:"volume,omitempty"`
}

type JoinRequest struct {
	RequestID string `json:"request_id"`
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
}

type JoinResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type LeaveRequest struct {
	RequestID string `json:"request_id"`
	GuildID   string `json:"guild_id"`
}

type LeaveResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// OpRequest carries a domain operation to a worker. Fields beyond RequestID
// and GuildID are operation-specific and omitted when unused.
type OpRequest struct {
	RequestID  string  `json:"request_id"`
	GuildID    string  `json:"guild_id"`
	UserID     string  `json:"user_id,omitempty"`
	Tracks     []Track `json:"tracks,omitempty"`
	PositionMs int64   `json:"position_ms,omitempty"`
	Count      int     `json:"count,omitempty"`
	Volume     float64 `json:"volume,omitempty"`
	Text       string  `json:"text,omitempty"`
	Voice      string  `json:"voice,omitempty"`
	SfxID      string  `json:"sfx_id,omitempty"`
}

// OpResponse is the common shape of domain operation replies. Optional fields
// are only populated by the operations that produce them (getQueue fills
// Queue, skip fills NowPlaying, and so on).
type OpResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message,omitempty"`
	Queue      []Track `json:"queue,omitempty"`
	NowPlaying *Track  `json:"now_playing,omitempty"`
	Paused     *bool   `json:"paused,omitempty"`
	Autoplay   *bool   `json:"autoplay,omitempty"`
	Volume     float64 `json:"volume,omitempty"`
}

// Connection is the per-(worker,guild) connection record kept in the shared
// session store.
type Connection struct {
	ChannelID     string    `json:"channelId"`
	Connected     bool      `json:"connected"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}
