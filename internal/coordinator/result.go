package coordinator

import (
	"fmt"

	"maestro/internal/worker"
)

// Kind classifies a failed operation. Errors are decoded once at the RPC
// boundary and carried as a typed result everywhere above it; the coordinator
// surface never panics and never returns a bare error to its callers.
type Kind int

const (
	KindNone Kind = iota
	// KindNotConfigured: no client registered for the worker type.
	KindNotConfigured
	// KindUnavailable: circuit open or health probe reports not-ready; the
	// call was short-circuited without touching the network.
	KindUnavailable
	// KindTransport: network or timeout failure from an RPC attempt.
	KindTransport
	// KindUpstream: the worker responded but reported a non-success status.
	KindUpstream
	// KindNotConnected: no active session or local queue for the guild.
	KindNotConnected
	// KindStaleSnapshot: persisted state too old to restore.
	KindStaleSnapshot
	// KindInvalidTarget: no resolvable voice channel for the request.
	KindInvalidTarget
)

var kindNames = map[Kind]string{
	KindNone:          "none",
	KindNotConfigured: "not_configured",
	KindUnavailable:   "unavailable",
	KindTransport:     "transport",
	KindUpstream:      "upstream",
	KindNotConnected:  "not_connected",
	KindStaleSnapshot: "stale_snapshot",
	KindInvalidTarget: "invalid_target",
}

func (k Kind) String() string { return kindNames[k] }

// Result is the non-throwing outcome of every coordinator operation.
// Handlers render Message uniformly; the optional fields carry domain
// payloads for the operations that produce them.
type Result struct {
	Success bool
	Kind    Kind
	Message string

	Queue      []worker.Track
	NowPlaying *worker.Track
	Volume     float64
	Autoplay   bool
}

func ok(message string) Result {
	return Result{Success: true, Message: message}
}

func fail(kind Kind, format string, args ...any) Result {
	return Result{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
