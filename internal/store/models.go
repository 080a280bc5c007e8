// models.go -- Sentinel errors and key names for the store package.
// Used by both Postgres (durable store) and Redis (presence cache).
package store

import "errors"

// ErrNotFound is returned when a single-row lookup matches nothing.
// Callers use errors.Is to tell a missing row from an infrastructure failure.
var ErrNotFound = errors.New("not found")

// ErrAlreadyFriends is returned by AcceptInvitation when add_friend hits the
// users_followers primary key (unique_violation inside the transaction).
var ErrAlreadyFriends = errors.New("already friends")

// ErrStateUnchanged is returned when a conditional update matched no row,
// either because the row is missing or it already holds the target value.
var ErrStateUnchanged = errors.New("state unchanged")

// ErrCacheMiss is returned by Telemetry and LastSeen when the hash field is absent.
var ErrCacheMiss = errors.New("cache miss")

// Redis key layout. Telemetry hashes are per recipient, fields are senders.
const (
	// LastSeenKey is the global sorted set: member = username, score = unix seconds.
	LastSeenKey = "telemetry_last_seen"

	// NannyRetryKey holds per-user retry bookkeeping; cleared on every telemetry write.
	NannyRetryKey = "nanny_retry"
)

// TelemetryKey returns the hash holding the latest telemetry addressed to recipient.
func TelemetryKey(recipient string) string {
	return "telemetry." + recipient
}
