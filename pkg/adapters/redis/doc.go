// Package redis provides the Redis-backed conversation store and distributed locker.
//
// Sessions are stored as JSON strings under "<prefix><session_id>" and indexed
// in a sorted set "<prefix>index" scored by expiry, so List can lazily drop
// sessions whose keys expired. Conditional writes use WATCH/MULTI on the
// session key.
package redis
