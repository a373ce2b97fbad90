// Package ratelimit provides the Redis-backed sliding-window limiter gating
// every sensitive authentication operation.
//
// # Window semantics
//
// Sliding windows: each hit is a member in a per-identifier ZSET scored by its
// millisecond timestamp. One Lua script prunes hits older than the window,
// counts the remainder, and conditionally records the new hit, so two
// concurrent requests can never both pass on the last point.
//
// # Failure semantics
//
// The limiter fails closed. When Redis is unreachable the verdict is a denial
// wrapped in ErrStoreUnavailable, never an allow: losing the counter store must
// not suspend the brute-force guarantee.
//
// # What this package must NOT do
//
//   - Decide which bucket an endpoint belongs to (that mapping lives in the
//     policy package).
//   - Be imported outside the authcore module.
package ratelimit
