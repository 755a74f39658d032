// Package ratelimit provides per-IP fixed window request counting with
// background eviction of idle entries.
//
// Every attempt counts, including the ones that get rejected, so a client
// hammering past the limit does not earn its way back in before the window
// ends. Windows are anchored at the first request a client makes after its
// previous window expired, not at wall clock minute boundaries.
//
// State is in-memory and per process. It does not protect against distributed
// attacks; that is the job of upstream filtering.
package ratelimit
