// Package poller keeps each connected session's search results fresh.
//
// Every session gets its own loop that, once per interval, re-fetches each
// tracked query straight from upstream, compares the ordered identity keys
// against what the session last saw and, if anything moved, writes the new
// results to the cache and history and sends one notification for the
// whole cycle.
package poller
