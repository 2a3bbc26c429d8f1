// Package cache is the shared TTL cache sitting in front of the upstream
// provider.
//
// Keys are namespaced "<kind>:::<identifier>" (see types.Kind). Entries
// expire lazily: an entry older than the TTL is shadowed on the next lookup
// but stays in the map until it is overwritten. There is no size bound.
//
// One Cache is constructed in main and handed to the dispatcher and to every
// session poller. GetOrFetch is the only path that calls upstream; it admits
// at most one fetch per key at a time, and concurrent callers missing on the
// same key wait for and share that one result. Failed fetches are never cached.
package cache
