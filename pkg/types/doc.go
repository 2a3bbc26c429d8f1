// Package types defines the domain types shared by every tubedrift component:
// search results, per-session search records, channel and video metadata, the
// cache key namespaces and the error taxonomy.
//
// These are plain in-memory values. The cache, history store and poller pass
// them around by value or as read-only slices; callers must not mutate a value
// they did not create.
package types
