// Package history keeps each session's ordered list of past searches.
//
// Get and Put exchange copies: a list returned by Get is detached from the
// store, so a caller that changes it must Put it back for the change to be
// seen. Update performs the same read-modify-write under the store lock and
// is what concurrent writers (the session hub and the poller) use.
package history
