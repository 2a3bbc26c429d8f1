// Package dispatch multiplexes typed search requests through the shared
// cache. Callers get a Pending handle back immediately; the answer, success
// or typed error, arrives on it exactly once.
package dispatch
