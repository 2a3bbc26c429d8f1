// Package metrics exposes process counters in the Prometheus text format.
//
// Values are read from their owners at scrape time; nothing is sampled in
// the background.
package metrics
