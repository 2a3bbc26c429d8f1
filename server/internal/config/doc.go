// Package config loads the tubedrift configuration from a YAML file.
//
// Sections:
//   - server    : HTTP/gRPC ports and API key authentication
//   - cache     : result TTL (default 60s) and per-fetch timeout
//   - poller    : drift poll interval per session (default 20s)
//   - dispatcher: upstream worker pool size, queue and inbox depth
//   - upstream  : provider backend (http | elasticsearch), auth, rate limit
//   - notify    : extra drift notification sinks (webhooks, kafka)
//   - log       : log level
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, onChange) reloads the file on write and hands the new
// Config to onChange; an invalid file keeps the previous config active.
package config
