// Package upstream adapts external search/metadata providers to the Provider
// interface the rest of tubedrift fetches through.
//
// Every call is slow and fallible. Adapters wrap failures so that
// errors.Is(err, types.ErrNotFound) identifies an unknown entity and
// errors.Is(err, types.ErrUpstream) identifies anything else that went wrong
// on the provider side.
//
// New(cfg) builds the configured backend (HTTPProvider or ElasticProvider)
// wrapped in a rate limiter. With upstream.channel_feed_url set, a
// FeedProvider answers channel video listings from the channel's Atom feed.
// Funcs lets plain functions stand in for a provider.
package upstream
