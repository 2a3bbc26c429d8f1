// Package auth guards tubedrift-server's gRPC and REST surfaces with a shared
// API key.
//
// APIKeyInterceptor and APIKeyStreamInterceptor check the key in gRPC
// metadata; methods passed as open (the health Check) skip the check.
// HTTPMiddleware applies the same rule to REST requests and the session
// WebSocket upgrade.
//
// With mode != "apikey" or an empty key every call passes. Otherwise a wrong
// or missing key yields codes.Unauthenticated, or 401 over HTTP.
package auth
