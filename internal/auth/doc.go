// Package auth provides API key authentication for pagewatch.
//
// APIKeyInterceptor(mode, header, key) returns a gRPC UnaryServerInterceptor
// that validates the API key from the named gRPC metadata header. It guards
// the gRPC health service.
//
// RequireAPIKey(mode, header, key, next) applies the same check to HTTP
// requests. The REST API wraps its write endpoint (PUT /api/v1/page) with it.
//
// When mode != "apikey" or key == "", all calls pass through (useful for local
// development with auth disabled). Keys are compared in constant time.
package auth
