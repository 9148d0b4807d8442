// Package api implements the pagewatch REST API.
//
// New(backend, store, guard) returns an http.Handler that serves:
//
//	GET      /api/v1/page       the latest page view; 404 before the first fetch
//	PUT|POST /api/v1/page       {"page": N} moves the watched page (202)
//	GET      /api/v1/pages      every cached page, ordered by page
//	GET      /api/v1/pages/{n}  one cached page; 404 if unknown or expired
//	GET      /api/v1/owner      state and result of the one-shot owner fetch
//	GET      /api/v1/health     fetch health window plus current page
//	GET      /api/v1/alerts     firing and recently resolved alerts
//
// All endpoints respond with Content-Type: application/json and return 405
// for unsupported methods. Only the page write passes through guard, which the
// server sets to the API key middleware.
package api
