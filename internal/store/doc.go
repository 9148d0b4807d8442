// Package store caches the last good repo list per page.
//
// Every successful pipeline output is Put under its page number. The REST API
// serves the cache at /api/v1/pages, so pages visited earlier stay readable
// after the watched page moves on. Entries expire after the configured TTL;
// Run evicts them in the background.
package store
