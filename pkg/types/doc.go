// Package types defines the JSON shapes shared by the REST API, the WebSocket
// hub and the upstream client: one repository, the organisation owner, and the
// PageView published each time the pipeline produces output.
package types
