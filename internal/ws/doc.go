// Package ws streams page views to browsers over WebSocket.
//
// Hub.Publish(view) is called for every pipeline output. Each message is
//
//	{"event": "page", "data": PageView}
//
// A newly connected client is sent the current view straight away, the same
// replay-on-subscribe contract the pipeline's output follows. Run optionally
// re-sends the current view on an interval and closes every client when its
// context ends. Slow clients whose buffer fills are disconnected.
package ws
