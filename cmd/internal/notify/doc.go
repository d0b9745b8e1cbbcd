// Package notify is the server side of the notification stream.
//
// A Hub keeps the live subscribers of every user and fans events out to them.
// Handler exposes the stream to clients as Server-Sent Events on
// GET /notifications/stream and as a WebSocket on GET /notifications/ws.
// Events are never persisted: a user without an open stream simply misses them.
package notify
