// Package notifications keeps one long-lived subscription to the user's
// notification stream and exposes the most recent events.
//
// A dropped stream is retried once after a fixed delay. The retry is skipped
// when the client is already connected again by the time it fires, or when the
// user disconnected on purpose.
package notifications
