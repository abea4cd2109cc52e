// Package notifier delivers operator alerts.
//
// Alerts are short, high-signal messages about posts that failed for good
// (bad credentials, rejected content, a broken template). They go through
// a queue, a worker pool, a rate limiter and a retry loop, and identical
// alerts are suppressed within a dedup window that can survive restarts
// through the storage backend.
//
// # Transport
//
// Delivery goes through a Sender: Telegram when a bot token and chat are
// configured, otherwise the log. An alert whose delivery fails for good is
// written to the log as well, so nothing is lost silently.
package notifier
