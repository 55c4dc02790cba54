// Package logging provides the structured logging facility used across
// parley. It wraps log/slog with a subsystem tag so that log lines from the
// OAuth flow, the stores, and the HTTP server can be filtered independently.
//
// Usage:
//
//	logging.Init(logging.LevelInfo, os.Stderr)
//	logging.Info("OAuth", "authorization started for session=%s",
//	    logging.TruncateSessionID(sessionID))
//
// Session IDs must never be logged verbatim; always pass them through
// TruncateSessionID.
package logging
