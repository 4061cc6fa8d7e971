// Package logging provides structured logging for httpcore.
//
// This package wraps a process-wide zap logger with convenience functions
// for the logging patterns used by the connection loop, the server and the
// CLI.
//
// # Log Levels
//
//   - Debug: raw byte dumps, websocket frames, quiet disconnects
//   - Info: connections, completed requests, configuration reloads
//   - Warn: recoverable problems (parse errors, accept retries)
//   - Error: failures that end a connection or the server
//
// The level lives in a zap.AtomicLevel so SetLevel can change it while the
// server runs; the config watcher uses that for hot reload.
//
// # Structured Logging
//
//	logging.Info("Listening",
//	    zap.String("addr", addr),
//	    zap.Bool("tls", true),
//	)
//
// Request logs carry conn_id, method, path, status and duration:
//
//	logging.LogRequest(connID, "GET", "/users/7", 200, elapsed)
//
// # Configuration
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// An empty level falls back to HTTPCORE_LOG_LEVEL; when that is unset too
// the logger is a no-op, so CLI commands stay quiet by default.
package logging
