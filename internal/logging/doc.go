// Package logging provides structured logging with per-module log levels.
//
// Records go to stdout (text or json), to the systemd journal when journald is
// reachable, and to an in-memory ring buffer served by the status API.
//
// Initialize once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Mask:   "*:info,session:debug",
//		Modules: map[string]string{
//			"nats": "warn",
//		},
//	})
//
// Then fetch a logger per module:
//
//	logger := logging.GetLogger("broker").With("unique_id", id)
//	logger.Info("Buffers allocated", "count", n)
//
// Module levels resolve in this order: explicit Modules entry, the last
// matching Mask rule, the global Level. Levels can be changed at runtime with
// SetModuleLevel.
//
// Journal entries carry SYSLOG_IDENTIFIER=camback:
//
//	journalctl -t camback MODULE=broker -f
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//	mask = "session*:debug"
//
//	[logging.modules]
//	nats = "warn"
package logging
