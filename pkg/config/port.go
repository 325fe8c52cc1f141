package config

import (
	"log/slog"
	"strconv"
	"strings"
)

const (
	// DefaultPort is used whenever the configured port cannot be used.
	DefaultPort = 4000
	maxPort     = 65535
)

// ResolvePort parses a numeric-looking port value. Values that do not parse,
// are non-positive, or exceed the TCP port range resolve to DefaultPort, and
// exactly one diagnostic record is written to logger for that fallback.
// Resolution never retries and performs no I/O.
func ResolvePort(raw string, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		logger.Info("port not configured, using default port", "default", DefaultPort)
		return DefaultPort
	}

	port, err := strconv.Atoi(value)
	var reason string
	switch {
	case err != nil:
		reason = "not an integer"
	case port <= 0:
		reason = "not positive"
	case port > maxPort:
		reason = "exceeds tcp port range"
	default:
		return port
	}
	logger.Warn("invalid port, using default port",
		"value", raw,
		"reason", reason,
		"default", DefaultPort,
	)
	return DefaultPort
}
