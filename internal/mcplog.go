package internal

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// NewLogger builds the structured logger for servers and background work.
// Verbose enables debug records, which include every retry and cache hit.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// OpenMCPLog returns a logger appending to mcp.log in the cache directory.
// stdout carries the MCP protocol, so nothing may be logged there. When
// logging is disabled or the file cannot be opened the logger discards.
func OpenMCPLog(config *Config) (*slog.Logger, func() error) {
	noop := func() error { return nil }
	if !config.MCPLogEnabled {
		return slog.New(slog.DiscardHandler), noop
	}

	if err := os.MkdirAll(config.CacheDir, 0755); err != nil {
		return slog.New(slog.DiscardHandler), noop
	}

	logFile, err := os.OpenFile(filepath.Join(config.CacheDir, "mcp.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return slog.New(slog.DiscardHandler), noop
	}

	return NewLogger(logFile, true).With(slog.String("component", "mcp")), logFile.Close
}
