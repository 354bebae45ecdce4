package genai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// debugEntry is one request/response pair written in debug mode.
type debugEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Method    string      `json:"method"`
	Model     string      `json:"model"`
	Session   string      `json:"session"`
	Params    interface{} `json:"params"`
	Response  interface{} `json:"response,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// writeDebugLog persists a debug entry. Failures are logged and ignored.
func writeDebugLog(stateDir string, entry debugEntry) {
	dir := filepath.Join(stateDir, debugDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("genai.writeDebugLog: failed to create debug dir", "dir", dir, "error", err)
		return
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("genai.writeDebugLog: failed to marshal entry", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s_%s.json", entry.Timestamp.Format("20060102T150405.000000000"), entry.Method, entry.Session)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("genai.writeDebugLog: failed to write entry", "file", name, "error", err)
	}
}
