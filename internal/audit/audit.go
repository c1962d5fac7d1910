package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/PolarWolf314/muna/internal/configs"
)

// Operations recorded in the audit log.
const (
	OpRegister     = "register"
	OpRotate       = "rotate"
	OpErase        = "erase"
	OpGroupRotate  = "group-rotate"
	OpGroupRetry   = "group-retry"
	OpMediaEncrypt = "media-encrypt"
	OpMediaDecrypt = "media-decrypt"
)

// Entry represents a single audit log entry.
type Entry struct {
	Timestamp string `json:"ts"` // RFC3339 with microseconds, UTC.
	UserID    string `json:"user_id"`
	Device    string `json:"device,omitempty"`
	Operation string `json:"op"`

	// Identity operations.
	Version     int    `json:"version,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Suite       string `json:"suite,omitempty"`

	// Group operations.
	Conversation string   `json:"conversation,omitempty"`
	Epoch        int      `json:"epoch,omitempty"`
	Members      int      `json:"members,omitempty"`
	Degraded     []string `json:"degraded,omitempty"`
	Pending      []string `json:"pending,omitempty"`

	// Media operations.
	Files []string `json:"files,omitempty"`

	Error string `json:"error,omitempty"`
}

// Log appends an entry to the audit log. Failures are ignored.
func Log(entry Entry) {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
	}

	logPath := LogPath()
	if logPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_, _ = f.Write(append(data, '\n'))
}

// LogWithUser returns an entry with the user fields populated from config.
func LogWithUser(op string) Entry {
	entry := Entry{Operation: op}

	userConfig, err := configs.LoadUserConfig()
	if err != nil {
		return entry
	}
	entry.UserID = userConfig.User.ID
	entry.Device = userConfig.User.Device
	return entry
}

// LogPath returns the path to the audit log file.
func LogPath() string {
	if configs.UserMunaSettings == nil {
		return ""
	}
	return configs.UserMunaSettings.AuditLogPath
}

// ReadEntries reads all entries from the audit log.
// Returns nil if the log doesn't exist.
func ReadEntries() ([]Entry, error) {
	logPath := LogPath()
	if logPath == "" {
		return nil, nil
	}

	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseEntries(data), nil
}

// ParseEntries parses JSON Lines data. Malformed lines are skipped.
func ParseEntries(data []byte) []Entry {
	var entries []Entry
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// Filter returns the entries matching op, or all entries when op is empty.
func Filter(entries []Entry, op string) []Entry {
	if op == "" {
		return entries
	}
	var out []Entry
	for _, e := range entries {
		if e.Operation == op {
			out = append(out, e)
		}
	}
	return out
}
