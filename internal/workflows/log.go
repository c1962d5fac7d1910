package workflows

import (
	"github.com/PolarWolf314/muna/internal/audit"
)

// LogOptions configures ReadLog.
type LogOptions struct {
	// Operation filters entries; empty returns all.
	Operation string
	// Limit keeps only the most recent entries; zero keeps all.
	Limit int
}

// ReadLog returns audit entries, oldest first.
func ReadLog(opts LogOptions) ([]audit.Entry, error) {
	entries, err := audit.ReadEntries()
	if err != nil {
		return nil, err
	}
	entries = audit.Filter(entries, opts.Operation)
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[len(entries)-opts.Limit:]
	}
	return entries, nil
}
