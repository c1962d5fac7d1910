package utils

import (
	"regexp"
	"strings"

	"github.com/PolarWolf314/muna/internal/ui"
)

var deviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// FormatPaths formats a slice of paths into a readable string.
func FormatPaths(paths []string) string {
	var b strings.Builder
	b.WriteString("\n")
	for _, path := range paths {
		b.WriteString("    - ")
		b.WriteString(ui.Path.Sprint(path))
		b.WriteString("\n")
	}
	return b.String()
}

// IsValidDeviceName checks if a device name is valid (alphanumeric, hyphens, underscores).
func IsValidDeviceName(name string) bool {
	return deviceNamePattern.MatchString(name)
}
