package utils

import (
	"os"
	"os/user"
	"regexp"
	"strings"
)

var (
	deviceNameInvalid = regexp.MustCompile(`[^a-z0-9\-_]`)
	repeatedHyphens   = regexp.MustCompile(`-+`)
)

// GetUsername returns the current username.
func GetUsername() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

// GetHostname returns the system hostname.
func GetHostname() (string, error) {
	return os.Hostname()
}

// SanitizeDeviceName lowercases name, turns spaces into hyphens and drops
// anything that is not alphanumeric, a hyphen or an underscore.
func SanitizeDeviceName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "-")
	name = deviceNameInvalid.ReplaceAllString(name, "")
	name = repeatedHyphens.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")
	if name == "" {
		return "device"
	}
	return name
}

// DefaultDeviceName derives a device name from the hostname, falling back
// to the username.
func DefaultDeviceName() string {
	name, err := GetHostname()
	if err != nil || name == "" {
		if name, err = GetUsername(); err != nil {
			name = ""
		}
	}
	return SanitizeDeviceName(name)
}
