// Package utils provides shared helpers for the muna CLI.
//
// # File Utilities
//
//   - ResolveFiles: expands paths, directories and ** globs for media commands
//   - FormatPaths: formats file paths for human-readable output
//
// # System Utilities
//
//   - GetUsername, GetHostname: operating system identity
//   - DefaultDeviceName: a sanitized device name for new configs
//
// # I/O Utilities
//
//   - ReadInput: reads message text from an argument or piped stdin
//
// # Terminal Utilities
//
//   - ReadPassphrase: prompts without echo, used to unlock sealed storage
//   - IsTerminal: reports whether stdin is a terminal
package utils
