// Package ui provides semantic text formatting for CLI output.
//
// Formatters colorize content when the terminal supports it. When NO_COLOR
// is set or colors are unavailable, text decorations are used instead:
//
//	ui.Code.Sprint("muna identity register")  // `muna identity register`
//	ui.Highlight.Sprint("alice")              // 'alice'
//	ui.Fingerprint.Sprint("3xQk...")          // [3xQk...]
//	ui.Muted.Sprint("inactive")               // (inactive)
//
// SuccessLine, ErrorLine and WarningLine build the one-line verdicts that
// commands assign to the spinner's final message.
package ui
