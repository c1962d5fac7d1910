package utils

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/term"
)

// PassphraseEnv, when set, supplies the sealed storage passphrase without a prompt.
const PassphraseEnv = "MUNA_PASSPHRASE"

// ReadPassphrase prompts for a passphrase without echoing input. It reads
// from stdin when that is a terminal and from the controlling TTY otherwise,
// so piped message text does not interfere.
func ReadPassphrase(prompt string) ([]byte, error) {
	if env := os.Getenv(PassphraseEnv); env != "" {
		return []byte(env), nil
	}
	if IsTerminal() {
		return readPassword(int(os.Stdin.Fd()), prompt)
	}

	ttyPath := "/dev/tty"
	if runtime.GOOS == "windows" {
		ttyPath = "CON"
	}
	tty, err := os.Open(ttyPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s for passphrase input (hint: set %s): %w", ttyPath, PassphraseEnv, err)
	}
	defer tty.Close()

	fd := int(tty.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("%s is not a terminal (hint: set %s)", ttyPath, PassphraseEnv)
	}
	return readPassword(fd, prompt)
}

func readPassword(fd int, prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	passphrase, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return passphrase, nil
}

// IsTerminal returns true if stdin is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
