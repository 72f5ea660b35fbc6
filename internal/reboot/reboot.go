// Package reboot persists the one-shot restart sentinel. Whoever asks
// for a restart writes the chat to notify first; the next boot consumes
// the file and announces itself there.
package reboot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// DefaultPath is where the sentinel lives, relative to the working
// directory.
const DefaultPath = ".reboot"

// Write drops the sentinel with the given payload, replacing any
// previous one.
func Write(path, data string) error {
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		return fmt.Errorf("write reboot sentinel: %w", err)
	}
	return nil
}

// Consume reads and removes the sentinel. A missing file is not an
// error; found reports whether a sentinel was there.
func Consume(path string) (data string, found bool, err error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read reboot sentinel: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return "", false, fmt.Errorf("remove reboot sentinel: %w", err)
	}
	return strings.TrimSpace(string(raw)), true, nil
}
