// Package clipboard writes exported text to the host clipboard.
package clipboard

import (
	"fmt"
	"sync"

	"github.com/atotto/clipboard"
	errs "github.com/sweetpotato0/chai-tokenizer/errors"
)

// Writer is the clipboard-write capability.
type Writer interface {
	Write(text string) error
}

// System writes to the platform clipboard (pbcopy, xclip, xsel, wl-copy, Windows API).
type System struct{}

func (System) Write(text string) error {
	if clipboard.Unsupported {
		return errs.ErrClipboardUnavailable
	}
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrClipboardUnavailable, err)
	}
	return nil
}

// Memory keeps the last written text in process.
type Memory struct {
	mu     sync.Mutex
	text   string
	writes int
	// Err, when set, is returned by every Write.
	Err error
}

func (m *Memory) Write(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.text = text
	m.writes++
	return nil
}

// Text returns the last written text.
func (m *Memory) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text
}

// Writes returns the number of successful writes.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
