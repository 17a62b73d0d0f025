package diary

import (
	"log/slog"
	"sync"
	"time"

	"github.com/atotto/clipboard"
)

// CopiedFor is how long Copied reports true after a successful copy.
const CopiedFor = 2 * time.Second

// Clipboard writes text somewhere the user can paste it from.
type Clipboard interface {
	WriteAll(text string) error
}

// SystemClipboard is the operating system clipboard.
type SystemClipboard struct{}

func (SystemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// Copier copies diary text and keeps a short-lived "copied" flag for the UI.
type Copier struct {
	clip   Clipboard
	logger *slog.Logger
	hold   time.Duration

	mu     sync.Mutex
	copied bool
	gen    int
	timer  *time.Timer
}

func NewCopier(clip Clipboard, logger *slog.Logger) *Copier {
	return &Copier{clip: clip, logger: logger, hold: CopiedFor}
}

// Copy writes text to the clipboard. Failures are logged and reported as
// false; they never surface as errors.
func (c *Copier) Copy(text string) bool {
	if err := c.clip.WriteAll(text); err != nil {
		c.logger.Error("failed to copy diary", "err", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.copied = true
	c.gen++
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.hold, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen == gen {
			c.copied = false
		}
	})
	return true
}

// Copied reports whether a copy succeeded within the last CopiedFor.
func (c *Copier) Copied() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copied
}
