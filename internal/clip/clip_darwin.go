//go:build darwin

package clip

import (
	"log/slog"

	"golang.design/x/clipboard"
)

type darwinBackend struct{}

// New returns the macOS clipboard backend. clipboard.Init is called here
// rather than in init() so that CLI sub-commands that never construct a
// Backend don't log a spurious warning on a headless build machine.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard init failed", "err", err)
		return headlessBackend{}
	}
	return darwinBackend{}
}

func (darwinBackend) Name() string { return "macOS NSPasteboard" }

func (darwinBackend) ReadText() (string, bool) {
	text := clipboard.Read(clipboard.FmtText)
	if text == nil {
		return "", false
	}
	return string(text), true
}

func (darwinBackend) WriteText(text string) error {
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

func (darwinBackend) Close() {}
