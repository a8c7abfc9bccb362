//go:build windows

package clip

import (
	"log/slog"

	"golang.design/x/clipboard"
)

type windowsBackend struct{}

// New returns the Windows clipboard backend.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard init failed", "err", err)
		return headlessBackend{}
	}
	return windowsBackend{}
}

func (windowsBackend) Name() string { return "Windows Clipboard" }

func (windowsBackend) ReadText() (string, bool) {
	text := clipboard.Read(clipboard.FmtText)
	if text == nil {
		return "", false
	}
	return string(text), true
}

func (windowsBackend) WriteText(text string) error {
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

func (windowsBackend) Close() {}
