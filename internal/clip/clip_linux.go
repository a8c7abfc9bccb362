//go:build linux

package clip

import (
	"log/slog"

	"golang.design/x/clipboard"
)

type linuxBackend struct{}

// New returns the Linux clipboard backend, or a headless no-op backend if
// the display environment is unavailable (e.g. a headless server without
// X11 or Wayland). clipboard.Init is called here rather than in init() so
// that CLI sub-commands that never construct a Backend don't log a
// spurious warning.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, running headless", "err", err)
		return headlessBackend{}
	}
	return linuxBackend{}
}

func (linuxBackend) Name() string { return "Linux clipboard (X11/Wayland)" }

func (linuxBackend) ReadText() (string, bool) {
	text := clipboard.Read(clipboard.FmtText)
	if text == nil {
		return "", false
	}
	return string(text), true
}

func (linuxBackend) WriteText(text string) error {
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

func (linuxBackend) Close() {}
