package clip

// headlessBackend is a no-op clipboard backend. It is the fallback every
// platform backend's New() returns when clipboard.Init fails (no display
// server available), and the only backend on GOOS targets with no known
// clipboard binding.
type headlessBackend struct{}

func (headlessBackend) Name() string             { return "headless (no-op)" }
func (headlessBackend) ReadText() (string, bool) { return "", false }
func (headlessBackend) WriteText(_ string) error { return nil }
func (headlessBackend) Close()                   {}
