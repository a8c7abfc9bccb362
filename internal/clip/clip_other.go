//go:build !darwin && !windows && !linux

package clip

// New returns the headless no-op backend on platforms without a known
// clipboard binding (containers, CI, other GOOS targets).
func New() Backend { return headlessBackend{} }
