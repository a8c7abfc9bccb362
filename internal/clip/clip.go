// Package clip provides the default, text-only system clipboard
// capability the reference CLI plugs into the mesh engine. Build
// constraints select the platform backend:
//
//	clip_darwin.go   — macOS via golang.design/x/clipboard
//	clip_windows.go  — Windows via golang.design/x/clipboard
//	clip_linux.go    — Linux via golang.design/x/clipboard
//	clip_other.go    — headless / container stub
//
// Every embedder other than this repository's own CLI supplies its own
// capability (mobile and desktop host apps read their platform clipboard
// through their own native bindings); this package exists so `ocnode
// serve` has something to poll when run directly.
package clip

// Backend is the capability the mesh engine and the node façade require:
// a fallible, non-blocking read and write of the clipboard's text
// contents. Its ReadText and WriteText methods are the same shape as mesh.ClipboardCapability
// and node.ClipboardCapability, which it satisfies structurally.
type Backend interface {
	// Name returns a human-readable name for the backend, logged at
	// startup by `ocnode serve`.
	Name() string

	// ReadText returns the current clipboard text and true, or "", false
	// if the clipboard is empty, holds a non-text format, or the read
	// failed.
	ReadText() (string, bool)

	// WriteText sets the clipboard's text contents.
	WriteText(text string) error

	// Close releases any resources the backend holds.
	Close()
}
