package clip

import "testing"

func TestHeadlessBackendSatisfiesBackend(t *testing.T) {
	var b Backend = headlessBackend{}

	if _, ok := b.ReadText(); ok {
		t.Errorf("expected headless backend to never report clipboard text")
	}
	if err := b.WriteText("anything"); err != nil {
		t.Errorf("expected headless WriteText to be a no-op, got %v", err)
	}
	if b.Name() == "" {
		t.Errorf("expected a non-empty backend name")
	}
	b.Close() // must not panic
}
