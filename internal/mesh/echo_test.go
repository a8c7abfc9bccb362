package mesh

import "testing"

func TestEchoSuppressorRoundTrip(t *testing.T) {
	e := newEchoSuppressor(3)

	if e.shouldIgnoreLocal("x") {
		t.Fatal("empty suppressor should not ignore anything")
	}

	e.noteRemoteWrite("x")
	if !e.shouldIgnoreLocal("x") {
		t.Errorf("expected a noted remote write to be ignored once locally")
	}
	if e.shouldIgnoreLocal("y") {
		t.Errorf("unrelated text should not be suppressed")
	}
}

func TestEchoSuppressorEvictsOldestPastCapacity(t *testing.T) {
	e := newEchoSuppressor(2)

	e.noteRemoteWrite("a")
	e.noteRemoteWrite("b")
	e.noteRemoteWrite("c") // evicts "a"

	if e.shouldIgnoreLocal("a") {
		t.Errorf("expected \"a\" to have been evicted past capacity")
	}
	if !e.shouldIgnoreLocal("b") || !e.shouldIgnoreLocal("c") {
		t.Errorf("expected \"b\" and \"c\" to still be suppressed")
	}
}

func TestEchoSuppressorDedupesConsecutiveDuplicates(t *testing.T) {
	e := newEchoSuppressor(2)

	e.noteRemoteWrite("same")
	e.noteRemoteWrite("same")
	e.noteRemoteWrite("same")

	// A burst of identical writes should collapse to one FIFO slot,
	// leaving room for an older distinct value to still be present.
	e.noteRemoteWrite("other")
	if !e.shouldIgnoreLocal("same") || !e.shouldIgnoreLocal("other") {
		t.Errorf("expected both distinct values to still be tracked")
	}
}

func TestNewEchoSuppressorDefaultsNonPositiveCapacity(t *testing.T) {
	e := newEchoSuppressor(0)
	if e.capacity != 20 {
		t.Errorf("expected default capacity 20, got %d", e.capacity)
	}
}
