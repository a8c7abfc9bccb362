package history

import "testing"

func TestRecordAndListNewestFirst(t *testing.T) {
	s := New()
	s.Record("", "first")
	s.Record("", "second")
	s.Record("", "third")

	got := s.List(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].Text != "third" || got[1].Text != "second" || got[2].Text != "first" {
		t.Errorf("entries not newest-first: %v", got)
	}
}

func TestListRespectsLimit(t *testing.T) {
	s := New()
	for _, text := range []string{"a", "b", "c", "d"} {
		s.Record("", text)
	}
	got := s.List(2)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Text != "d" || got[1].Text != "c" {
		t.Errorf("unexpected entries: %v", got)
	}
}

func TestRecordDropsOldestAtCapacity(t *testing.T) {
	s := New()
	s.SetLimit(10) // minimum allowed
	for i := 0; i < 12; i++ {
		s.Record("", string(rune('a'+i)))
	}
	all := s.List(0)
	if len(all) != 10 {
		t.Fatalf("expected store clamped to 10 entries, got %d", len(all))
	}
	// Oldest two ("a","b") should have been evicted; newest is "l".
	if all[0].Text != "l" {
		t.Errorf("expected newest entry \"l\", got %q", all[0].Text)
	}
	if all[len(all)-1].Text == "a" || all[len(all)-1].Text == "b" {
		t.Errorf("expected oldest entries to have been evicted, got %q", all[len(all)-1].Text)
	}
}

func TestListForPeerFiltersByPeer(t *testing.T) {
	s := New()
	s.Record("alice", "from alice")
	s.Record("bob", "from bob")
	s.Record("alice", "from alice again")

	got := s.ListForPeer("alice", 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries from alice, got %d", len(got))
	}
	for _, e := range got {
		if e.PeerName != "alice" {
			t.Errorf("unexpected peer in filtered results: %s", e.PeerName)
		}
	}
}

func TestFindTextContainingIsCaseInsensitive(t *testing.T) {
	s := New()
	s.Record("", "Hello World")
	s.Record("", "goodbye")

	got := s.FindTextContaining("", "WORLD", 0)
	if len(got) != 1 || got[0].Text != "Hello World" {
		t.Errorf("expected case-insensitive match, got %v", got)
	}
}

func TestFindByID(t *testing.T) {
	s := New()
	e := s.Record("", "findme")

	found, ok := s.Find(e.ID)
	if !ok {
		t.Fatalf("expected to find entry by id %s", e.ID)
	}
	if found.Text != "findme" {
		t.Errorf("got %q", found.Text)
	}

	if _, ok := s.Find("nonexistent-id"); ok {
		t.Errorf("expected not to find a nonexistent id")
	}
}

func TestSetLimitClampsRange(t *testing.T) {
	s := New()
	s.SetLimit(1) // below the floor of 10
	for i := 0; i < 15; i++ {
		s.Record("", string(rune('a'+i)))
	}
	if len(s.List(0)) != 10 {
		t.Errorf("expected SetLimit to clamp to the 10-entry floor, got %d entries", len(s.List(0)))
	}
}

func TestEachEntryGetsAUniqueID(t *testing.T) {
	s := New()
	a := s.Record("", "x")
	b := s.Record("", "y")
	if a.ID == b.ID {
		t.Errorf("expected distinct ids, got %s twice", a.ID)
	}
}
