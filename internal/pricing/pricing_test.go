package pricing

import (
	"errors"
	"testing"
)

func TestCostKnownKinds(t *testing.T) {
	t.Parallel()

	expected := map[Kind]int{
		KindTweet:            1,
		KindEmail:            2,
		KindTweetThread:      3,
		KindBlogPost:         5,
		KindOutreachCampaign: 10,
		KindTwitterReport:    20,
	}
	for kind, want := range expected {
		got, err := Cost(kind, 1)
		if err != nil {
			t.Fatalf("cost(%s): %v", kind, err)
		}
		if got != want {
			t.Fatalf("cost(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestCostScalesWithCount(t *testing.T) {
	t.Parallel()

	for _, kind := range Kinds() {
		base, err := Cost(kind, 1)
		if err != nil {
			t.Fatalf("cost(%s, 1): %v", kind, err)
		}
		if base <= 0 {
			t.Fatalf("cost(%s, 1) = %d, want positive", kind, base)
		}
		triple, err := Cost(kind, 3)
		if err != nil {
			t.Fatalf("cost(%s, 3): %v", kind, err)
		}
		if triple != 3*base {
			t.Fatalf("cost(%s, 3) = %d, want %d", kind, triple, 3*base)
		}
	}
}

func TestCostClampsCount(t *testing.T) {
	t.Parallel()

	for _, count := range []int{0, -5} {
		got, err := Cost(KindTweet, count)
		if err != nil {
			t.Fatalf("cost(tweet, %d): %v", count, err)
		}
		if got != 1 {
			t.Fatalf("cost(tweet, %d) = %d, want 1", count, got)
		}
	}
}

func TestCostUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := Cost(Kind("haiku"), 1)
	var unknownErr *ErrUnknownKind
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if unknownErr.Kind != Kind("haiku") {
		t.Fatalf("unexpected kind in error: %s", unknownErr.Kind)
	}
	if Known(Kind("haiku")) {
		t.Fatalf("haiku should not be a known kind")
	}
}

func TestTableMatchesKinds(t *testing.T) {
	t.Parallel()

	table := Table()
	if len(table) != len(Kinds()) {
		t.Fatalf("table has %d entries, kinds has %d", len(table), len(Kinds()))
	}
	// Mutating the copy must not affect lookups.
	table[KindTweet] = 999
	if cost, _ := Cost(KindTweet, 1); cost != 1 {
		t.Fatalf("table copy mutation leaked into cost lookup")
	}
}
