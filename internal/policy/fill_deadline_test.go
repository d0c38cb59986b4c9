package policy

import (
	"testing"
	"time"
)

func TestIsSafeToBroadcastFill_RespectsMargin(t *testing.T) {
	now := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	margin := 6 * time.Hour

	if !IsSafeToBroadcastFill(now, now.Add(margin), margin) {
		t.Fatalf("expected safe when deadline-now == margin")
	}
	if IsSafeToBroadcastFill(now, now.Add(margin-time.Second), margin) {
		t.Fatalf("expected unsafe when deadline-now < margin")
	}
	if IsSafeToBroadcastFill(now, now, margin) {
		t.Fatalf("expected unsafe when already past deadline")
	}
}

func TestIsSafeToBroadcastFill_ZeroMarginNeverClears(t *testing.T) {
	now := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	if IsSafeToBroadcastFill(now, now.Add(24*time.Hour), 0) {
		t.Fatalf("expected unsafe with zero safety margin regardless of deadline")
	}
}
