package globaltime

import (
	"testing"
	"time"
)

// Not parallel: the pinned clock is process wide.
func TestPinAndWindowStart(t *testing.T) {
	at := time.Date(2026, 3, 10, 8, 30, 0, 0, time.FixedZone("ICT", 7*3600))
	restore := Pin(at)

	if got := UTC(); !got.Equal(at) || got.Location() != time.UTC {
		t.Fatalf("UTC() = %v, want %v in UTC", got, at)
	}
	want := time.Date(2026, 3, 3, 1, 30, 0, 0, time.UTC)
	if got := WindowStart(7); !got.Equal(want) {
		t.Fatalf("WindowStart(7) = %v, want %v", got, want)
	}
	if got := WindowStart(-2); !got.Equal(at) {
		t.Fatalf("WindowStart(-2) = %v, want now", got)
	}
	if got := Since(at.Add(-time.Hour)); got != time.Hour {
		t.Fatalf("Since() = %v, want 1h", got)
	}

	restore()
	if got := Now(); got.Equal(at) {
		t.Fatalf("clock still pinned after restore")
	}
}
