package markethours

import (
	"strings"
	"testing"
	"time"
)

func utc(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestIsMarketOpen(t *testing.T) {
	// 2024-01-14 is a Sunday
	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"sunday before open", utc(2024, 1, 14, 21, 59), false},
		{"sunday at open", utc(2024, 1, 14, 22, 0), true},
		{"wednesday noon", utc(2024, 1, 17, 12, 0), true},
		{"friday before close", utc(2024, 1, 19, 21, 59), true},
		{"friday at close", utc(2024, 1, 19, 22, 0), false},
		{"saturday", utc(2024, 1, 20, 12, 0), false},
		{"christmas wednesday", utc(2024, 12, 25, 12, 0), false},
		{"new year monday", utc(2024, 1, 1, 9, 0), false},
		{"day after new year", utc(2024, 1, 2, 0, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMarketOpen(tt.t); got != tt.want {
				t.Errorf("IsMarketOpen(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestIsMarketOpen_NonUTCInput(t *testing.T) {
	ny := time.FixedZone("EST", -5*3600)
	// Friday 16:59 EST = 21:59 UTC
	if !IsMarketOpen(time.Date(2024, 1, 19, 16, 59, 0, 0, ny)) {
		t.Error("expected open at Friday 21:59 UTC")
	}
	if IsMarketOpen(time.Date(2024, 1, 19, 17, 0, 0, 0, ny)) {
		t.Error("expected closed at Friday 22:00 UTC")
	}
}

func TestNextOpen(t *testing.T) {
	sat := utc(2024, 1, 20, 12, 30)
	if got, want := NextOpen(sat), utc(2024, 1, 21, 22, 0); !got.Equal(want) {
		t.Errorf("NextOpen(saturday) = %v, want %v", got, want)
	}

	open := utc(2024, 1, 17, 12, 0)
	if got := NextOpen(open); !got.Equal(open) {
		t.Errorf("NextOpen(open) = %v, want unchanged", got)
	}

	// Christmas 2024 is a Wednesday; trading resumes at midnight
	if got, want := NextOpen(utc(2024, 12, 25, 8, 15)), utc(2024, 12, 26, 0, 0); !got.Equal(want) {
		t.Errorf("NextOpen(christmas) = %v, want %v", got, want)
	}
}

func TestTimeUntilClose(t *testing.T) {
	if d := TimeUntilClose(utc(2024, 1, 19, 20, 30)); d != 90*time.Minute {
		t.Errorf("expected 1h30m to Friday close, got %v", d)
	}
	if d := TimeUntilClose(utc(2024, 1, 20, 12, 0)); d != 0 {
		t.Errorf("expected 0 while closed, got %v", d)
	}
	// Christmas Eve closes at midnight into the holiday
	if d := TimeUntilClose(utc(2024, 12, 24, 23, 0)); d != time.Hour {
		t.Errorf("expected 1h to christmas, got %v", d)
	}
}

func TestStatusString(t *testing.T) {
	if s := StatusString(utc(2024, 1, 17, 12, 0)); !strings.Contains(s, "open") {
		t.Errorf("unexpected status %q", s)
	}
	s := StatusString(utc(2024, 1, 20, 22, 0))
	if !strings.Contains(s, "closed") || !strings.Contains(s, "Sun 22:00") {
		t.Errorf("unexpected status %q", s)
	}
}
