package store

import (
	"testing"
	"time"
)

func TestParseRecurrence(t *testing.T) {
	cases := []struct {
		raw     string
		wantErr bool
	}{
		{"daily", false},
		{"weekly:MON", false},
		{"weekly:mon", false},
		{"monthly:15", false},
		{"monthly:31", true},
		{"weekly", true},
		{"weekly:XYZ", true},
		{"biweekly", true},
		{"", true},
	}
	for _, c := range cases {
		_, err := ParseRecurrence(c.raw)
		if (err != nil) != c.wantErr {
			t.Errorf("ParseRecurrence(%q) error = %v, wantErr %v", c.raw, err, c.wantErr)
		}
	}
}

func TestRecurrence_Next_Daily(t *testing.T) {
	r, _ := ParseRecurrence("daily")
	base := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	next := r.Next(base)
	if !next.Equal(base.AddDate(0, 0, 1)) {
		t.Errorf("expected next day, got %v", next)
	}
}

func TestRecurrence_Next_Weekly(t *testing.T) {
	r, _ := ParseRecurrence("weekly:MON")
	// 2026-07-30 is a Thursday.
	base := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	next := r.Next(base)
	if next.Weekday() != time.Monday {
		t.Fatalf("expected next occurrence to be a Monday, got %v", next.Weekday())
	}
	if !next.After(base) {
		t.Errorf("expected next occurrence strictly after base, got %v", next)
	}
}

func TestRecurrence_Next_Monthly(t *testing.T) {
	r, _ := ParseRecurrence("monthly:15")
	base := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	next := r.Next(base)
	if next.Day() != 15 || next.Month() != time.August {
		t.Fatalf("expected 15 Aug, got %v", next)
	}

	// When "after" is before this month's 15th, the next occurrence should
	// be this month, not skip ahead.
	early := time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC)
	next2 := r.Next(early)
	if next2.Day() != 15 || next2.Month() != time.July {
		t.Fatalf("expected 15 Jul, got %v", next2)
	}
}
