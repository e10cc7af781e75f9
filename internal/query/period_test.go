package query

import (
	"errors"
	"testing"
	"time"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		label    string
		expected time.Duration
	}{
		{"1h", time.Hour},
		{"24h", 24 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"30d", 30 * 24 * time.Hour},
	}

	for _, tt := range tests {
		period, err := ParsePeriod(tt.label)
		if err != nil {
			t.Errorf("ParsePeriod(%q) failed: %v", tt.label, err)
			continue
		}
		if period.Duration != tt.expected {
			t.Errorf("ParsePeriod(%q).Duration = %v, want %v", tt.label, period.Duration, tt.expected)
		}
		if period.Label != tt.label {
			t.Errorf("ParsePeriod(%q).Label = %q, want %q", tt.label, period.Label, tt.label)
		}
	}
}

func TestParsePeriodUnknown(t *testing.T) {
	for _, label := range []string{"", "2h", "1w", "fortnight"} {
		_, err := ParsePeriod(label)
		if !errors.Is(err, ErrUnknownPeriod) {
			t.Errorf("ParsePeriod(%q) = %v, want ErrUnknownPeriod", label, err)
		}
	}
}

func TestPeriodSince(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	period, err := ParsePeriod("24h")
	if err != nil {
		t.Fatalf("ParsePeriod failed: %v", err)
	}

	since := period.Since(now)
	expected := time.Date(2025, 5, 31, 12, 0, 0, 0, time.UTC)
	if !since.Equal(expected) {
		t.Errorf("Since = %v, want %v", since, expected)
	}
}

func TestParseBucket(t *testing.T) {
	tests := []struct {
		label   string
		fn      string
		seconds float64
	}{
		{"minute", "toStartOfMinute", 60},
		{"hour", "toStartOfHour", 3600},
		{"day", "toStartOfDay", 86400},
		{"week", "toStartOfWeek", 604800},
	}

	for _, tt := range tests {
		bucket, err := ParseBucket(tt.label)
		if err != nil {
			t.Errorf("ParseBucket(%q) failed: %v", tt.label, err)
			continue
		}
		if bucket.Fn() != tt.fn {
			t.Errorf("ParseBucket(%q).Fn() = %q, want %q", tt.label, bucket.Fn(), tt.fn)
		}
		if bucket.Seconds() != tt.seconds {
			t.Errorf("ParseBucket(%q).Seconds() = %v, want %v", tt.label, bucket.Seconds(), tt.seconds)
		}
	}
}

func TestParseBucketUnknown(t *testing.T) {
	_, err := ParseBucket("month")
	if !errors.Is(err, ErrUnknownBucket) {
		t.Errorf("ParseBucket(month) = %v, want ErrUnknownBucket", err)
	}
}

func TestSuccessRate(t *testing.T) {
	tests := []struct {
		succeeded uint64
		total     uint64
		expected  float64
	}{
		{0, 0, 1.0}, // empty set: nothing failed
		{0, 4, 0.0},
		{3, 4, 0.75},
		{4, 4, 1.0},
	}

	for _, tt := range tests {
		if got := successRate(tt.succeeded, tt.total); got != tt.expected {
			t.Errorf("successRate(%d, %d) = %v, want %v", tt.succeeded, tt.total, got, tt.expected)
		}
	}
}

func TestRatePerSecond(t *testing.T) {
	tests := []struct {
		count    uint64
		seconds  float64
		expected float64
	}{
		{0, 60, 0},
		{120, 60, 2},
		{90, 3600, 0.025},
		{100, 0, 0}, // zero-width never divides
	}

	for _, tt := range tests {
		if got := ratePerSecond(tt.count, tt.seconds); got != tt.expected {
			t.Errorf("ratePerSecond(%d, %v) = %v, want %v", tt.count, tt.seconds, got, tt.expected)
		}
	}
}
