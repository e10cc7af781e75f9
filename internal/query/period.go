package query

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownPeriod is returned for a period label outside the supported set.
var ErrUnknownPeriod = errors.New("unknown period")

// ErrUnknownBucket is returned for a bucket label outside the supported set.
var ErrUnknownBucket = errors.New("unknown bucket")

// Period is a trailing time range for aggregate queries.
type Period struct {
	Label    string
	Duration time.Duration
}

// Since returns the inclusive lower bound of the period ending now.
func (p Period) Since(now time.Time) time.Time {
	return now.Add(-p.Duration)
}

// ParsePeriod maps a period label to its range.
func ParsePeriod(label string) (Period, error) {
	switch label {
	case "1h":
		return Period{Label: label, Duration: time.Hour}, nil
	case "24h":
		return Period{Label: label, Duration: 24 * time.Hour}, nil
	case "7d":
		return Period{Label: label, Duration: 7 * 24 * time.Hour}, nil
	case "30d":
		return Period{Label: label, Duration: 30 * 24 * time.Hour}, nil
	default:
		return Period{}, fmt.Errorf("%w: %q (use 1h, 24h, 7d or 30d)", ErrUnknownPeriod, label)
	}
}

// Bucket is a time-series granularity backed by a ClickHouse rounding
// function.
type Bucket struct {
	Label string
	fn    string
	width time.Duration
}

// Fn returns the ClickHouse rounding function for this bucket.
func (b Bucket) Fn() string {
	return b.fn
}

// Seconds returns the bucket width in seconds.
func (b Bucket) Seconds() float64 {
	return b.width.Seconds()
}

// ParseBucket maps a bucket label to its granularity.
func ParseBucket(label string) (Bucket, error) {
	switch label {
	case "minute":
		return Bucket{Label: label, fn: "toStartOfMinute", width: time.Minute}, nil
	case "hour":
		return Bucket{Label: label, fn: "toStartOfHour", width: time.Hour}, nil
	case "day":
		return Bucket{Label: label, fn: "toStartOfDay", width: 24 * time.Hour}, nil
	case "week":
		return Bucket{Label: label, fn: "toStartOfWeek", width: 7 * 24 * time.Hour}, nil
	default:
		return Bucket{}, fmt.Errorf("%w: %q (use minute, hour, day or week)", ErrUnknownBucket, label)
	}
}
