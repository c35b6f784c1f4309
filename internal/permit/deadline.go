package permit

import "time"

// ComputeDeadline returns now + hours*3600 as a unix timestamp.
func ComputeDeadline(now time.Time, hours int64) (uint64, error) {
	if hours <= 0 {
		return 0, invalidf("deadline hours must be positive, got %d", hours)
	}
	// a year is plenty and keeps the multiplication far from overflow
	if hours > 24*366 {
		return 0, invalidf("deadline hours %d exceeds one year", hours)
	}
	ts := now.Unix() + hours*3600
	if ts <= 0 {
		return 0, invalidf("deadline before epoch")
	}
	return uint64(ts), nil
}

// IsExpired reports whether deadline is no longer strictly after now.
func IsExpired(deadline uint64, now time.Time) bool {
	n := now.Unix()
	return n >= 0 && deadline <= uint64(n)
}
