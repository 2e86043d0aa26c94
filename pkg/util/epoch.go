package util

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// msThreshold separates epoch seconds from epoch milliseconds.
const msThreshold = 1e12

// NormalizeEpoch converts an epoch value to seconds; values above 1e12 are
// taken as milliseconds.
func NormalizeEpoch(v float64) float64 {
	if v > msThreshold {
		return v / 1000.0
	}
	return v
}

// ParseEpoch parses a numeric epoch string and normalizes it to seconds.
// Empty, non-numeric and non-finite inputs are rejected.
func ParseEpoch(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return NormalizeEpoch(v), true
}

// EpochFromAny normalizes a decoded JSON value (number or numeric string).
func EpochFromAny(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return NormalizeEpoch(x), true
	case int64:
		return NormalizeEpoch(float64(x)), true
	case int:
		return NormalizeEpoch(float64(x)), true
	case interface{ String() string }:
		return ParseEpoch(x.String())
	case string:
		return ParseEpoch(x)
	default:
		return 0, false
	}
}

// UnixSeconds returns t as fractional unix seconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

// FromUnixSeconds is the inverse of UnixSeconds.
func FromUnixSeconds(sec float64) time.Time {
	whole := math.Floor(sec)
	nsec := math.Round((sec - whole) * float64(time.Second))
	return time.Unix(int64(whole), int64(nsec))
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
