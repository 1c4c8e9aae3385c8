package scoring

import (
	"fmt"
	"strings"
)

// Rating buckets a total score.
type Rating string

const (
	RatingExcellent Rating = "EXCELLENT"
	RatingGood      Rating = "GOOD"
	RatingModerate  Rating = "MODERATE"
	RatingPoor      Rating = "POOR"
	RatingVeryPoor  Rating = "VERY_POOR"
)

// RatingFor returns the bucket of a total score.
func RatingFor(total int) Rating {
	switch {
	case total >= 300:
		return RatingExcellent
	case total >= 200:
		return RatingGood
	case total >= 100:
		return RatingModerate
	case total >= 0:
		return RatingPoor
	default:
		return RatingVeryPoor
	}
}

func ParseRating(s string) (Rating, error) {
	switch r := Rating(strings.ToUpper(strings.TrimSpace(s))); r {
	case RatingExcellent, RatingGood, RatingModerate, RatingPoor, RatingVeryPoor:
		return r, nil
	default:
		return "", fmt.Errorf("unknown rating: %q", s)
	}
}
