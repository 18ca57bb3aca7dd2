package catalogue

import (
	"strconv"
	"strings"
)

// CompareRecommendationIDs orders dotted recommendation ids segment by
// segment. Two integer segments compare numerically, anything else compares
// lexicographically, and a prefix sorts before its extensions: "1.2" < "1.10"
// < "1.10.1".
func CompareRecommendationIDs(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := compareSegment(as[i], bs[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	default:
		return 0
	}
}

func compareSegment(a, b string) int {
	an, aErr := strconv.Atoi(a)
	bn, bErr := strconv.Atoi(b)
	if aErr == nil && bErr == nil {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		// "01" and "1" are the same number, keep the order total
	}
	return strings.Compare(a, b)
}
