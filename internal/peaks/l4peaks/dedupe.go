package l4peaks

import (
	"cmp"
	"math"
	"slices"
)

// Suppress applies greedy strongest-first de-duplication. Peaks are
// ordered by descending Strength, then ascending Y, then ascending X; a
// peak is kept only if every previously kept peak is at least
// minSeparation pixels away. The result is in that order.
//
// The same ordering serves both the candidate pass and the post-fit pass,
// so identical inputs always keep identical peaks.
func Suppress(peaks []Peak, minSeparation int) []Peak {
	ordered := slices.Clone(peaks)
	slices.SortStableFunc(ordered, strongestFirst)
	if minSeparation <= 0 || len(ordered) < 2 {
		return ordered
	}

	sep := float64(minSeparation)
	sep2 := sep * sep
	buckets := make(map[[2]int][]int, len(ordered))
	kept := ordered[:0:0]
	for _, p := range ordered {
		bx, by := int(math.Floor(p.X/sep)), int(math.Floor(p.Y/sep))
		if !tooClose(p, kept, buckets, bx, by, sep2) {
			key := [2]int{bx, by}
			buckets[key] = append(buckets[key], len(kept))
			kept = append(kept, p)
		}
	}
	return kept
}

func strongestFirst(a, b Peak) int {
	if c := cmp.Compare(b.Strength(), a.Strength()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Y, b.Y); c != 0 {
		return c
	}
	return cmp.Compare(a.X, b.X)
}

func tooClose(p Peak, kept []Peak, buckets map[[2]int][]int, bx, by int, sep2 float64) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			for _, i := range buckets[[2]int{bx + dx, by + dy}] {
				ddx, ddy := kept[i].X-p.X, kept[i].Y-p.Y
				if ddx*ddx+ddy*ddy < sep2 {
					return true
				}
			}
		}
	}
	return false
}
