package stats

import (
	"fmt"
	"sort"
	"time"

	"github.com/crunkdevs/predictor-sub000/internal/domain"
)

// All helpers take outcomes newest-first, which is how sources return them.

// ColorSharesOf returns each color's share of the slice, 0-1. Absent colors
// map to 0 so callers can iterate the full wheel.
func ColorSharesOf(outs []domain.Outcome) map[domain.Color]float64 {
	shares := make(map[domain.Color]float64, len(domain.AllColors))
	for _, c := range domain.AllColors {
		shares[c] = 0
	}
	if len(outs) == 0 {
		return shares
	}
	for _, o := range outs {
		shares[o.Color]++
	}
	n := float64(len(outs))
	for c := range shares {
		shares[c] /= n
	}
	return shares
}

// ClassSharesOf returns parity/size/quadrant percentages (0-100).
func ClassSharesOf(outs []domain.Outcome) ClassShares {
	cs := ClassShares{QuadPct: make(map[Quadrant]float64, 4), Count: len(outs)}
	for _, q := range AllQuadrants {
		cs.QuadPct[q] = 0
	}
	if len(outs) == 0 {
		return cs
	}
	var odd, small float64
	for _, o := range outs {
		if o.Parity == domain.ParityOdd {
			odd++
		}
		if o.Size == domain.SizeSmall {
			small++
		}
		cs.QuadPct[QuadrantOf(o.Value)]++
	}
	n := float64(len(outs))
	cs.OddPct = odd / n * 100
	cs.SmallPct = small / n * 100
	for q := range cs.QuadPct {
		cs.QuadPct[q] = cs.QuadPct[q] / n * 100
	}
	return cs
}

// GapsOf computes per-value gap statistics. A value's SinceLast is the number
// of outcomes recorded after its most recent occurrence (0 when it is the
// newest outcome). Median and Max are over the gaps between its consecutive
// occurrences inside the slice. Unseen values report Seen=false with
// SinceLast equal to the slice length.
func GapsOf(outs []domain.Outcome) map[int]Gap {
	positions := make(map[int][]int, domain.NumValues)
	for i, o := range outs {
		positions[o.Value] = append(positions[o.Value], i)
	}

	gaps := make(map[int]Gap, domain.NumValues)
	for v := 0; v < domain.NumValues; v++ {
		pos := positions[v]
		if len(pos) == 0 {
			gaps[v] = Gap{SinceLast: len(outs), Seen: false}
			continue
		}
		g := Gap{SinceLast: pos[0], Seen: true}
		var hist []int
		for i := 1; i < len(pos); i++ {
			hist = append(hist, pos[i]-pos[i-1])
		}
		if len(hist) > 0 {
			sort.Ints(hist)
			g.Max = hist[len(hist)-1]
			mid := len(hist) / 2
			if len(hist)%2 == 1 {
				g.Median = float64(hist[mid])
			} else {
				g.Median = float64(hist[mid-1]+hist[mid]) / 2
			}
		}
		gaps[v] = g
	}
	return gaps
}

// SequentialPairRatioOf is the share of chronologically adjacent pairs whose
// values differ by exactly 1.
func SequentialPairRatioOf(outs []domain.Outcome) float64 {
	if len(outs) < 2 {
		return 0
	}
	seq := 0
	for i := 0; i < len(outs)-1; i++ {
		d := outs[i].Value - outs[i+1].Value
		if d == 1 || d == -1 {
			seq++
		}
	}
	return float64(seq) / float64(len(outs)-1)
}

// MaxColorRunOf is the longest same-color run in the slice.
func MaxColorRunOf(outs []domain.Outcome) int {
	maxRun, run := 0, 0
	var prev domain.Color
	for _, o := range outs {
		if o.Color == prev {
			run++
		} else {
			run = 1
			prev = o.Color
		}
		if run > maxRun {
			maxRun = run
		}
	}
	return maxRun
}

// CurrentColorRunOf is the color and length of the run at the head of the
// slice (the most recent outcomes).
func CurrentColorRunOf(outs []domain.Outcome) (domain.Color, int) {
	if len(outs) == 0 {
		return "", 0
	}
	c := outs[0].Color
	run := 1
	for i := 1; i < len(outs); i++ {
		if outs[i].Color != c {
			break
		}
		run++
	}
	return c, run
}

// DistinctColorsOf counts distinct colors observed.
func DistinctColorsOf(outs []domain.Outcome) int {
	seen := make(map[domain.Color]struct{}, len(domain.AllColors))
	for _, o := range outs {
		seen[o.Color] = struct{}{}
	}
	return len(seen)
}

// TopValuesOf returns the n most frequent values, most frequent first, ties
// broken by ascending value.
func TopValuesOf(outs []domain.Outcome, n int) []int {
	counts := make(map[int]int)
	for _, o := range outs {
		counts[o.Value]++
	}
	values := make([]int, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		if counts[values[i]] != counts[values[j]] {
			return counts[values[i]] > counts[values[j]]
		}
		return values[i] < values[j]
	})
	if len(values) > n {
		values = values[:n]
	}
	return values
}

// PrecededByRate returns how many times value occurred with a known
// predecessor and the share of those predecessors having the given color.
func PrecededByRate(outs []domain.Outcome, value int, color domain.Color) (int, float64) {
	occurrences, matches := 0, 0
	// outs is newest-first, so the predecessor of outs[i] is outs[i+1].
	for i := 0; i < len(outs)-1; i++ {
		if outs[i].Value != value {
			continue
		}
		occurrences++
		if outs[i+1].Color == color {
			matches++
		}
	}
	if occurrences == 0 {
		return 0, 0
	}
	return occurrences, float64(matches) / float64(occurrences)
}

// DominantCluster returns the cluster with the highest share and that share.
func DominantCluster(outs []domain.Outcome) (domain.Cluster, float64) {
	if len(outs) == 0 {
		return "", 0
	}
	counts := map[domain.Cluster]int{}
	for _, o := range outs {
		counts[domain.ClusterOf(o.Color)]++
	}
	best, bestN := domain.ClusterNeutral, -1
	for _, c := range []domain.Cluster{domain.ClusterWarm, domain.ClusterCool, domain.ClusterNeutral} {
		if counts[c] > bestN {
			best, bestN = c, counts[c]
		}
	}
	return best, float64(bestN) / float64(len(outs))
}

// DominantSize returns the size class with the highest share and that share.
func DominantSize(outs []domain.Outcome) (domain.Size, float64) {
	if len(outs) == 0 {
		return "", 0
	}
	small := 0
	for _, o := range outs {
		if o.Size == domain.SizeSmall {
			small++
		}
	}
	n := float64(len(outs))
	if float64(small)/n >= 0.5 {
		return domain.SizeSmall, float64(small) / n
	}
	return domain.SizeBig, float64(len(outs)-small) / n
}

// WindowReversalRatesOf replays history window by window and measures, per
// window index, how often the dominant cluster and size flipped relative to
// the previous occupied window.
func WindowReversalRatesOf(outs []domain.Outcome, loc *time.Location) map[int]ReversalRate {
	if len(outs) == 0 {
		return map[int]ReversalRate{}
	}

	// Rebuild chronological order and segment by (day, window index).
	chrono := make([]domain.Outcome, len(outs))
	for i, o := range outs {
		chrono[len(outs)-1-i] = o
	}

	type segment struct {
		idx  int
		key  string
		outs []domain.Outcome
	}
	var segments []segment
	for _, o := range chrono {
		idx := domain.WindowIndexAt(o.ObservedAt, loc)
		day := domain.DayOf(o.ObservedAt, loc)
		key := fmt.Sprintf("%s#%d", day, idx)
		if len(segments) == 0 || segments[len(segments)-1].key != key {
			segments = append(segments, segment{idx: idx, key: key})
		}
		last := &segments[len(segments)-1]
		last.outs = append(last.outs, o)
	}

	type counter struct{ events, clusterFlips, sizeFlips int }
	counters := make(map[int]*counter)
	for i := 1; i < len(segments); i++ {
		prev, cur := segments[i-1], segments[i]
		prevCluster, _ := DominantCluster(prev.outs)
		curCluster, _ := DominantCluster(cur.outs)
		prevSize, _ := DominantSize(prev.outs)
		curSize, _ := DominantSize(cur.outs)

		c := counters[cur.idx]
		if c == nil {
			c = &counter{}
			counters[cur.idx] = c
		}
		c.events++
		if curCluster != prevCluster {
			c.clusterFlips++
		}
		if curSize != prevSize {
			c.sizeFlips++
		}
	}

	rates := make(map[int]ReversalRate, len(counters))
	for idx, c := range counters {
		rates[idx] = ReversalRate{
			Events:          c.events,
			ClusterFlipRate: float64(c.clusterFlips) / float64(c.events),
			SizeFlipRate:    float64(c.sizeFlips) / float64(c.events),
		}
	}
	return rates
}
