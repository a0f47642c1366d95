package can

import (
	"fmt"
	"math/bits"
)

// FilterConfiguration describes one hardware acceptance filter slot: a frame
// is accepted when (frame.Identifier & Mask) == (Identifier & Mask).
type FilterConfiguration struct {
	Identifier uint32
	Mask       uint32
}

// rank scores how selective a filter is: more masked (fixed) bits is better.
// A filter whose mask does not cover the service-not-message bit 25 (i.e. it
// would also accept frames of the other CAN ID format class) is penalized, since such
// a filter wastes a hardware slot matching traffic it cannot actually
// distinguish as message vs. service.
func (f FilterConfiguration) rank() int {
	r := bits.OnesCount32(f.Mask)
	if f.Mask&(1<<25) == 0 {
		r--
	}
	return r
}

// String renders the filter as a 29-bit mask pattern, with 'x' for
// don't-care bits, matching the diagnostic format used for logging filter
// reconfiguration.
func (f FilterConfiguration) String() string {
	out := make([]byte, 29)
	for i := 0; i < 29; i++ {
		bit := uint32(1) << (28 - i)
		switch {
		case f.Mask&bit == 0:
			out[i] = 'x'
		case f.Identifier&bit != 0:
			out[i] = '1'
		default:
			out[i] = '0'
		}
	}
	return "ext:" + string(out)
}

// merge produces the narrowest filter that accepts the union of what a and b
// each accept: bits the two filters disagree on (either in mask coverage or
// in identifier value) become don't-care.
func merge(a, b FilterConfiguration) FilterConfiguration {
	mask := a.Mask & b.Mask & ^(a.Identifier ^ b.Identifier)
	return FilterConfiguration{Identifier: a.Identifier & mask, Mask: mask}
}

// OptimizeFilterConfigurations reduces configs to at most maxCount entries
// by greedily merging the pair whose merge result has the highest rank
// (i.e. the pair that loses the least selectivity), repeating until the
// budget is met. This is O(K^3) in the number of filters, acceptable since
// K is a small hardware-imposed constant (CAN controllers rarely expose
// more than a few dozen filter slots).
func OptimizeFilterConfigurations(configs []FilterConfiguration, maxCount int) ([]FilterConfiguration, error) {
	if maxCount <= 0 {
		return nil, fmt.Errorf("can: maxCount must be positive")
	}
	out := append([]FilterConfiguration(nil), configs...)
	for len(out) > maxCount {
		bestI, bestJ, bestRank := -1, -1, -1
		for i := 0; i < len(out); i++ {
			for j := i + 1; j < len(out); j++ {
				m := merge(out[i], out[j])
				if r := m.rank(); r > bestRank {
					bestI, bestJ, bestRank = i, j, r
				}
			}
		}
		merged := merge(out[bestI], out[bestJ])
		next := make([]FilterConfiguration, 0, len(out)-1)
		for k, c := range out {
			if k == bestI || k == bestJ {
				continue
			}
			next = append(next, c)
		}
		next = append(next, merged)
		out = next
	}
	return out, nil
}
