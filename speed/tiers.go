package speed

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultTierSpec is the deployed camera-to-speed banding: halt inside 1m,
// full programmed speed from 3m out.
const DefaultTierSpec = "0:0,1:0.3,2:0.7,3:1"

// Tier is a discrete speed level. Tier 0 is the slowest; higher tiers allow
// higher speed fractions.
type Tier int

// TierTable maps a distance in meters to a Tier and each Tier to its speed
// fraction. Bounds are inclusive lower bounds: a distance exactly on a bound
// selects the faster tier.
type TierTable struct {
	lowers    []float64
	fractions []float64
}

// ParseTierSpec parses a comma-separated list of "lower:fraction" entries,
// e.g. "0:0,1:0.3,2:0.7,3:1". Entries must have strictly increasing finite
// lower bounds and non-decreasing fractions within [0, 1].
func ParseTierSpec(spec string) (TierTable, error) {
	var table TierTable

	entries := strings.Split(spec, ",")
	if len(entries) < 2 {
		return table, fmt.Errorf("tier spec %q needs at least 2 tiers", spec)
	}

	for _, entry := range entries {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 {
			return TierTable{}, fmt.Errorf("invalid tier entry %q (want lower:fraction)", entry)
		}

		lower, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return TierTable{}, fmt.Errorf("invalid tier bound %q: %v", parts[0], err)
		}

		fraction, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return TierTable{}, fmt.Errorf("invalid tier fraction %q: %v", parts[1], err)
		}

		table.lowers = append(table.lowers, lower)
		table.fractions = append(table.fractions, fraction)
	}

	for i := range table.lowers {
		// strconv.ParseFloat accepts "NaN" and "Inf", and NaN compares
		// false against every check below.
		if math.IsNaN(table.lowers[i]) || math.IsInf(table.lowers[i], 0) {
			return TierTable{}, fmt.Errorf("tier bound %v is not finite", table.lowers[i])
		}
		if math.IsNaN(table.fractions[i]) || math.IsInf(table.fractions[i], 0) {
			return TierTable{}, fmt.Errorf("tier fraction %v is not finite", table.fractions[i])
		}
		if table.fractions[i] < 0.0 || table.fractions[i] > 1.0 {
			return TierTable{}, fmt.Errorf("tier fraction %v out of range [0, 1]", table.fractions[i])
		}
		if i == 0 {
			continue
		}
		if table.lowers[i] <= table.lowers[i-1] {
			return TierTable{}, fmt.Errorf("tier bounds must be strictly increasing (%v after %v)",
				table.lowers[i], table.lowers[i-1])
		}
		if table.fractions[i] < table.fractions[i-1] {
			return TierTable{}, fmt.Errorf("tier fractions must not decrease with distance (%v after %v)",
				table.fractions[i], table.fractions[i-1])
		}
	}

	return table, nil
}

// TierCount returns the number of configured tiers
func (t TierTable) TierCount() int {
	return len(t.lowers)
}

// TierFor returns the tier for a distance. Distances below the first bound
// clamp to the lowest tier; NaN compares false against every bound and lands
// there too.
func (t TierTable) TierFor(meters float64) Tier {
	tier := Tier(0)
	for i, lower := range t.lowers {
		if meters >= lower {
			tier = Tier(i)
		}
	}
	return tier
}

// FractionFor returns the speed fraction for a tier, clamping out-of-range
// tiers to the table edges.
func (t TierTable) FractionFor(tier Tier) float64 {
	if len(t.fractions) == 0 {
		return 0.0
	}
	if tier < 0 {
		tier = 0
	}
	if int(tier) >= len(t.fractions) {
		tier = Tier(len(t.fractions) - 1)
	}
	return t.fractions[int(tier)]
}

// clamp01 bounds a fraction to [0, 1]. NaN maps to 0, the halt value.
func clamp01(f float64) float64 {
	if math.IsNaN(f) {
		return 0.0
	}
	if f < 0.0 {
		return 0.0
	}
	if f > 1.0 {
		return 1.0
	}
	return f
}
