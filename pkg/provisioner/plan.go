package provisioner

import (
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/BayajidAlam/node-fleet/pkg/types"
)

// placement is one planned launch.
type placement struct {
	Zone   string
	Market types.Market
}

// planPlacements decides zone and market for n new workers. Markets aim
// the post-launch fleet at round(total * spotPct/100) spot workers,
// preferring spot up to the deficit. Zones fill lowest-count-first with
// ties broken by name, so a fleet divisible by the zone count ends up
// perfectly level.
func planPlacements(inventory []types.WorkerInstance, zones []string, n, spotPct int) []placement {
	if n <= 0 || len(zones) == 0 {
		return nil
	}

	total := len(inventory) + n
	spotTarget := int(math.Round(float64(total) * float64(spotPct) / 100))
	currentSpot := lo.CountBy(inventory, func(w types.WorkerInstance) bool {
		return w.Market == types.MarketSpot
	})
	spotToAdd := spotTarget - currentSpot
	if spotToAdd < 0 {
		spotToAdd = 0
	}
	if spotToAdd > n {
		spotToAdd = n
	}

	counts := make(map[string]int, len(zones))
	for _, z := range zones {
		counts[z] = 0
	}
	for _, w := range inventory {
		if _, ok := counts[w.Zone]; ok {
			counts[w.Zone]++
		}
	}

	placements := make([]placement, 0, n)
	for i := 0; i < n; i++ {
		zone := leastLoadedZone(counts, zones)
		market := types.MarketOnDemand
		if i < spotToAdd {
			market = types.MarketSpot
		}
		placements = append(placements, placement{Zone: zone, Market: market})
		counts[zone]++
	}
	return placements
}

func leastLoadedZone(counts map[string]int, zones []string) string {
	ordered := append([]string(nil), zones...)
	sort.Strings(ordered)

	best := ordered[0]
	for _, z := range ordered[1:] {
		if counts[z] < counts[best] {
			best = z
		}
	}
	return best
}
