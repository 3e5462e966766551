package notify

import (
	"time"

	"github.com/BayajidAlam/node-fleet/pkg/types"
)

// Event is the structured record emitted once per scaling decision.
type Event struct {
	ClusterID       string            `json:"cluster_id"`
	Kind            types.ActionKind  `json:"kind"`
	Magnitude       int               `json:"magnitude"`
	Reason          types.Reason      `json:"reason"`
	BeforeCount     int               `json:"before_count"`
	AfterCount      int               `json:"after_count"`
	ZoneBreakdown   map[string]int    `json:"zone_breakdown,omitempty"`
	MarketBreakdown map[string]int    `json:"market_breakdown,omitempty"`
	DurationMS      int64             `json:"duration_ms"`
	Timestamp       time.Time         `json:"timestamp"`
	Detail          map[string]string `json:"detail,omitempty"`
}

// Notifier delivers decision events. Delivery is best-effort: a failed
// delivery never affects the decision it describes.
type Notifier interface {
	Notify(event Event)
	Close()
}

// Nop discards all events.
type Nop struct{}

func (Nop) Notify(Event) {}
func (Nop) Close()       {}

// Breakdowns summarizes a worker inventory by zone and by market.
func Breakdowns(inventory []types.WorkerInstance) (zones, markets map[string]int) {
	zones = make(map[string]int)
	markets = make(map[string]int)
	for _, w := range inventory {
		zones[w.Zone]++
		markets[string(w.Market)]++
	}
	return zones, markets
}
