package types

import (
	"time"
)

// ActionKind is the direction of a scaling action.
type ActionKind string

const (
	ActionUp   ActionKind = "up"
	ActionDown ActionKind = "down"
	ActionNoop ActionKind = "noop"
)

// Urgency classifies why a scaling intent was produced.
type Urgency string

const (
	UrgencyNormal     Urgency = "normal"
	UrgencyCritical   Urgency = "critical"
	UrgencyPredictive Urgency = "predictive"
	UrgencyCustom     Urgency = "custom"
)

// Market is the procurement mode of a worker instance.
type Market string

const (
	MarketSpot     Market = "spot"
	MarketOnDemand Market = "on_demand"
)

// Reason is a stable, machine-parseable cause code recorded with every
// decision and surfaced in notifications.
type Reason string

const (
	ReasonCritPending      Reason = "CRIT_PENDING"
	ReasonCritCPU          Reason = "CRIT_CPU"
	ReasonCPUSustained     Reason = "CPU_SUSTAINED"
	ReasonPendingSustained Reason = "PENDING_SUSTAINED"
	ReasonMemHigh          Reason = "MEM_HIGH"
	ReasonLatencyHigh      Reason = "LATENCY_SUSTAINED"
	ReasonErrorRateHigh    Reason = "ERROR_RATE_SUSTAINED"
	ReasonQueueDepthHigh   Reason = "QUEUE_DEPTH_SUSTAINED"
	ReasonPredictedLoad    Reason = "PREDICTED_LOAD"
	ReasonLowUtilization   Reason = "LOW_UTILIZATION"

	ReasonAtCapacity     Reason = "AT_CAPACITY"
	ReasonAtFloor        Reason = "AT_FLOOR"
	ReasonPendingPresent Reason = "PENDING_PRESENT"
	ReasonCooldownActive Reason = "COOLDOWN_ACTIVE"
	ReasonStabilizing    Reason = "STABILIZING"
	ReasonWindowShort    Reason = "WINDOW_SHORT"
	ReasonSteady         Reason = "STEADY"

	ReasonDrainTimeout  Reason = "DRAIN_TIMEOUT"
	ReasonQuotaExceeded Reason = "QUOTA_EXCEEDED"
	ReasonJoinTimeout   Reason = "JOIN_TIMEOUT"
	ReasonStateCorrect  Reason = "STATE_CORRECTED"
)

// Query names the metric queries the adapter resolves each tick.
type Query string

const (
	QueryCPU        Query = "cpu_utilization_pct"
	QueryMem        Query = "memory_utilization_pct"
	QueryPending    Query = "pending_pods_count"
	QueryLatencyP95 Query = "api_latency_p95_seconds"
	QueryErrorRate  Query = "error_rate_ratio"
	QueryQueueDepth Query = "queue_depth"
)

// CoreQueries are the queries a sample cannot be built without.
func CoreQueries() []Query {
	return []Query{QueryCPU, QueryMem, QueryPending}
}

// MetricSample is one tick's view of the cluster-level signals. Known
// records which values were actually resolved, so the decision engine can
// distinguish "value is 0" from "value unknown". Cached marks a sample
// served from the adapter's staleness window after a source failure.
type MetricSample struct {
	CapturedAt    time.Time `json:"t"`
	CPUPct        float64   `json:"cpu"`
	MemPct        float64   `json:"mem"`
	PendingPods   int       `json:"pending"`
	APILatencyP95 float64   `json:"api_latency_p95,omitempty"`
	ErrorRate     float64   `json:"error_rate,omitempty"`
	QueueDepth    float64   `json:"queue_depth,omitempty"`

	Known  map[Query]bool `json:"-"`
	Cached bool           `json:"-"`
}

// Has reports whether the sample carries a resolved value for q.
func (m MetricSample) Has(q Query) bool {
	return m.Known[q]
}

// Action records the last consequential decision applied to a cluster.
type Action struct {
	Kind   ActionKind `json:"kind"`
	At     time.Time  `json:"at"`
	Reason Reason     `json:"reason"`
}

// Lock is the distributed lock record that serializes reconcilers.
type Lock struct {
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the lock is past its TTL at the given instant.
func (l *Lock) Expired(now time.Time) bool {
	return l != nil && l.ExpiresAt.Before(now)
}

// ClusterState is the durable per-cluster record. It is created once per
// cluster and mutated atomically under the lock on every consequential tick.
type ClusterState struct {
	ClusterID          string         `json:"cluster_id"`
	DesiredWorkerCount int            `json:"desired_worker_count"`
	LastAction         Action         `json:"last_action"`
	CooldownUpUntil    time.Time      `json:"cooldown_up_until"`
	CooldownDownUntil  time.Time      `json:"cooldown_down_until"`
	Lock               *Lock          `json:"lock,omitempty"`
	MetricHistory      []MetricSample `json:"metric_history"`
}

// AppendSample appends m to the bounded metric history, evicting the oldest
// samples beyond limit. History stays ordered by capture time.
func (s *ClusterState) AppendSample(m MetricSample, limit int) {
	s.MetricHistory = append(s.MetricHistory, m)
	if limit > 0 && len(s.MetricHistory) > limit {
		s.MetricHistory = s.MetricHistory[len(s.MetricHistory)-limit:]
	}
}

// ScalingIntent is the decision engine's output for one tick.
type ScalingIntent struct {
	Action    ActionKind
	Magnitude int
	Urgency   Urgency
	Reason    Reason
}

// Noop builds a no-action intent with the given cause.
func Noop(reason Reason) ScalingIntent {
	return ScalingIntent{Action: ActionNoop, Reason: reason}
}

// WorkerInstance is a provider-side worker VM managed by the autoscaler.
// JoinTime is zero until the corresponding node reports ready.
type WorkerInstance struct {
	InstanceID string
	Zone       string
	Market     Market
	LaunchTime time.Time
	JoinTime   time.Time
	NodeName   string
	Tags       map[string]string
}

// Joined reports whether the instance's node has reported ready.
func (w WorkerInstance) Joined() bool {
	return !w.JoinTime.IsZero()
}

// Tag keys stamped on every launched worker. Only resources carrying
// TagClusterID for the managed cluster are ever touched.
const (
	TagRole      = "node-fleet/role"
	TagClusterID = "node-fleet/cluster-id"
	TagManagedBy = "node-fleet/managed-by"
	TagMarket    = "node-fleet/market"

	TagRoleWorker     = "worker"
	TagManagedByValue = "autoscaler"
)

// WorkerTags builds the tag set for a new worker in the given cluster.
func WorkerTags(clusterID string, market Market) map[string]string {
	return map[string]string{
		TagRole:      TagRoleWorker,
		TagClusterID: clusterID,
		TagManagedBy: TagManagedByValue,
		TagMarket:    string(market),
	}
}

// HistoricalMetric is an append-only, TTL-evicted record used by the
// predictive evaluator. Rows expire 30 days after capture.
type HistoricalMetric struct {
	Timestamp   time.Time `json:"timestamp"`
	ClusterID   string    `json:"cluster_id"`
	HourOfDay   int       `json:"hour_of_day"`
	DayOfWeek   int       `json:"day_of_week"`
	CPUPct      float64   `json:"cpu_pct"`
	PendingPods int       `json:"pending_pods"`
	TTL         time.Time `json:"ttl"`
}

// HistoricalTTL is how long predictive history is retained.
const HistoricalTTL = 30 * 24 * time.Hour

// NewHistoricalMetric derives a historical row from a sample.
func NewHistoricalMetric(clusterID string, m MetricSample) HistoricalMetric {
	return HistoricalMetric{
		Timestamp:   m.CapturedAt,
		ClusterID:   clusterID,
		HourOfDay:   m.CapturedAt.UTC().Hour(),
		DayOfWeek:   int(m.CapturedAt.UTC().Weekday()),
		CPUPct:      m.CPUPct,
		PendingPods: m.PendingPods,
		TTL:         m.CapturedAt.Add(HistoricalTTL),
	}
}
