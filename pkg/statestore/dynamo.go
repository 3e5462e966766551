package statestore

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/BayajidAlam/node-fleet/pkg/errdefs"
	"github.com/BayajidAlam/node-fleet/pkg/types"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore implements Store on two DynamoDB tables: a state table keyed
// by cluster_id and an append-only history table keyed by cluster_id plus
// timestamp, with TTL enabled on the ttl attribute.
type DynamoStore struct {
	client       DynamoAPI
	stateTable   string
	historyTable string
}

// NewDynamoStore creates a DynamoDB-backed store.
func NewDynamoStore(client DynamoAPI, stateTable, historyTable string) *DynamoStore {
	return &DynamoStore{
		client:       client,
		stateTable:   stateTable,
		historyTable: historyTable,
	}
}

// Wire records. Timestamps are epoch seconds in the table; history entries
// keep the {t, cpu, mem, pending} shape.
type ddbLock struct {
	HolderID   string `dynamodbav:"holder_id"`
	AcquiredAt int64  `dynamodbav:"acquired_at"`
	ExpiresAt  int64  `dynamodbav:"expires_at"`
}

type ddbAction struct {
	Kind   string `dynamodbav:"kind"`
	At     int64  `dynamodbav:"at"`
	Reason string `dynamodbav:"reason"`
}

type ddbSample struct {
	T       int64   `dynamodbav:"t"`
	CPU     float64 `dynamodbav:"cpu"`
	Mem     float64 `dynamodbav:"mem"`
	Pending int     `dynamodbav:"pending"`
}

type ddbState struct {
	ClusterID          string      `dynamodbav:"cluster_id"`
	DesiredWorkerCount int         `dynamodbav:"desired_worker_count"`
	LastAction         ddbAction   `dynamodbav:"last_action"`
	CooldownUpUntil    int64       `dynamodbav:"cooldown_up_until"`
	CooldownDownUntil  int64       `dynamodbav:"cooldown_down_until"`
	Lock               *ddbLock    `dynamodbav:"lck,omitempty"`
	MetricHistory      []ddbSample `dynamodbav:"metric_history"`
}

type ddbHistorical struct {
	ClusterID   string  `dynamodbav:"cluster_id"`
	Timestamp   string  `dynamodbav:"timestamp"`
	HourOfDay   int     `dynamodbav:"hour_of_day"`
	DayOfWeek   int     `dynamodbav:"day_of_week"`
	CPUPct      float64 `dynamodbav:"cpu_pct"`
	PendingPods int     `dynamodbav:"pending_pods"`
	TTL         int64   `dynamodbav:"ttl"`
}

func toWire(s *types.ClusterState) ddbState {
	w := ddbState{
		ClusterID:          s.ClusterID,
		DesiredWorkerCount: s.DesiredWorkerCount,
		LastAction: ddbAction{
			Kind:   string(s.LastAction.Kind),
			At:     epoch(s.LastAction.At),
			Reason: string(s.LastAction.Reason),
		},
		CooldownUpUntil:   epoch(s.CooldownUpUntil),
		CooldownDownUntil: epoch(s.CooldownDownUntil),
	}
	if s.Lock != nil {
		w.Lock = &ddbLock{
			HolderID:   s.Lock.HolderID,
			AcquiredAt: epoch(s.Lock.AcquiredAt),
			ExpiresAt:  epoch(s.Lock.ExpiresAt),
		}
	}
	for _, m := range s.MetricHistory {
		w.MetricHistory = append(w.MetricHistory, ddbSample{
			T:       epoch(m.CapturedAt),
			CPU:     m.CPUPct,
			Mem:     m.MemPct,
			Pending: m.PendingPods,
		})
	}
	return w
}

func fromWire(w ddbState) *types.ClusterState {
	s := &types.ClusterState{
		ClusterID:          w.ClusterID,
		DesiredWorkerCount: w.DesiredWorkerCount,
		LastAction: types.Action{
			Kind:   types.ActionKind(w.LastAction.Kind),
			At:     fromEpoch(w.LastAction.At),
			Reason: types.Reason(w.LastAction.Reason),
		},
		CooldownUpUntil:   fromEpoch(w.CooldownUpUntil),
		CooldownDownUntil: fromEpoch(w.CooldownDownUntil),
	}
	if w.Lock != nil {
		s.Lock = &types.Lock{
			HolderID:   w.Lock.HolderID,
			AcquiredAt: fromEpoch(w.Lock.AcquiredAt),
			ExpiresAt:  fromEpoch(w.Lock.ExpiresAt),
		}
	}
	for _, m := range w.MetricHistory {
		s.MetricHistory = append(s.MetricHistory, types.MetricSample{
			CapturedAt:  fromEpoch(m.T),
			CPUPct:      m.CPU,
			MemPct:      m.Mem,
			PendingPods: m.Pending,
		})
	}
	return s
}

func epoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromEpoch(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

func (s *DynamoStore) key(clusterID string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"cluster_id": &ddbtypes.AttributeValueMemberS{Value: clusterID},
	}
}

func (s *DynamoStore) Get(ctx context.Context, clusterID string) (*types.ClusterState, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.stateTable),
		Key:            s.key(clusterID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindTransport, "statestore.Get", err)
	}
	if len(out.Item) == 0 {
		return &types.ClusterState{ClusterID: clusterID}, nil
	}
	var w ddbState
	if err := attributevalue.UnmarshalMap(out.Item, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return fromWire(w), nil
}

func (s *DynamoStore) AcquireLock(ctx context.Context, clusterID, holderID string, ttl time.Duration, now time.Time) (*Acquisition, error) {
	lock, err := attributevalue.Marshal(ddbLock{
		HolderID:   holderID,
		AcquiredAt: now.Unix(),
		ExpiresAt:  now.Add(ttl).Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.stateTable),
		Key:                 s.key(clusterID),
		UpdateExpression:    aws.String("SET #lk = :lk, cluster_id = :cid"),
		ConditionExpression: aws.String("attribute_not_exists(#lk) OR #lk.expires_at < :now"),
		ExpressionAttributeNames: map[string]string{
			"#lk": "lck",
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":lk":  lock,
			":now": &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
			":cid": &ddbtypes.AttributeValueMemberS{Value: clusterID},
		},
		ReturnValues: ddbtypes.ReturnValueAllOld,
	})
	if err != nil {
		return nil, errdefs.ClassifyConditional("statestore.AcquireLock", errdefs.KindLockContended, err)
	}

	acq := &Acquisition{State: &types.ClusterState{ClusterID: clusterID}}
	if len(out.Attributes) > 0 {
		var w ddbState
		if err := attributevalue.UnmarshalMap(out.Attributes, &w); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		prior := fromWire(w)
		// A lock present in the prior image means we took over from an
		// expired holder, not a free lock.
		acq.TakenFromExpired = prior.Lock != nil
		prior.Lock = nil
		acq.State = prior
	}
	acq.State.Lock = &types.Lock{
		HolderID:   holderID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	return acq, nil
}

func (s *DynamoStore) ReleaseLock(ctx context.Context, clusterID, holderID string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.stateTable),
		Key:                 s.key(clusterID),
		UpdateExpression:    aws.String("REMOVE #lk"),
		ConditionExpression: aws.String("#lk.holder_id = :holder"),
		ExpressionAttributeNames: map[string]string{
			"#lk": "lck",
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":holder": &ddbtypes.AttributeValueMemberS{Value: holderID},
		},
	})
	if err != nil {
		return errdefs.ClassifyConditional("statestore.ReleaseLock", errdefs.KindStateConflict, err)
	}
	return nil
}

func (s *DynamoStore) Update(ctx context.Context, state *types.ClusterState, holderID string) error {
	item, err := attributevalue.MarshalMap(toWire(state))
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.stateTable),
		Item:                item,
		ConditionExpression: aws.String("#lk.holder_id = :holder"),
		ExpressionAttributeNames: map[string]string{
			"#lk": "lck",
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":holder": &ddbtypes.AttributeValueMemberS{Value: holderID},
		},
	})
	if err != nil {
		return errdefs.ClassifyConditional("statestore.Update", errdefs.KindStateConflict, err)
	}
	return nil
}

func (s *DynamoStore) AppendHistorical(ctx context.Context, m types.HistoricalMetric) error {
	item, err := attributevalue.MarshalMap(ddbHistorical{
		ClusterID:   m.ClusterID,
		Timestamp:   m.Timestamp.UTC().Format(time.RFC3339),
		HourOfDay:   m.HourOfDay,
		DayOfWeek:   m.DayOfWeek,
		CPUPct:      m.CPUPct,
		PendingPods: m.PendingPods,
		TTL:         m.TTL.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal historical metric: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.historyTable),
		Item:      item,
	})
	if err != nil {
		return errdefs.Wrap(errdefs.KindTransport, "statestore.AppendHistorical", err)
	}
	return nil
}

func (s *DynamoStore) HistoricalWindow(ctx context.Context, clusterID string, since time.Time) ([]types.HistoricalMetric, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.historyTable),
		KeyConditionExpression: aws.String("cluster_id = :cid AND #ts >= :since"),
		ExpressionAttributeNames: map[string]string{
			"#ts": "timestamp",
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":cid":   &ddbtypes.AttributeValueMemberS{Value: clusterID},
			":since": &ddbtypes.AttributeValueMemberS{Value: since.UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindTransport, "statestore.HistoricalWindow", err)
	}
	var rows []types.HistoricalMetric
	for _, item := range out.Items {
		var w ddbHistorical
		if err := attributevalue.UnmarshalMap(item, &w); err != nil {
			return nil, fmt.Errorf("failed to unmarshal historical metric: %w", err)
		}
		ts, err := time.Parse(time.RFC3339, w.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse historical timestamp: %w", err)
		}
		rows = append(rows, types.HistoricalMetric{
			Timestamp:   ts,
			ClusterID:   w.ClusterID,
			HourOfDay:   w.HourOfDay,
			DayOfWeek:   w.DayOfWeek,
			CPUPct:      w.CPUPct,
			PendingPods: w.PendingPods,
			TTL:         time.Unix(w.TTL, 0).UTC(),
		})
	}
	return rows, nil
}

func (s *DynamoStore) Close() error {
	return nil
}
