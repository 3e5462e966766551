package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BayajidAlam/node-fleet/pkg/types"
)

// TestWebhookDelivers tests JSON delivery to the sink
func TestWebhookDelivers(t *testing.T) {
	var mu sync.Mutex
	var received []Event

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var e Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&e))
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	w.Notify(Event{
		ClusterID:   "test-cluster",
		Kind:        types.ActionUp,
		Magnitude:   2,
		Reason:      types.ReasonCritPending,
		BeforeCount: 3,
		AfterCount:  5,
		ZoneBreakdown: map[string]int{
			"us-east-1a": 3,
			"us-east-1b": 2,
		},
		DurationMS: 4200,
	})
	w.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, types.ActionUp, received[0].Kind)
	assert.Equal(t, 2, received[0].Magnitude)
	assert.Equal(t, 5, received[0].AfterCount)
	assert.Equal(t, 3, received[0].ZoneBreakdown["us-east-1a"])
	assert.False(t, received[0].Timestamp.IsZero())
}

// TestWebhookFailureIsSilent tests that a dead sink never surfaces errors
func TestWebhookFailureIsSilent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	w.Notify(Event{Kind: types.ActionDown, Magnitude: 1})

	done := make(chan struct{})
	go func() {
		w.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not return")
	}
}

// TestBreakdowns tests inventory summarization
func TestBreakdowns(t *testing.T) {
	inventory := []types.WorkerInstance{
		{InstanceID: "i-1", Zone: "us-east-1a", Market: types.MarketSpot},
		{InstanceID: "i-2", Zone: "us-east-1a", Market: types.MarketOnDemand},
		{InstanceID: "i-3", Zone: "us-east-1b", Market: types.MarketSpot},
	}

	zones, markets := Breakdowns(inventory)
	assert.Equal(t, map[string]int{"us-east-1a": 2, "us-east-1b": 1}, zones)
	assert.Equal(t, map[string]int{"spot": 2, "on_demand": 1}, markets)
}
