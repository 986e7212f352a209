package realtime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"bitbucket.org/mmdatafocus/pos_device/models"
	"bitbucket.org/mmdatafocus/pos_device/utils"
)

type relayStub struct {
	*httptest.Server
	mu     sync.Mutex
	events []Event
	tokens []string
	status []int
}

func newRelayStub(t *testing.T, statuses ...int) *relayStub {
	t.Helper()
	rs := &relayStub{status: statuses}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event Event
		_ = json.NewDecoder(r.Body).Decode(&event)

		rs.mu.Lock()
		rs.events = append(rs.events, event)
		rs.tokens = append(rs.tokens, r.Header.Get("Authorization"))
		n := len(rs.events)
		rs.mu.Unlock()

		status := http.StatusNoContent
		if n <= len(rs.status) {
			status = rs.status[n-1]
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(rs.Server.Close)
	return rs
}

func (rs *relayStub) count() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.events)
}

func testChange() models.EntityChange {
	return models.EntityChange{
		ShopId:     "shop-relay",
		EntityType: models.EntityTypeProduct,
		EntityId:   "p1",
		Status:     models.SyncStatusSynced,
		Action:     models.SyncActionUpdate,
		At:         time.Now(),
	}
}

func TestPublishSendsSignedEvent(t *testing.T) {
	rs := newRelayStub(t, http.StatusNoContent)
	t.Setenv("REALTIME_RELAY_URL", rs.URL)

	publisher := NewPublisher(config.GetLogger(), "device-pub")
	publisher.PublishEntityChanged(context.Background(), testChange())

	if rs.count() != 1 {
		t.Fatalf("emits = %d, want 1", rs.count())
	}
	event := rs.events[0]
	if event.Event != "product.changed" || event.ShopId != "shop-relay" {
		t.Fatalf("event = %+v, want a named product.changed event for the shop", event)
	}
	if event.Data.EntityType != "product" || event.Data.EntityId != "p1" {
		t.Fatalf("data = %+v, want identifiers only", event.Data)
	}
	if event.At == 0 {
		t.Fatal("event timestamp missing")
	}

	token := rs.tokens[0]
	if len(token) < 8 || token[:7] != "Bearer " {
		t.Fatalf("authorization = %q, want a bearer token", token)
	}
	parsed, err := utils.RelayTokenValidate(token[7:])
	if err != nil || !parsed.Valid {
		t.Fatalf("relay token invalid: %v", err)
	}
	claims, ok := parsed.Claims.(*utils.RelayClaim)
	if !ok || claims.ShopId != "shop-relay" || claims.DeviceId != "device-pub" {
		t.Fatalf("claims = %+v, want shop and device bound", parsed.Claims)
	}
}

func TestPublishBodyMatchesRelayContract(t *testing.T) {
	bodyCh := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		bodyCh <- raw
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	t.Setenv("REALTIME_RELAY_URL", srv.URL)

	publisher := NewPublisher(config.GetLogger(), "device-pub")
	publisher.PublishEntityChanged(context.Background(), testChange())

	var raw []byte
	select {
	case raw = <-bodyCh:
	case <-time.After(5 * time.Second):
		t.Fatal("no emit received")
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	for _, key := range []string{"event", "shopId", "data", "at"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("emit body missing %q: %s", key, raw)
		}
	}
	var data map[string]string
	if err := json.Unmarshal(decoded["data"], &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data["entityType"] != "product" || data["entityId"] != "p1" {
		t.Fatalf("data = %v, want the entity identifiers", data)
	}
}

func TestPublishRetriesOnceOnServerError(t *testing.T) {
	rs := newRelayStub(t, http.StatusInternalServerError, http.StatusInternalServerError)
	t.Setenv("REALTIME_RELAY_URL", rs.URL)

	publisher := NewPublisher(config.GetLogger(), "device-pub")
	publisher.PublishEntityChanged(context.Background(), testChange())

	if rs.count() != 2 {
		t.Fatalf("emits = %d, want exactly one retry on 5xx", rs.count())
	}
}

func TestPublishDoesNotRetryClientError(t *testing.T) {
	rs := newRelayStub(t, http.StatusBadRequest)
	t.Setenv("REALTIME_RELAY_URL", rs.URL)

	publisher := NewPublisher(config.GetLogger(), "device-pub")
	publisher.PublishEntityChanged(context.Background(), testChange())

	if rs.count() != 1 {
		t.Fatalf("emits = %d, want no retry on 4xx", rs.count())
	}
}

func TestPublishSwallowsTransportFailure(t *testing.T) {
	rs := newRelayStub(t)
	t.Setenv("REALTIME_RELAY_URL", rs.URL)
	rs.Close()

	publisher := NewPublisher(config.GetLogger(), "device-pub")
	// Must not panic or block; the event is simply dropped.
	publisher.PublishEntityChanged(context.Background(), testChange())
}

func TestPublishDisabledByFeatureFlag(t *testing.T) {
	rs := newRelayStub(t, http.StatusNoContent)
	t.Setenv("REALTIME_RELAY_URL", rs.URL)
	t.Setenv("REALTIME_ENABLED", "false")

	publisher := NewPublisher(config.GetLogger(), "device-pub")
	publisher.PublishEntityChanged(context.Background(), testChange())

	if rs.count() != 0 {
		t.Fatalf("emits = %d, want none while disabled", rs.count())
	}
}
