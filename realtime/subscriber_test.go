package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"github.com/gorilla/websocket"
)

func newRelayWsServer(t *testing.T, events ...Event) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, event := range events {
			payload, _ := json.Marshal(event)
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
		// Hold the socket open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSubscriberDeliversShopEvents(t *testing.T) {
	srv := newRelayWsServer(t,
		Event{Event: "product.changed", ShopId: "other-shop", Data: EventData{EntityType: "product", EntityId: "ignored"}},
		Event{Event: "customer.changed", ShopId: "shop-sub", Data: EventData{EntityType: "customer", EntityId: "c1", Action: "update"}},
	)
	t.Setenv("REALTIME_RELAY_WS_URL", "ws"+strings.TrimPrefix(srv.URL, "http"))

	received := make(chan Event, 4)
	subscriber := NewSubscriber(config.GetLogger(), "shop-sub", "device-sub", func(event Event) {
		received <- event
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go subscriber.Run(ctx)

	select {
	case event := <-received:
		if event.ShopId != "shop-sub" || event.Data.EntityId != "c1" {
			t.Fatalf("event = %+v, want the shop's own event", event)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}

	select {
	case event := <-received:
		t.Fatalf("unexpected second event %+v; other shops must be filtered", event)
	case <-time.After(100 * time.Millisecond):
	}

	if !subscriber.Connected() {
		t.Fatal("subscriber must report connected while the socket is up")
	}
	if subscriber.LastChangeAt().IsZero() {
		t.Fatal("last change timestamp not recorded")
	}
}

func TestSubscriberDisabledByFeatureFlag(t *testing.T) {
	t.Setenv("REALTIME_ENABLED", "false")
	t.Setenv("REALTIME_RELAY_WS_URL", "ws://127.0.0.1:1")

	subscriber := NewSubscriber(config.GetLogger(), "shop-sub", "device-sub", nil)

	done := make(chan struct{})
	go func() {
		subscriber.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
		// returned immediately without dialing
	case <-time.After(time.Second):
		t.Fatal("disabled subscriber must return without connecting")
	}
}
