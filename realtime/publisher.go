package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"bitbucket.org/mmdatafocus/pos_device/models"
	"bitbucket.org/mmdatafocus/pos_device/utils"
	"github.com/sirupsen/logrus"
)

// Event is the invalidation message relayed to other devices on the shop.
// Data names what changed, never the change itself; receivers refetch.
type Event struct {
	Event  string    `json:"event"`
	ShopId string    `json:"shopId"`
	Data   EventData `json:"data"`
	At     int64     `json:"at"`
}

// EventData identifies the entity an event refers to.
type EventData struct {
	EntityType string `json:"entityType"`
	EntityId   string `json:"entityId"`
	Action     string `json:"action"`
	Status     string `json:"status"`
}

// Publisher forwards committed entity transitions to the realtime relay so
// sibling devices can invalidate their caches. Best effort by contract: a
// missed event costs one stale read until the next poll, so every failure is
// logged and swallowed.
type Publisher struct {
	logger   *logrus.Logger
	relayURL string
	deviceId string
	client   *http.Client
}

func NewPublisher(logger *logrus.Logger, deviceId string) *Publisher {
	timeoutMs := 2500
	if raw := os.Getenv("REALTIME_EMIT_TIMEOUT_MS"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeoutMs = parsed
		}
	}
	return &Publisher{
		logger:   logger,
		relayURL: os.Getenv("REALTIME_RELAY_URL"),
		deviceId: deviceId,
		client:   &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
	}
}

// PublishEntityChanged emits one invalidation event. Retries once on 5xx
// only: a timeout or a 4xx retried here would just double the damage.
func (p *Publisher) PublishEntityChanged(ctx context.Context, change models.EntityChange) {
	if !config.RealtimeEnabled() || p.relayURL == "" {
		return
	}

	event := Event{
		Event:  string(change.EntityType) + ".changed",
		ShopId: change.ShopId,
		Data: EventData{
			EntityType: string(change.EntityType),
			EntityId:   change.EntityId,
			Action:     string(change.Action),
			Status:     string(change.Status),
		},
		At: change.At.UnixMilli(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		config.LogError(p.logger, "realtime", "PublishEntityChanged", "encode event", nil, err)
		return
	}

	token, err := utils.RelayTokenGenerate(change.ShopId, p.deviceId)
	if err != nil {
		config.LogError(p.logger, "realtime", "PublishEntityChanged", "sign relay token", nil, err)
		return
	}

	statusCode, err := p.emit(ctx, body, token)
	if err == nil && statusCode >= 500 {
		// Retry once on a server error only. A timeout retried here would
		// hold up the drain loop, and a 4xx will not change its mind.
		statusCode, err = p.emit(ctx, body, token)
	}
	if err != nil || statusCode >= 400 {
		p.logger.WithFields(logrus.Fields{
			"status":     statusCode,
			"event":      event.Event,
			"entityType": event.Data.EntityType,
			"entityId":   event.Data.EntityId,
		}).Warn("relay emit failed; event dropped")
	}
}

func (p *Publisher) emit(ctx context.Context, body []byte, token string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.relayURL+"/emit", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
