package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"bitbucket.org/mmdatafocus/pos_device/utils"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Subscriber holds a websocket to the relay and feeds invalidation events to
// a handler. Events are hints: a dropped connection or a missed event only
// delays a refetch, so the subscriber reconnects forever with backoff and
// never surfaces errors to the caller.
type Subscriber struct {
	logger   *logrus.Logger
	relayURL string
	shopId   string
	deviceId string
	handler  func(Event)

	connected    atomic.Bool
	lastChangeMu sync.Mutex
	lastChangeAt time.Time
}

func NewSubscriber(logger *logrus.Logger, shopId string, deviceId string, handler func(Event)) *Subscriber {
	return &Subscriber{
		logger:   logger,
		relayURL: os.Getenv("REALTIME_RELAY_WS_URL"),
		shopId:   shopId,
		deviceId: deviceId,
		handler:  handler,
	}
}

func (s *Subscriber) Connected() bool {
	return s.connected.Load()
}

// LastChangeAt is when the most recent event arrived; zero if none yet.
func (s *Subscriber) LastChangeAt() time.Time {
	s.lastChangeMu.Lock()
	defer s.lastChangeMu.Unlock()
	return s.lastChangeAt
}

// Run connects and reconnects until ctx is done.
func (s *Subscriber) Run(ctx context.Context) {
	if !config.RealtimeEnabled() || s.relayURL == "" {
		return
	}

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.listen(ctx)
		s.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"error":   err.Error(),
				"backoff": backoff.String(),
			}).Warn("relay subscription dropped; reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > time.Minute {
			backoff = time.Minute
		}
	}
}

func (s *Subscriber) listen(ctx context.Context) error {
	token, err := utils.RelayTokenGenerate(s.shopId, s.deviceId)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.relayURL+"/subscribe?shopId="+s.shopId, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.connected.Store(true)
	s.logger.WithFields(logrus.Fields{"shopId": s.shopId}).Info("relay subscription established")

	// Unblock the read loop when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var event Event
		if err := json.Unmarshal(message, &event); err != nil {
			s.logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("discarding malformed relay event")
			continue
		}
		if event.ShopId != s.shopId {
			continue
		}

		s.lastChangeMu.Lock()
		s.lastChangeAt = time.Now()
		s.lastChangeMu.Unlock()

		if s.handler != nil {
			s.handler(event)
		}
	}
}
