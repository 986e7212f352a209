package syncengine

import (
	"context"
	"sync/atomic"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// EventPublisher forwards a committed entity transition to the realtime relay
// so other devices on the same shop can invalidate their caches. Publishing is
// fire-and-forget; implementations swallow their own failures.
type EventPublisher interface {
	PublishEntityChanged(ctx context.Context, change models.EntityChange)
}

// DrainEngine owns the mutation queue: it periodically claims head entries,
// pushes them to the backend and applies the outcome to both the queue and the
// entity mirror. Exactly one drain cycle runs at a time, guarded by the lease.
type DrainEngine struct {
	logger       *logrus.Logger
	server       *ServerClient
	connectivity *ConnectivityObserver
	publisher    EventPublisher

	shopId       string
	workerId     string
	batchSize    int
	pollInterval time.Duration
	lockTTL      time.Duration
	retry        drainRetryConfig
	tracer       trace.Tracer

	lease   *drainLease
	kick    chan struct{}
	syncing atomic.Bool

	// consecutiveTransient counts transient failures across cycles; it is only
	// touched from the drain goroutine.
	consecutiveTransient int
}

func NewDrainEngine(logger *logrus.Logger, server *ServerClient, connectivity *ConnectivityObserver, shopId string) *DrainEngine {
	lockTTL := durationFromEnvMs("SYNC_DRAIN_LOCK_TTL_MS", 60*time.Second)
	engine := &DrainEngine{
		logger:       logger,
		server:       server,
		connectivity: connectivity,
		shopId:       shopId,
		workerId:     "drain-" + uuid.NewString(),
		batchSize:    intFromEnv("SYNC_DRAIN_BATCH_SIZE", 50),
		pollInterval: durationFromEnvMs("SYNC_POLL_INTERVAL_MS", 15*time.Second),
		lockTTL:      lockTTL,
		retry:        loadDrainRetryConfig(),
		tracer:       otel.Tracer("pos_device/syncengine"),
		lease:        newDrainLease(shopId, lockTTL),
		kick:         make(chan struct{}, 1),
	}

	connectivity.OnChange(func(online bool) {
		if online {
			engine.SyncNow()
		}
	})
	return engine
}

func (e *DrainEngine) SetPublisher(publisher EventPublisher) {
	e.publisher = publisher
}

// Syncing reports whether a drain cycle is in flight right now.
func (e *DrainEngine) Syncing() bool {
	return e.syncing.Load()
}

// SyncNow requests an immediate drain. Coalesces: a kick while a cycle is
// already queued is a no-op, which is what a button-mashing operator wants.
func (e *DrainEngine) SyncNow() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run drives the drain loop until ctx is done. Cycles fire on the poll
// interval, on explicit kicks, and on offline->online transitions.
func (e *DrainEngine) Run(ctx context.Context) {
	e.logger.WithFields(logrus.Fields{
		"shopId":       e.shopId,
		"workerId":     e.workerId,
		"pollInterval": e.pollInterval.String(),
	}).Info("drain engine started")

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	// Drain whatever survived the last shutdown before the first tick.
	e.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("drain engine stopped")
			return
		case <-ticker.C:
			e.runCycle(ctx)
		case <-e.kick:
			e.runCycle(ctx)
		}
	}
}

func (e *DrainEngine) runCycle(ctx context.Context) {
	if !e.connectivity.Online() {
		return
	}

	pause, err := models.GetPause(ctx, e.shopId)
	if err != nil {
		e.logger.WithFields(logrus.Fields{"error": err.Error()}).Error("pause lookup failed")
		return
	}
	if pause != nil {
		e.logger.WithFields(logrus.Fields{
			"until":  pause.Until.Format(time.RFC3339),
			"reason": pause.Reason,
		}).Debug("sync paused; skipping drain cycle")
		return
	}

	acquired, err := e.lease.Acquire(ctx)
	if err != nil {
		e.logger.WithFields(logrus.Fields{"error": err.Error()}).Error("drain lease acquire failed")
		return
	}
	if !acquired {
		return
	}
	defer e.lease.Release(ctx)

	e.syncing.Store(true)
	defer e.syncing.Store(false)

	spanCtx, span := e.tracer.Start(ctx, "syncengine.drain")
	defer span.End()

	e.drainOnce(spanCtx)
}
