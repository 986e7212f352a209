package syncengine

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"bitbucket.org/mmdatafocus/pos_device/models"
	"github.com/sirupsen/logrus"
)

// ErrOffline is returned when a resolution needs the server but the device
// has no connectivity.
var ErrOffline = errors.New("device is offline; resolving with the server version requires connectivity")

// Resolver settles conflicted entities on operator request. UseServer pulls
// the live server version and needs connectivity; KeepLocal re-enqueues the
// device's version with force and works fully offline.
type Resolver struct {
	logger       *logrus.Logger
	server       *ServerClient
	connectivity *ConnectivityObserver
	engine       *DrainEngine
}

func NewResolver(logger *logrus.Logger, server *ServerClient, connectivity *ConnectivityObserver, engine *DrainEngine) *Resolver {
	return &Resolver{
		logger:       logger,
		server:       server,
		connectivity: connectivity,
		engine:       engine,
	}
}

// ResolveUseServer discards the local version: fetches the server's current
// copy and overwrites the mirror, or removes the row when the server no
// longer has the entity.
func (r *Resolver) ResolveUseServer(ctx context.Context, entityType models.EntityType, entityId string) error {
	if !r.connectivity.Online() {
		return ErrOffline
	}

	snapshot, found, err := r.server.FetchSnapshot(ctx, entityType, entityId)
	if err != nil {
		config.LogError(r.logger, "syncengine", "ResolveUseServer", "fetch snapshot", map[string]interface{}{
			"entityType": entityType,
			"entityId":   entityId,
		}, err)
		return err
	}

	if err := models.ResolveWithServerSnapshot(ctx, entityType, entityId, snapshot, found); err != nil {
		return err
	}
	r.logger.WithFields(logrus.Fields{
		"entityType":    entityType,
		"entityId":      entityId,
		"foundOnServer": found,
	}).Info("conflict resolved with server version")
	return nil
}

// ResolveKeepLocal overrides the server: the local version is re-stamped and
// re-enqueued with force. A drain is kicked immediately so the override lands
// as soon as connectivity allows.
func (r *Resolver) ResolveKeepLocal(ctx context.Context, entityType models.EntityType, entityId string) error {
	if err := models.ResolveKeepLocalEntity(ctx, entityType, entityId); err != nil {
		return err
	}
	r.logger.WithFields(logrus.Fields{
		"entityType": entityType,
		"entityId":   entityId,
	}).Info("conflict resolved keeping local version")

	if r.engine != nil {
		r.engine.SyncNow()
	}
	return nil
}
