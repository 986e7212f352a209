package syncengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"bitbucket.org/mmdatafocus/pos_device/models"
	"bitbucket.org/mmdatafocus/pos_device/utils"
)

var setupOnce sync.Once

func setupStore(t *testing.T) {
	t.Helper()
	setupOnce.Do(func() {
		dir, err := os.MkdirTemp("", "posdevice-engine-test-")
		if err != nil {
			panic(err)
		}
		os.Setenv("POS_DB_PATH", filepath.Join(dir, "pos_test.db"))
		config.ConnectDatabaseWithRetry()
		models.MigrateTable()
	})
}

func ctxForShop(shop string) context.Context {
	ctx := context.Background()
	ctx = utils.SetShopIdInContext(ctx, shop)
	ctx = utils.SetDeviceIdInContext(ctx, "device-test")
	return ctx
}

// pushServer is a scripted backend: respond decides the status code and body
// for the nth push (1-based). Every decoded request is recorded.
type pushServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []PushRequest
	respond  func(n int, req PushRequest) (int, string)
}

func newPushServer(t *testing.T, respond func(n int, req PushRequest) (int, string)) *pushServer {
	t.Helper()
	ps := &pushServer{respond: respond}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/offline/push" {
			http.NotFound(w, r)
			return
		}
		var req PushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ps.mu.Lock()
		ps.requests = append(ps.requests, req)
		n := len(ps.requests)
		ps.mu.Unlock()

		status, body := ps.respond(n, req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if body != "" {
			_, _ = w.Write([]byte(body))
		}
	}))
	t.Cleanup(ps.Server.Close)
	return ps
}

func (ps *pushServer) recorded() []PushRequest {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]PushRequest, len(ps.requests))
	copy(out, ps.requests)
	return out
}

// newTestEngine wires a drain engine against the scripted backend with fast
// retry knobs. Env is restored by t.Setenv at test end.
func newTestEngine(t *testing.T, baseURL string, shop string) *DrainEngine {
	t.Helper()
	t.Setenv("SYNC_API_BASE_URL", baseURL)
	t.Setenv("SYNC_PUSH_TIMEOUT_MS", "2000")
	t.Setenv("SYNC_BASE_BACKOFF_MS", "1")
	t.Setenv("SYNC_MAX_BACKOFF_MS", "10")
	t.Setenv("SYNC_MAX_PERMANENT_ATTEMPTS", "2")
	t.Setenv("SYNC_PAUSE_AFTER_FAILURES", "2")

	logger := config.GetLogger()
	server := NewServerClient()
	connectivity := NewConnectivityObserver(logger, "")
	return NewDrainEngine(logger, server, connectivity, shop)
}

func productStatus(t *testing.T, id string) (models.SyncStatus, *models.SyncAction) {
	t.Helper()
	var row models.Product
	if err := config.GetDB().Take(&row, "id = ?", id).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	return row.SyncStatus, row.ConflictAction
}

func queueEntriesFor(t *testing.T, entityType models.EntityType, entityId string) []models.QueueEntry {
	t.Helper()
	var entries []models.QueueEntry
	err := config.GetDB().
		Where("entity_type = ? AND target_entity_id = ?", entityType, entityId).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		t.Fatalf("list queue entries: %v", err)
	}
	return entries
}
