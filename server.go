package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"bitbucket.org/mmdatafocus/pos_device/models"
	"bitbucket.org/mmdatafocus/pos_device/realtime"
	"bitbucket.org/mmdatafocus/pos_device/syncengine"
	"bitbucket.org/mmdatafocus/pos_device/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultPort = "8081"

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	shopId := os.Getenv("DEVICE_SHOP_ID")
	if shopId == "" {
		shopId = "shop-local"
	}
	deviceId := os.Getenv("DEVICE_ID")
	if deviceId == "" {
		deviceId = uuid.NewString()
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Sync machinery is wired before the router so handlers can close over it.
	// None of it touches the store until the DB is connected below.
	server := syncengine.NewServerClient()
	connectivity := syncengine.NewConnectivityObserver(logger, server.ProbeURL())
	engine := syncengine.NewDrainEngine(logger, server, connectivity, shopId)
	engine.SetPublisher(realtime.NewPublisher(logger, deviceId))
	resolver := syncengine.NewResolver(logger, server, connectivity, engine)
	subscriber := realtime.NewSubscriber(logger, shopId, deviceId, relayInvalidationHandler(logger, server, connectivity))

	// Start the HTTP server ASAP; app endpoints return 503 until the DB is up.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS"))
	if allowedOrigins != "" {
		corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id", "x-operator")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(deviceContextMiddleware(shopId, deviceId))
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.GET("/sync/status", syncStatusHandler(engine, subscriber))
	r.POST("/sync/now", syncNowHandler(engine))
	r.POST("/sync/pause", syncPauseHandler(engine))
	r.DELETE("/sync/pause", syncResumeHandler(engine))
	r.GET("/sync/dead", syncDeadHandler(shopId))
	r.GET("/sync/dead/export", syncDeadExportHandler(shopId))
	r.POST("/sync/resolve", syncResolveHandler(resolver))
	r.POST("/connectivity", connectivityHandler(connectivity))

	r.GET("/products", listProductsHandler())
	r.POST("/products", createProductHandler())
	r.GET("/products/:id", getProductHandler())
	r.PUT("/products/:id", updateProductHandler())
	r.DELETE("/products/:id", deleteProductHandler())

	r.GET("/expenses", listExpensesHandler())
	r.POST("/expenses", createExpenseHandler())
	r.GET("/expenses/:id", getExpenseHandler())
	r.PUT("/expenses/:id", updateExpenseHandler())
	r.DELETE("/expenses/:id", deleteExpenseHandler())

	r.GET("/cash-entries", listCashEntriesHandler())
	r.POST("/cash-entries", createCashEntryHandler())
	r.GET("/cash-entries/:id", getCashEntryHandler())
	r.PUT("/cash-entries/:id", updateCashEntryHandler())
	r.DELETE("/cash-entries/:id", deleteCashEntryHandler())

	r.GET("/customers", listCustomersHandler())
	r.POST("/customers", createCustomerHandler())
	r.GET("/customers/:id", getCustomerHandler())
	r.PUT("/customers/:id", updateCustomerHandler())
	r.DELETE("/customers/:id", deleteCustomerHandler())
	r.POST("/customers/:id/due", addCustomerDueHandler())

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisIfConfigured()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	models.RefreshPendingGauge(context.Background(), shopId)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go engine.Run(workerCtx)
	go connectivity.Run(workerCtx)
	go subscriber.Run(workerCtx)

	logger.WithFields(logrus.Fields{
		"shopId":   shopId,
		"deviceId": deviceId,
		"port":     port,
	}).Info("pos device sync daemon ready")
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop workers first so no drain cycle starts while we're going down.
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		// The pending mirror is only fresh while the daemon runs.
		_ = config.RemoveRedisKey("possync:pending:" + shopId)
		_ = rdb.Close()
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// deviceContextMiddleware stamps the device identity on every request context.
// The daemon serves exactly one shop; multi-tenancy lives on the backend.
func deviceContextMiddleware(shopId string, deviceId string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ctx = utils.SetShopIdInContext(ctx, shopId)
		ctx = utils.SetDeviceIdInContext(ctx, deviceId)
		if operator := c.GetHeader("x-operator"); operator != "" {
			ctx = utils.SetOperatorNameInContext(ctx, operator)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// customErrorLogger logs only requests that recorded errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// relayInvalidationHandler refreshes the local mirror when a sibling device
// changed an entity. Only rows with nothing pending locally are touched: a
// pending local edit or an unresolved conflict always wins over a hint.
func relayInvalidationHandler(logger *logrus.Logger, server *syncengine.ServerClient, connectivity *syncengine.ConnectivityObserver) func(realtime.Event) {
	return func(event realtime.Event) {
		if !connectivity.Online() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		entityType := models.EntityType(event.Data.EntityType)
		status, err := models.GetEntitySyncStatus(ctx, entityType, event.Data.EntityId)
		if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
			return
		}
		if err == nil && status != models.SyncStatusSynced {
			return
		}

		snapshot, found, err := server.FetchSnapshot(ctx, entityType, event.Data.EntityId)
		if err != nil {
			config.LogError(logger, "server.go", "relayInvalidationHandler", "fetch snapshot", map[string]interface{}{
				"entityType": event.Data.EntityType,
				"entityId":   event.Data.EntityId,
			}, err)
			return
		}

		err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if !found {
				return models.DeleteEntityRow(tx, entityType, event.Data.EntityId)
			}
			return models.ApplyServerSnapshot(tx, entityType, event.Data.EntityId, snapshot, false)
		})
		if err != nil && !errors.Is(err, utils.ErrorEntityConflicted) {
			config.LogError(logger, "server.go", "relayInvalidationHandler", "apply snapshot", map[string]interface{}{
				"entityType": event.Data.EntityType,
				"entityId":   event.Data.EntityId,
			}, err)
		}
	}
}

func respondError(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorEntityConflicted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotConflicted), errors.Is(err, models.ErrUnknownEntityType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, syncengine.ErrOffline):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.As(err, &validationErrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func syncStatusHandler(engine *syncengine.DrainEngine, subscriber *realtime.Subscriber) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := engine.StatusReport(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		response := gin.H{
			"online":            report.Online,
			"syncing":           report.Syncing,
			"pending_count":     report.PendingCount,
			"dead_count":        report.DeadCount,
			"last_sync_at":      report.LastSyncAt,
			"last_error":        report.LastError,
			"paused_until":      report.PausedUntil,
			"pause_reason":      report.PauseReason,
			"relay_connected":   subscriber.Connected(),
			"relay_last_change": nil,
		}
		if at := subscriber.LastChangeAt(); !at.IsZero() {
			response["relay_last_change"] = at
		}
		c.JSON(http.StatusOK, response)
	}
}

func syncNowHandler(engine *syncengine.DrainEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		engine.SyncNow()
		c.JSON(http.StatusAccepted, gin.H{"status": "sync requested"})
	}
}

func syncPauseHandler(engine *syncengine.DrainEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Reason string `json:"reason"`
			TtlMs  int64  `json:"ttl_ms"`
		}
		// An empty body pauses with defaults; anything unparseable is rejected.
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if err := engine.Pause(c.Request.Context(), body.Reason, time.Duration(body.TtlMs)*time.Millisecond); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "paused"})
	}
}

func syncResumeHandler(engine *syncengine.DrainEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := engine.Resume(c.Request.Context()); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "resumed"})
	}
}

func syncDeadHandler(shopId string) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := models.ListDeadQueueEntries(c.Request.Context(), shopId)
		if err != nil {
			respondError(c, err)
			return
		}
		// Payload is stored as a blob; decode it so the UI gets JSON, not base64.
		out := make([]gin.H, 0, len(entries))
		for _, entry := range entries {
			payload, _ := entry.DecodePayload()
			out = append(out, gin.H{
				"id":               entry.ID,
				"entity_type":      entry.EntityType,
				"target_entity_id": entry.TargetEntityId,
				"action":           entry.Action,
				"attempts":         entry.Attempts,
				"last_error":       entry.LastError,
				"idempotency_key":  entry.IdempotencyKey,
				"created_at":       entry.CreatedAt,
				"payload":          payload,
			})
		}
		c.JSON(http.StatusOK, gin.H{"entries": out, "count": len(out)})
	}
}

func syncDeadExportHandler(shopId string) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, err := syncengine.BuildDeadLetterWorkbook(c.Request.Context(), shopId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="dead_letters.xlsx"`)
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		if err := file.Write(c.Writer); err != nil {
			config.LogError(config.GetLogger(), "server.go", "syncDeadExportHandler", "write workbook", nil, err)
		}
	}
}

func syncResolveHandler(resolver *syncengine.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			EntityType string `json:"entity_type" binding:"required"`
			EntityId   string `json:"entity_id" binding:"required"`
			Strategy   string `json:"strategy" binding:"required,oneof=use_server keep_local"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		entityType := models.EntityType(body.EntityType)
		var err error
		if body.Strategy == "use_server" {
			err = resolver.ResolveUseServer(c.Request.Context(), entityType, body.EntityId)
		} else {
			err = resolver.ResolveKeepLocal(c.Request.Context(), entityType, body.EntityId)
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "resolved", "strategy": body.Strategy})
	}
}

func connectivityHandler(connectivity *syncengine.ConnectivityObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Online *bool `json:"online" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		changed := connectivity.SetOnline(*body.Online)
		c.JSON(http.StatusOK, gin.H{"online": *body.Online, "changed": changed})
	}
}

func listProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		shopId, _ := utils.GetShopIdFromContext(ctx)
		products, err := models.ListProducts(ctx, shopId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"products": products})
	}
}

func createProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProduct
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		product, err := models.CreateProduct(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, product)
	}
}

func getProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		product, err := models.GetProduct(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func updateProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProduct
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		product, err := models.UpdateProduct(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func deleteProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := models.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func listExpensesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		shopId, _ := utils.GetShopIdFromContext(ctx)
		expenses, err := models.ListExpenses(ctx, shopId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"expenses": expenses})
	}
}

func createExpenseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewExpense
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		expense, err := models.CreateExpense(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, expense)
	}
}

func getExpenseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		expense, err := models.GetExpense(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, expense)
	}
}

func updateExpenseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewExpense
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		expense, err := models.UpdateExpense(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, expense)
	}
}

func deleteExpenseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := models.DeleteExpense(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func listCashEntriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		shopId, _ := utils.GetShopIdFromContext(ctx)
		entries, err := models.ListCashEntries(ctx, shopId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cash_entries": entries})
	}
}

func createCashEntryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCashEntry
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		entry, err := models.CreateCashEntry(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, entry)
	}
}

func getCashEntryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := models.GetCashEntry(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

func updateCashEntryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCashEntry
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		entry, err := models.UpdateCashEntry(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

func deleteCashEntryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := models.DeleteCashEntry(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func listCustomersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		shopId, _ := utils.GetShopIdFromContext(ctx)
		customers, err := models.ListCustomers(ctx, shopId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"customers": customers})
	}
}

func createCustomerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCustomer
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		customer, err := models.CreateCustomer(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, customer)
	}
}

func getCustomerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		customer, err := models.GetCustomer(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, customer)
	}
}

func updateCustomerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCustomer
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		customer, err := models.UpdateCustomer(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, customer)
	}
}

func deleteCustomerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := models.DeleteCustomer(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func addCustomerDueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Amount decimal.Decimal `json:"amount" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		customer, err := models.AddCustomerDue(c.Request.Context(), c.Param("id"), body.Amount)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, customer)
	}
}
