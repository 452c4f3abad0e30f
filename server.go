package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/construdata/obras_backend/config"
	"bitbucket.org/construdata/obras_backend/models"
	"bitbucket.org/construdata/obras_backend/models/reports"
	"bitbucket.org/construdata/obras_backend/utils"
	"bitbucket.org/construdata/obras_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// respondError maps the engine's error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var partial *workflow.PartialCascadeError
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &validationErrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation error", "fields": utils.ProcessValidationErrors(err)})
	case errors.As(err, &partial):
		// Partial success is reported explicitly, never as a bare failure.
		c.JSON(http.StatusInternalServerError, gin.H{"error": partial.Err.Error(), "applied": partial.Summary})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

type priceChangeRequest struct {
	UnitPrice decimal.Decimal `json:"unit_price" binding:"required"`
}

type materializeRequest struct {
	State string `json:"state"`
}

type bdiRequest struct {
	BdiPercentage decimal.Decimal `json:"bdi_percentage" binding:"required"`
}

func materializeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectId, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req materializeRequest
		_ = c.ShouldBindJSON(&req)

		state := req.State
		if state == "" {
			project, err := models.GetProject(c.Request.Context(), projectId)
			if err != nil {
				respondError(c, err)
				return
			}
			state = project.Uf
		}
		created, err := workflow.Materialize(c.Request.Context(), projectId, state)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"compositions_created": created})
	}
}

func catalogPriceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		itemId, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req priceChangeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		summary, err := workflow.CascadeGlobalItemPrice(c.Request.Context(), itemId, req.UnitPrice)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func projectPriceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectId, ok := pathId(c, "id")
		if !ok {
			return
		}
		itemId, ok := pathId(c, "itemId")
		if !ok {
			return
		}
		var req priceChangeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		summary, err := workflow.CascadeProjectItemPrice(c.Request.Context(), projectId, itemId, req.UnitPrice)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func registerCatalogRoutes(r *gin.Engine) {
	r.POST("/catalog/compositions", func(c *gin.Context) {
		var input models.NewComposition
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		composition, err := models.CreateComposition(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, composition)
	})
	r.GET("/catalog/compositions", func(c *gin.Context) {
		category := utils.NilIfEmpty(c.Query("category"))
		code := utils.NilIfEmpty(c.Query("code"))
		compositions, err := models.GetCompositions(c.Request.Context(), category, code)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, compositions)
	})
	r.GET("/catalog/compositions/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		composition, err := models.GetComposition(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, composition)
	})
	r.PUT("/catalog/compositions/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.NewComposition
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		composition, err := models.UpdateComposition(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, composition)
	})
	r.DELETE("/catalog/compositions/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		composition, err := models.DeleteComposition(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, composition)
	})
	r.POST("/catalog/items/:id/price", catalogPriceHandler())
}

func registerProjectRoutes(r *gin.Engine) {
	r.POST("/projects", func(c *gin.Context) {
		var input models.NewProject
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		project, err := models.CreateProject(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, project)
	})
	r.GET("/projects", func(c *gin.Context) {
		projects, err := models.GetProjects(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, projects)
	})
	r.GET("/projects/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		project, err := models.GetProject(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, project)
	})
	r.GET("/projects/:id/compositions", func(c *gin.Context) {
		projectId, ok := pathId(c, "id")
		if !ok {
			return
		}
		code := utils.NilIfEmpty(c.Query("code"))
		category := utils.NilIfEmpty(c.Query("category"))
		compositions, err := models.GetProjectCompositions(c.Request.Context(), projectId, code, category)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, compositions)
	})
	r.GET("/projects/:id/compositions/:compositionId", func(c *gin.Context) {
		projectId, ok := pathId(c, "id")
		if !ok {
			return
		}
		compositionId, ok := pathId(c, "compositionId")
		if !ok {
			return
		}
		composition, err := models.GetProjectComposition(c.Request.Context(), projectId, compositionId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, composition)
	})
	r.POST("/projects/:id/materialize", materializeHandler())
	r.POST("/projects/:id/items/:itemId/price", projectPriceHandler())
	r.GET("/projects/:id/budgets", func(c *gin.Context) {
		projectId, ok := pathId(c, "id")
		if !ok {
			return
		}
		budgets, err := models.GetBudgets(c.Request.Context(), projectId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, budgets)
	})
}

func registerBudgetRoutes(r *gin.Engine) {
	r.POST("/budgets", func(c *gin.Context) {
		var input models.NewBudget
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		budget, err := models.CreateBudget(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, budget)
	})
	r.GET("/budgets/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		budget, err := models.GetBudget(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, budget)
	})
	r.DELETE("/budgets/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		budget, err := models.DeleteBudget(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, budget)
	})
	r.PUT("/budgets/:id/bdi", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req bdiRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		if _, err := models.UpdateBudgetBdi(c.Request.Context(), id, req.BdiPercentage); err != nil {
			respondError(c, err)
			return
		}
		budget, err := workflow.RecalcBudget(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, budget)
	})
	r.POST("/budgets/:id/recalc", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		budget, err := workflow.RecalcBudget(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, budget)
	})
	r.POST("/budgets/:id/repair", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		budget, err := workflow.RecalculateBudget(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, budget)
	})
	r.GET("/budgets/:id/export", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		content, filename, err := reports.ExportBudgetExcel(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Disposition", "attachment; filename="+filename)
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", content)
	})
	r.POST("/budgets/:id/export/gcs", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		uri, err := reports.ExportBudgetExcelToGCS(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"uri": uri})
	})
	r.POST("/stages", func(c *gin.Context) {
		var input models.NewStage
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		stage, err := models.CreateStage(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, stage)
	})
	r.GET("/budgets/:id/stages", func(c *gin.Context) {
		budgetId, ok := pathId(c, "id")
		if !ok {
			return
		}
		stages, err := models.GetStages(c.Request.Context(), budgetId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stages)
	})
	r.POST("/stages/:id/recalc", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		stage, err := workflow.RecalcStage(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stage)
	})
	r.DELETE("/stages/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		stage, err := models.DeleteStage(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		if _, err := workflow.RecalcBudget(c.Request.Context(), stage.BudgetId); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stage)
	})
}

func registerServiceRoutes(r *gin.Engine) {
	r.POST("/projects/:id/services", func(c *gin.Context) {
		projectId, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.NewBudgetService
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		service, err := workflow.CreateBudgetService(c.Request.Context(), projectId, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, service)
	})
	r.PUT("/projects/:id/services/:serviceId", func(c *gin.Context) {
		projectId, ok := pathId(c, "id")
		if !ok {
			return
		}
		serviceId, ok := pathId(c, "serviceId")
		if !ok {
			return
		}
		var input models.UpdateBudgetServiceInput
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		service, err := workflow.UpdateBudgetService(c.Request.Context(), projectId, serviceId, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, service)
	})
	r.DELETE("/projects/:id/services/:serviceId", func(c *gin.Context) {
		projectId, ok := pathId(c, "id")
		if !ok {
			return
		}
		serviceId, ok := pathId(c, "serviceId")
		if !ok {
			return
		}
		service, err := workflow.DeleteBudgetService(c.Request.Context(), projectId, serviceId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, service)
	})
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until the DB is ready, app endpoints return 503.
	r := gin.New()
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
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	registerCatalogRoutes(r)
	registerProjectRoutes(r)
	registerBudgetRoutes(r)
	registerServiceRoutes(r)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations as
	// a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewOutboxDispatcher(logger).Run(dispatcherCtx)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while draining.
	cancelDispatcher()

	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger logs only requests that accumulated errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
