package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/macrolens/mealreport/internal/domain"
	"github.com/macrolens/mealreport/internal/infrastructure/kvstore"
	"github.com/macrolens/mealreport/internal/usecase"
	"go.uber.org/zap"
)

const (
	reportNotFoundMessage   = "Report not found. It might have expired or was automatically cleaned up to free storage space."
	reportLoadFailedMessage = "Failed to load the report. Please try again."
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	reports *usecase.ReportRepository
	health  *usecase.IngredientHealthService
	broker  *usecase.ActivationBroker
	quota   *kvstore.QuotaStore
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	reports *usecase.ReportRepository,
	health *usecase.IngredientHealthService,
	broker *usecase.ActivationBroker,
	quota *kvstore.QuotaStore,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		reports: reports,
		health:  health,
		broker:  broker,
		quota:   quota,
		logger:  logger,
	}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "mealreport",
		"version": "1.0.0",
	})
}

// SaveReport stores a generated report, assigning an id when it has none
func (h *Handler) SaveReport(c *gin.Context) {
	var report domain.Report
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if report.ID == "" {
		report.ID = uuid.NewString()
	}

	if err := h.reports.SaveReport(c.Request.Context(), report); err != nil {
		h.logger.Error("failed to save report", zap.String("id", report.ID), zap.Error(err))
		h.writeError(c, err, "Failed to save the report")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": report.ID})
}

// ListReports returns every stored report envelope, newest first
func (h *Handler) ListReports(c *gin.Context) {
	reports, err := h.reports.ListReports(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list reports", zap.Error(err))
		h.writeError(c, err, "Failed to load reports")
		return
	}
	c.JSON(http.StatusOK, reports)
}

// GetReport returns one report; the first view carries the image
func (h *Handler) GetReport(c *gin.Context) {
	report, err := h.reports.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrReportNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": reportNotFoundMessage})
			return
		}
		h.logger.Error("failed to load report", zap.String("id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": reportLoadFailedMessage})
		return
	}
	c.JSON(http.StatusOK, report)
}

// DeleteReport removes one report from every backend
func (h *Handler) DeleteReport(c *gin.Context) {
	if err := h.reports.DeleteReport(c.Request.Context(), c.Param("id")); err != nil {
		h.logger.Error("failed to delete report", zap.String("id", c.Param("id")), zap.Error(err))
		h.writeError(c, err, "Failed to delete the report")
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteAllReports removes every report from every backend
func (h *Handler) DeleteAllReports(c *gin.Context) {
	if err := h.reports.DeleteAllReports(c.Request.Context()); err != nil {
		h.logger.Error("failed to delete reports", zap.Error(err))
		h.writeError(c, err, "Failed to delete reports")
		return
	}
	c.Status(http.StatusNoContent)
}

// StorageUsage reports how much of the key-value budget is in use
func (h *Handler) StorageUsage(c *gin.Context) {
	ctx := c.Request.Context()
	usage, err := h.quota.Usage(ctx)
	if err != nil {
		h.logger.Error("failed to read storage usage", zap.Error(err))
		h.writeError(c, err, "Failed to read storage usage")
		return
	}
	backends, err := h.reports.Backends(ctx)
	if err != nil {
		h.logger.Warn("report storage not initialized", zap.Error(err))
		backends = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"used":        usage.Used,
		"budgetBytes": usage.BudgetBytes,
		"percentage":  usage.Percentage(),
		"items":       usage.Items,
		"backends":    backends,
	})
}

// IngredientHealth returns the health summary of one ingredient
func (h *Handler) IngredientHealth(c *gin.Context) {
	info, err := h.health.GetIngredientHealth(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.writeError(c, err, "Failed to load ingredient health information")
		return
	}
	c.JSON(http.StatusOK, info)
}

// IngredientCacheStats summarizes the ingredient health cache
func (h *Handler) IngredientCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.health.Stats(c.Request.Context()))
}

// ClearIngredientCache drops every cached ingredient
func (h *Handler) ClearIngredientCache(c *gin.Context) {
	if err := h.health.ClearCache(c.Request.Context()); err != nil {
		h.logger.Error("failed to clear ingredient cache", zap.Error(err))
		h.writeError(c, err, "Failed to clear the ingredient cache")
		return
	}
	c.Status(http.StatusNoContent)
}

// writeError maps domain errors to status codes
func (h *Handler) writeError(c *gin.Context, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrReportNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrQuotaExceeded):
		status = http.StatusInsufficientStorage
	case errors.Is(err, domain.ErrHealthAPIFailure), errors.Is(err, domain.ErrRateLimited):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrBackendUnavailable):
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}
