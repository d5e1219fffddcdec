package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bitbucket.org/flowshare/allocation_backend/config"
	"bitbucket.org/flowshare/allocation_backend/models"
	"bitbucket.org/flowshare/allocation_backend/utils"
)

type triggerReconciliationRequest struct {
	TenantId       string    `json:"tenant_id" validate:"required"`
	PeriodStart    time.Time `json:"period_start" validate:"required"`
	PeriodEnd      time.Time `json:"period_end" validate:"required"`
	TerminalVolume float64   `json:"terminal_volume" validate:"required,gt=0"`
	TriggeredBy    string    `json:"triggered_by"`
}

// triggerReconciliationHandler creates a PENDING run and publishes the
// trigger event. The run id is generated here; the worker picks the message
// up from the trigger subscription.
func triggerReconciliationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var req triggerReconciliationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := utils.GetValidator().Struct(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !req.PeriodEnd.After(req.PeriodStart) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "period_end must be after period_start"})
			return
		}

		correlationID, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		ctx := utils.SetTenantIdInContext(c.Request.Context(), req.TenantId)

		run := &models.ReconciliationRun{
			ID:             uuid.NewString(),
			TenantId:       req.TenantId,
			PeriodStart:    req.PeriodStart.UTC(),
			PeriodEnd:      req.PeriodEnd.UTC(),
			TerminalVolume: decimal.NewFromFloat(req.TerminalVolume),
			TriggeredBy:    req.TriggeredBy,
			Status:         models.RunStatusPending,
		}

		db := config.GetDB()
		runs := models.NewRunStore(db)
		if err := runs.Create(ctx, run); err != nil {
			config.LogError(logger, "reconciliationHandlers.go", "triggerReconciliationHandler", "create run", run.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create run"})
			return
		}

		models.NewAuditStore(db).Append(ctx, &models.AuditLog{
			TenantId:      req.TenantId,
			RunId:         run.ID,
			Action:        models.AuditActionReconciliationTriggered,
			Detail:        "terminal volume " + run.TerminalVolume.String() + " bbl",
			CorrelationId: correlationID,
		})

		published := true
		if _, err := config.PublishReconciliationTriggered(ctx, run.ID, req.TenantId, correlationID); err != nil {
			// The run stays PENDING; the trigger can be re-published later.
			config.LogError(logger, "reconciliationHandlers.go", "triggerReconciliationHandler", "publish trigger", run.ID, err)
			published = false
		}

		c.JSON(http.StatusCreated, gin.H{
			"run_id":         run.ID,
			"tenant_id":      req.TenantId,
			"status":         run.Status,
			"published":      published,
			"correlation_id": correlationID,
		})
	}
}

func listReconciliationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId := strings.TrimSpace(c.Query("tenant_id"))
		if tenantId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
			return
		}

		status := models.RunStatus(strings.TrimSpace(c.Query("status")))
		limit := 50
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		runs, err := models.NewRunStore(config.GetDB()).List(ctx, tenantId, status, limit)
		if err != nil {
			config.LogError(config.GetLogger(), "reconciliationHandlers.go", "listReconciliationsHandler", "list runs", tenantId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"reconciliations": runs})
	}
}

func getReconciliationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId := strings.TrimSpace(c.Query("tenant_id"))
		if tenantId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
			return
		}
		runId := c.Param("id")

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		run, err := models.NewRunStore(config.GetDB()).GetById(ctx, tenantId, runId)
		if errors.Is(err, models.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "reconciliation run not found"})
			return
		}
		if err != nil {
			config.LogError(config.GetLogger(), "reconciliationHandlers.go", "getReconciliationHandler", "get run", runId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
			return
		}

		result, err := run.DecodeResult()
		if err != nil {
			config.LogError(config.GetLogger(), "reconciliationHandlers.go", "getReconciliationHandler", "decode result", runId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to decode result"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"reconciliation": run,
			"result":         result,
		})
	}
}
