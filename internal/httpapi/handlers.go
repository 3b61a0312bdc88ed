package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voicecall-platform/internal/audit"
	"voicecall-platform/internal/auth"
	"voicecall-platform/internal/calls"
	"voicecall-platform/internal/intake"
	"voicecall-platform/internal/queue"
	"voicecall-platform/internal/reporting"
	"voicecall-platform/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Intake interface {
	Submit(ctx context.Context, req intake.Request, actor string) (intake.Receipt, error)
	SubmitBatch(ctx context.Context, reqs []intake.Request, actor string) (intake.BatchResult, error)
	Status(ctx context.Context, callID string) (intake.Status, error)
}

type Metrics interface {
	CallMetrics(ctx context.Context) (reporting.CallMetrics, error)
}

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

type Info struct {
	Name        string
	Version     string
	TTSProvider string
	// TTSFallback is set when the configured provider lacked credentials.
	TTSFallback bool
}

type Handlers struct {
	Intake  Intake
	Metrics Metrics
	Checks  map[string]Checker
	Info    Info

	clock func() time.Time
}

func (h Handlers) now() time.Time {
	if h.clock != nil {
		return h.clock()
	}
	return time.Now().UTC()
}

// --- Health ---

func (h Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := gin.H{}
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			logger.From(ctx).Warn("health check failed", slog.String("dependency", name), slog.String("error", err.Error()))
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "dependencies": deps})
}

func (h Handlers) APIInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    h.Info.Name,
		"version": h.Info.Version,
		"tts": gin.H{
			"provider": h.Info.TTSProvider,
			"fallback": h.Info.TTSFallback,
		},
		"endpoints": gin.H{
			"GET /healthz":                  "Health check",
			"GET /api/info":                 "API information",
			"POST /v1/voice/call":           "Queue one voice call",
			"POST /v1/voice/bulk":           "Queue up to 1000 voice calls",
			"GET /v1/voice/status/:call_id": "Call status and history",
			"GET /v1/metrics":               "Aggregate call metrics (admin)",
		},
		"max_bulk_calls": intake.MaxBatchSize,
	})
}

// --- Voice ---

func (h Handlers) SubmitCall(c *gin.Context) {
	var req intake.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	actor, _ := auth.ClientID(c.Request.Context())

	rcpt, err := h.Intake.Submit(c.Request.Context(), req, actor)
	if err != nil {
		var ve *intake.ValidationError
		if errors.As(err, &ve) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field})
			return
		}
		logger.From(c.Request.Context()).Error("call submission failed", slog.String("error", err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call could not be queued"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":     true,
		"call_id":     rcpt.CallID,
		"job_id":      rcpt.JobID,
		"status":      rcpt.Status,
		"to_number":   rcpt.ToNumber,
		"from_number": rcpt.FromNumber,
		"timestamp":   h.now(),
	})
}

type bulkRequest struct {
	Calls []intake.Request `json:"calls"`
}

func (h Handlers) SubmitBulk(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	actor, _ := auth.ClientID(c.Request.Context())

	res, err := h.Intake.SubmitBatch(c.Request.Context(), req.Calls, actor)
	if errors.Is(err, intake.ErrBatchTooLarge) || errors.Is(err, intake.ErrEmptyBatch) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid bulk request", "max_calls": intake.MaxBatchSize})
		return
	}
	if err != nil {
		logger.From(c.Request.Context()).Error("bulk submission failed", slog.String("error", err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "bulk operation failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":      true,
		"queued_calls": res.Queued,
		"total_calls":  res.Total,
		"skipped":      res.Skipped,
		"call_ids":     res.CallIDs,
		"timestamp":    h.now(),
	})
}

type statusResponse struct {
	calls.Call
	JobStatus queue.State   `json:"job_status"`
	Events    []audit.Event `json:"events,omitempty"`
}

func (h Handlers) CallStatus(c *gin.Context) {
	id := c.Param("call_id")
	// Call ids are UUIDs; anything else cannot exist and must not reach the uuid column.
	if _, err := uuid.Parse(id); err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	st, err := h.Intake.Status(c.Request.Context(), id)
	if errors.Is(err, calls.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		logger.From(c.Request.Context()).Error("status lookup failed", slog.String("call_id", id), slog.String("error", err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
		return
	}
	c.JSON(http.StatusOK, statusResponse{Call: st.Call, JobStatus: st.JobStatus, Events: st.Events})
}

// --- Metrics ---

func (h Handlers) CallMetrics(c *gin.Context) {
	m, err := h.Metrics.CallMetrics(c.Request.Context())
	if err != nil {
		logger.From(c.Request.Context()).Error("metrics failed", slog.String("error", err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to get metrics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"timestamp": m.GeneratedAt, "calls": m})
}
