package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noah-isme/zps-fees-api/internal/service"
	appErrors "github.com/noah-isme/zps-fees-api/pkg/errors"
	"github.com/noah-isme/zps-fees-api/pkg/jobs"
	"github.com/noah-isme/zps-fees-api/pkg/response"
)

// AdminHandler exposes maintenance operations.
type AdminHandler struct {
	reconciler *service.ReconciliationService
	queue      *jobs.Queue
}

// NewAdminHandler constructs an admin handler. The queue may be nil, in
// which case async repair requests are rejected.
func NewAdminHandler(reconciler *service.ReconciliationService, queue *jobs.Queue) *AdminHandler {
	return &AdminHandler{reconciler: reconciler, queue: queue}
}

type repairRequest struct {
	TermID string `json:"term_id" binding:"required"`
	Async  bool   `json:"async"`
}

// RepairSweep godoc
// @Summary Run reconciliation repair sweep
// @Description Rebuild every ledger row for students billed in a term
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body repairRequest true "Repair payload"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /admin/reconciliation/repair [post]
func (h *AdminHandler) RepairSweep(c *gin.Context) {
	var req repairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid repair payload"))
		return
	}

	if req.Async {
		if h.queue == nil {
			response.Error(c, appErrors.New(appErrors.ErrInternal.Code, http.StatusServiceUnavailable, "background queue unavailable"))
			return
		}
		job := jobs.Job{ID: uuid.NewString(), Type: "reconciliation.repair", Payload: req.TermID}
		if err := h.queue.Enqueue(job); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue repair sweep"))
			return
		}
		response.JSON(c, http.StatusAccepted, gin.H{"job_id": job.ID}, nil)
		return
	}

	report, err := h.reconciler.RepairSweep(c.Request.Context(), req.TermID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
