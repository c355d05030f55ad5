package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/zps-fees-api/internal/service"
	appErrors "github.com/noah-isme/zps-fees-api/pkg/errors"
	"github.com/noah-isme/zps-fees-api/pkg/response"
)

// FeeHandler exposes fee schedule endpoints.
type FeeHandler struct {
	service *service.FeeService
}

// NewFeeHandler constructs a fee handler.
func NewFeeHandler(svc *service.FeeService) *FeeHandler {
	return &FeeHandler{service: svc}
}

// SetSchedule godoc
// @Summary Set band fee
// @Description Set the term fee for a grade band; frozen once payments exist
// @Tags Fees
// @Accept json
// @Produce json
// @Param payload body service.SetScheduleRequest true "Fee schedule payload"
// @Success 200 {object} response.Envelope
// @Router /fees/schedule [put]
func (h *FeeHandler) SetSchedule(c *gin.Context) {
	var req service.SetScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fee schedule payload"))
		return
	}

	entry, err := h.service.SetScheduleAmount(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// SetClassFee godoc
// @Summary Set class fee adjustment
// @Description Set a class-level surcharge or override for a term
// @Tags Fees
// @Accept json
// @Produce json
// @Param payload body service.SetClassFeeRequest true "Class fee payload"
// @Success 200 {object} response.Envelope
// @Router /fees/class [put]
func (h *FeeHandler) SetClassFee(c *gin.Context) {
	var req service.SetClassFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class fee payload"))
		return
	}

	fee, err := h.service.SetClassFee(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fee, nil)
}

// ListSchedule godoc
// @Summary List term fee schedule
// @Tags Fees
// @Produce json
// @Param termId path string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /fees/schedule/{termId} [get]
func (h *FeeHandler) ListSchedule(c *gin.Context) {
	entries, err := h.service.ListSchedule(c.Request.Context(), c.Param("termId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}
