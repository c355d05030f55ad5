package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/zps-fees-api/internal/service"
	appErrors "github.com/noah-isme/zps-fees-api/pkg/errors"
	"github.com/noah-isme/zps-fees-api/pkg/response"
)

// ArrearsHandler exposes brought-forward arrears imports.
type ArrearsHandler struct {
	service *service.ArrearsService
}

// NewArrearsHandler constructs an arrears handler.
func NewArrearsHandler(svc *service.ArrearsService) *ArrearsHandler {
	return &ArrearsHandler{service: svc}
}

// Import godoc
// @Summary Import arrears
// @Description Register a brought-forward debt against a student's ledger row
// @Tags Arrears
// @Accept json
// @Produce json
// @Param payload body service.ImportArrearsRequest true "Import payload"
// @Success 201 {object} response.Envelope
// @Router /arrears/import [post]
func (h *ArrearsHandler) Import(c *gin.Context) {
	var req service.ImportArrearsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid arrears payload"))
		return
	}

	view, err := h.service.Import(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// History godoc
// @Summary Arrears import history
// @Tags Arrears
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/arrears [get]
func (h *ArrearsHandler) History(c *gin.Context) {
	imports, err := h.service.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, imports, nil)
}
