package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/zps-fees-api/internal/service"
	appErrors "github.com/noah-isme/zps-fees-api/pkg/errors"
	"github.com/noah-isme/zps-fees-api/pkg/response"
)

// BalanceHandler exposes ledger read endpoints.
type BalanceHandler struct {
	ledger *service.LedgerService
	terms  *service.TermService
}

// NewBalanceHandler constructs a balance handler.
func NewBalanceHandler(ledger *service.LedgerService, terms *service.TermService) *BalanceHandler {
	return &BalanceHandler{ledger: ledger, terms: terms}
}

// Get godoc
// @Summary Get student balance
// @Description Balance view for a student in a term; defaults to the current term
// @Tags Balances
// @Produce json
// @Param id path string true "Student ID"
// @Param termId query string false "Term ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/balance [get]
func (h *BalanceHandler) Get(c *gin.Context) {
	termID := c.Query("termId")
	if termID == "" {
		term, err := h.terms.Current(c.Request.Context())
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrPreconditionFailed, "no current term set"))
			return
		}
		termID = term.ID
	}

	view, err := h.ledger.Get(c.Request.Context(), c.Param("id"), termID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Outstanding godoc
// @Summary Get student outstanding position
// @Description Full ledger history plus the whole-history outstanding figure
// @Tags Balances
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/outstanding [get]
func (h *BalanceHandler) Outstanding(c *gin.Context) {
	views, overall, err := h.ledger.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"history":             views,
		"overall_outstanding": overall,
	}, nil)
}
