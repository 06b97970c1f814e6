package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/attendance-core-api/internal/models"
	"github.com/noah-isme/attendance-core-api/internal/service"
	appErrors "github.com/noah-isme/attendance-core-api/pkg/errors"
	"github.com/noah-isme/attendance-core-api/pkg/response"
)

// ReconciliationHandler wires the unresolved-list and summary endpoints.
type ReconciliationHandler struct {
	service *service.ReconciliationService
}

// NewReconciliationHandler creates a new handler.
func NewReconciliationHandler(svc *service.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{service: svc}
}

func parseScope(c *gin.Context) (time.Time, models.RosterScope, error) {
	raw := c.Query("date")
	if raw == "" {
		return time.Time{}, models.RosterScope{}, appErrors.Clone(appErrors.ErrValidation, "date is required")
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, models.RosterScope{}, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD")
	}
	scope := models.RosterScope{Section: c.Query("section")}
	if grade := c.Query("grade"); grade != "" {
		value, err := strconv.Atoi(grade)
		if err != nil {
			return time.Time{}, models.RosterScope{}, appErrors.Clone(appErrors.ErrValidation, "invalid grade")
		}
		scope.Grade = &value
	}
	return date, scope, nil
}

// Unresolved godoc
// @Summary List students with no settled attendance outcome
// @Tags Reconciliation
// @Produce json
// @Security BearerAuth
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param grade query int false "Grade filter"
// @Param section query string false "Section filter"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /reconciliation/unresolved [get]
func (h *ReconciliationHandler) Unresolved(c *gin.Context) {
	date, scope, err := parseScope(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	rows, err := h.service.Unresolved(c.Request.Context(), date, scope)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil, map[string]interface{}{"count": len(rows)})
}

// Summary godoc
// @Summary Per-status counts for a date
// @Tags Reconciliation
// @Produce json
// @Security BearerAuth
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param grade query int false "Grade filter"
// @Param section query string false "Section filter"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /reconciliation/summary [get]
func (h *ReconciliationHandler) Summary(c *gin.Context) {
	date, scope, err := parseScope(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	summary, err := h.service.Summary(c.Request.Context(), date, scope)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
