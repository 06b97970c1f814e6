package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/attendance-core-api/internal/service"
	appErrors "github.com/noah-isme/attendance-core-api/pkg/errors"
	"github.com/noah-isme/attendance-core-api/pkg/response"
)

// HolidayHandler wires the holiday calendar endpoints.
type HolidayHandler struct {
	service *service.HolidayService
}

// NewHolidayHandler creates a new handler.
func NewHolidayHandler(svc *service.HolidayService) *HolidayHandler {
	return &HolidayHandler{service: svc}
}

// Check godoc
// @Summary Check whether a date is a non-attendance day
// @Tags Holidays
// @Produce json
// @Security BearerAuth
// @Param date query string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /holidays/check [get]
func (h *HolidayHandler) Check(c *gin.Context) {
	raw := c.Query("date")
	if raw == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date is required"))
		return
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD"))
		return
	}

	check, err := h.service.Lookup(c.Request.Context(), date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, check, nil)
}

// Create godoc
// @Summary Create a holiday
// @Tags Holidays
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CreateHolidayRequest true "Holiday"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /holidays [post]
func (h *HolidayHandler) Create(c *gin.Context) {
	var req service.CreateHolidayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid holiday payload"))
		return
	}

	holiday, err := h.service.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, holiday)
}

// Update godoc
// @Summary Update or deactivate a holiday
// @Tags Holidays
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Holiday ID"
// @Param payload body service.UpdateHolidayRequest true "Holiday changes"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /holidays/{id} [put]
func (h *HolidayHandler) Update(c *gin.Context) {
	var req service.UpdateHolidayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid holiday payload"))
		return
	}
	req.ID = c.Param("id")

	holiday, err := h.service.Update(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, holiday, nil)
}

// List godoc
// @Summary List holidays
// @Tags Holidays
// @Produce json
// @Security BearerAuth
// @Param date_from query string false "Start date"
// @Param date_to query string false "End date"
// @Param active_only query bool false "Active only"
// @Success 200 {object} response.Envelope
// @Router /holidays [get]
func (h *HolidayHandler) List(c *gin.Context) {
	from, err := parseDateQuery(c, "date_from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := parseDateQuery(c, "date_to")
	if err != nil {
		response.Error(c, err)
		return
	}
	activeOnly := c.DefaultQuery("active_only", "true") == "true"

	rows, err := h.service.List(c.Request.Context(), from, to, activeOnly)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}
