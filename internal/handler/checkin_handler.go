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

// CheckInHandler wires the device check-in and attendance read endpoints.
type CheckInHandler struct {
	service *service.CheckInService
	metrics *service.MetricsService
}

// NewCheckInHandler creates a new handler.
func NewCheckInHandler(svc *service.CheckInService, metrics *service.MetricsService) *CheckInHandler {
	return &CheckInHandler{service: svc, metrics: metrics}
}

// Record godoc
// @Summary Record a check-in
// @Description Accept a device check-in event identified by student or card id
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CheckInRequest true "Check-in event"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /checkins [post]
func (h *CheckInHandler) Record(c *gin.Context) {
	var req service.CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid check-in payload"))
		return
	}

	result, err := h.service.Record(c.Request.Context(), req)
	if err != nil {
		h.observe(err)
		response.Error(c, err)
		return
	}

	h.metrics.ObserveCheckIn("accepted")
	response.Created(c, result)
}

func (h *CheckInHandler) observe(err error) {
	switch {
	case appErrors.Is(err, appErrors.ErrDuplicate):
		h.metrics.ObserveCheckIn("duplicate")
	case appErrors.Is(err, appErrors.ErrHolidayClosed):
		h.metrics.ObserveCheckIn("holiday")
	default:
		h.metrics.ObserveCheckIn("rejected")
	}
}

// List godoc
// @Summary List attendance records
// @Description Paginated attendance records with filters
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param date_from query string false "Start date (YYYY-MM-DD)"
// @Param date_to query string false "End date (YYYY-MM-DD)"
// @Param status query string false "Status filter"
// @Param grade query int false "Grade filter"
// @Param section query string false "Section filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /attendance [get]
func (h *CheckInHandler) List(c *gin.Context) {
	req := service.AttendanceListRequest{
		StudentID: c.Query("student_id"),
		Section:   c.Query("section"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if status := c.Query("status"); status != "" {
		req.Status = &status
	}
	if grade := c.Query("grade"); grade != "" {
		value, err := strconv.Atoi(grade)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid grade"))
			return
		}
		req.Grade = &value
	}
	var err error
	if req.DateFrom, err = parseDateQuery(c, "date_from"); err != nil {
		response.Error(c, err)
		return
	}
	if req.DateTo, err = parseDateQuery(c, "date_to"); err != nil {
		response.Error(c, err)
		return
	}
	req.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	req.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "50"))

	rows, pagination, err := h.service.List(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}

// StudentHistory godoc
// @Summary Attendance history for one student
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Param date_from query string false "Start date (YYYY-MM-DD)"
// @Param date_to query string false "End date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /attendance/students/{id} [get]
func (h *CheckInHandler) StudentHistory(c *gin.Context) {
	studentID := c.Param("id")
	claims := claimsFromContext(c)
	if claims != nil && claims.Role == models.RoleStudent {
		if claims.StudentID == nil || *claims.StudentID != studentID {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "not your history"))
			return
		}
	}

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

	rows, err := h.service.StudentHistory(c.Request.Context(), studentID, from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

func parseDateQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid "+key+", expected YYYY-MM-DD")
	}
	date := models.DateOf(parsed)
	return &date, nil
}
