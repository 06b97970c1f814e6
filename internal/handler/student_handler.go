package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/attendance-core-api/internal/models"
	"github.com/noah-isme/attendance-core-api/internal/service"
	appErrors "github.com/noah-isme/attendance-core-api/pkg/errors"
	"github.com/noah-isme/attendance-core-api/pkg/response"
)

// StudentHandler wires the read-only roster endpoints.
type StudentHandler struct {
	service *service.StudentService
}

// NewStudentHandler creates a new handler.
func NewStudentHandler(svc *service.StudentService) *StudentHandler {
	return &StudentHandler{service: svc}
}

// List godoc
// @Summary List roster students
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param search query string false "Name search"
// @Param grade query int false "Grade filter"
// @Param section query string false "Section filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	filter := models.StudentFilter{
		Search:    c.Query("search"),
		Section:   c.Query("section"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if grade := c.Query("grade"); grade != "" {
		value, err := strconv.Atoi(grade)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid grade"))
			return
		}
		filter.Grade = &value
	}
	if active := c.Query("active"); active != "" {
		value := active == "true"
		filter.Active = &value
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "50"))

	rows, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}

// GetByID godoc
// @Summary Fetch one student
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) GetByID(c *gin.Context) {
	student, err := h.service.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// ResolveCard godoc
// @Summary Resolve a card id to a student
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param card_id path string true "Card ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/cards/{card_id} [get]
func (h *StudentHandler) ResolveCard(c *gin.Context) {
	student, err := h.service.GetByCardID(c.Request.Context(), c.Param("card_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}
