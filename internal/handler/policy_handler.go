package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/attendance-core-api/internal/service"
	appErrors "github.com/noah-isme/attendance-core-api/pkg/errors"
	"github.com/noah-isme/attendance-core-api/pkg/response"
)

// PolicyHandler wires the attendance policy endpoints.
type PolicyHandler struct {
	service *service.PolicyService
}

// NewPolicyHandler creates a new handler.
func NewPolicyHandler(svc *service.PolicyService) *PolicyHandler {
	return &PolicyHandler{service: svc}
}

// GetActive godoc
// @Summary Get the active attendance policy
// @Tags Policies
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /policies/active [get]
func (h *PolicyHandler) GetActive(c *gin.Context) {
	policy, err := h.service.GetActive(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}

// Set godoc
// @Summary Replace the active attendance policy
// @Description Supersede the active policy with a new time window
// @Tags Policies
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.SetPolicyRequest true "Policy window"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /policies [put]
func (h *PolicyHandler) Set(c *gin.Context) {
	var req service.SetPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid policy payload"))
		return
	}

	policy, err := h.service.Set(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, policy)
}

// History godoc
// @Summary Policy history
// @Description Paginated policy log, newest first
// @Tags Policies
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /policies/history [get]
func (h *PolicyHandler) History(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))

	rows, pagination, err := h.service.History(c.Request.Context(), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}
