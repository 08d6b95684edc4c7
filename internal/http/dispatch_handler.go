package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"issue-service/internal/dispatch"
	"issue-service/internal/http/middleware"
	"issue-service/internal/locate"
	"issue-service/internal/model"
	"issue-service/internal/service"
)

// dispatchIssues expects the device's fix as lat/lng, or the geolocation
// error code as geo_error when the device could not produce one.
func (h *Handler) dispatchIssues(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing"))
		return
	}

	query := service.DispatchQuery{
		Device: locate.ParseDeviceReport(c.Query("lat"), c.Query("lng"), c.Query("geo_error")),
	}
	if raw := strings.TrimSpace(c.Query("group")); raw != "" {
		group, ok := dispatch.ParseGroup(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, errorResponse("invalid group"))
			return
		}
		query.Group = &group
	}

	view, err := h.dispatch.View(c.Request.Context(), principal, query)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) listWorkers(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing"))
		return
	}

	workers, err := h.dispatch.Workers(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(gin.H{"items": workers}))
}

func (h *Handler) saveWorker(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing"))
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid worker id"))
		return
	}

	var req struct {
		FullName    string   `json:"full_name"`
		Role        string   `json:"role" binding:"required"`
		Departments []string `json:"departments"`
		IsActive    *bool    `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	worker, err := h.dispatch.SaveWorker(c.Request.Context(), principal, id, service.WorkerInput{
		FullName:    req.FullName,
		Role:        model.WorkerRole(strings.ToLower(strings.TrimSpace(req.Role))),
		Departments: req.Departments,
		IsActive:    active,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(worker))
}
