package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kuranet/kuranet/internal/audit"
	"github.com/kuranet/kuranet/internal/models"
	"github.com/kuranet/kuranet/internal/service"
)

// AssignRoleRequest names the role to grant
type AssignRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=admin creator user"`
}

// AuditLogPage is a page of audit entries
type AuditLogPage struct {
	Count    int64             `json:"count"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Results  []models.AuditLog `json:"results"`
}

type AdminHandler struct {
	users *service.UserService
}

func NewAdminHandler(users *service.UserService) *AdminHandler {
	return &AdminHandler{users: users}
}

// ListRoles godoc
// @Summary List roles
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Success 200 {array} models.Role
// @Failure 401 {object} ErrorResponse
// @Router /roles [get]
func (h *AdminHandler) ListRoles(c *gin.Context) {
	roles, err := h.users.ListRoles(c.Request.Context())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, roles)
}

// AssignRole godoc
// @Summary Grant a role to a user (admin only)
// @Tags admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param role body AssignRoleRequest true "Role"
// @Success 200 {object} models.User
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/users/{id}/roles [post]
func (h *AdminHandler) AssignRole(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req AssignRoleRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.users.AssignRole(c.Request.Context(), currentUser(c), id, req.Role)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// RevokeRole godoc
// @Summary Revoke a role from a user (admin only)
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param id path string true "User ID"
// @Param role path string true "Role name"
// @Success 200 {object} models.User
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/users/{id}/roles/{role} [delete]
func (h *AdminHandler) RevokeRole(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	user, err := h.users.RevokeRole(c.Request.Context(), currentUser(c), id, c.Param("role"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// ListAuditLogs godoc
// @Summary List audit logs (admin only)
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param user_id query string false "Filter by user ID"
// @Param action query string false "Filter by action"
// @Param since query string false "RFC 3339 lower bound"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} AuditLogPage
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /admin/audit-logs [get]
func (h *AdminHandler) ListAuditLogs(c *gin.Context) {
	pr, ok := pageRequest(c)
	if !ok {
		return
	}

	filter := audit.Filter{Action: c.Query("action")}
	fields := map[string]string{}
	if raw := c.Query("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			fields["user_id"] = "must be a valid UUID"
		}
		filter.UserID = id
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fields["since"] = "must be an RFC 3339 timestamp"
		}
		filter.Since = since
	}
	if len(fields) > 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid filter", Fields: fields})
		return
	}

	page, err := h.users.AuditLogs(c.Request.Context(), currentUser(c), filter, pr)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, AuditLogPage{Count: page.Count, Page: page.Page, PageSize: page.PageSize, Results: page.Results})
}
