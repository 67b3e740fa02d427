package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kuranet/kuranet/internal/service"
)

type OptionHandler struct {
	options *service.OptionService
}

func NewOptionHandler(options *service.OptionService) *OptionHandler {
	return &OptionHandler{options: options}
}

// ListOptions godoc
// @Summary List the options of a poll
// @Tags options
// @Produce json
// @Param id path string true "Poll ID"
// @Success 200 {array} OptionResponse
// @Failure 404 {object} ErrorResponse
// @Router /polls/{id}/options [get]
func (h *OptionHandler) ListOptions(c *gin.Context) {
	pollID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	options, err := h.options.List(c.Request.Context(), currentUser(c), pollID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	resp := make([]OptionResponse, len(options))
	for i, o := range options {
		resp[i] = newOptionResponse(o)
	}
	c.JSON(http.StatusOK, resp)
}

// AddOption godoc
// @Summary Add an option to a poll
// @Description Poll owner or admin; not allowed once the poll is closed.
// @Tags options
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Poll ID"
// @Param option body OptionInput true "Option text"
// @Success 201 {object} OptionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /polls/{id}/options [post]
func (h *OptionHandler) AddOption(c *gin.Context) {
	pollID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req OptionInput
	if !bindJSON(c, &req) {
		return
	}

	opt, err := h.options.Add(c.Request.Context(), currentUser(c), pollID, req.Text)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newOptionResponse(*opt))
}

// UpdateOption godoc
// @Summary Rename an option
// @Tags options
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Poll ID"
// @Param option_id path string true "Option ID"
// @Param option body OptionInput true "Option text"
// @Success 200 {object} OptionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /polls/{id}/options/{option_id} [patch]
func (h *OptionHandler) UpdateOption(c *gin.Context) {
	pollID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	optionID, ok := uuidParam(c, "option_id")
	if !ok {
		return
	}

	var req OptionInput
	if !bindJSON(c, &req) {
		return
	}

	opt, err := h.options.Update(c.Request.Context(), currentUser(c), pollID, optionID, req.Text)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, newOptionResponse(*opt))
}

// DeleteOption godoc
// @Summary Delete an option
// @Description Removes the votes cast for it. A poll keeps at least two options.
// @Tags options
// @Security BearerAuth
// @Param id path string true "Poll ID"
// @Param option_id path string true "Option ID"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /polls/{id}/options/{option_id} [delete]
func (h *OptionHandler) DeleteOption(c *gin.Context) {
	pollID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	optionID, ok := uuidParam(c, "option_id")
	if !ok {
		return
	}

	if err := h.options.Delete(c.Request.Context(), currentUser(c), pollID, optionID); err != nil {
		handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
