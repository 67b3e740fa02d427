package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kuranet/kuranet/internal/models"
	"github.com/kuranet/kuranet/internal/service"
)

// OptionInput is one option text in a poll create request
type OptionInput struct {
	Text string `json:"text" binding:"required,max=255"`
}

// CreatePollRequest is the body for creating a poll with its options
type CreatePollRequest struct {
	Title       string        `json:"title" binding:"required,max=255"`
	Description string        `json:"description"`
	ClosesAt    *time.Time    `json:"closes_at" binding:"required"`
	Status      string        `json:"status" binding:"omitempty,oneof=draft active"`
	Options     []OptionInput `json:"options" binding:"required,min=2,dive"`
}

// UpdatePollRequest is the body for PUT and PATCH. PUT requires title and
// closes_at; PATCH accepts any subset.
type UpdatePollRequest struct {
	Title       *string    `json:"title" binding:"omitempty,max=255"`
	Description *string    `json:"description"`
	ClosesAt    *time.Time `json:"closes_at"`
	Status      *string    `json:"status" binding:"omitempty,oneof=draft active closed"`
}

// UserSummary identifies a user inside another resource
type UserSummary struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

// OptionResponse is an option as returned by the API
type OptionResponse struct {
	ID       uuid.UUID `json:"id"`
	Text     string    `json:"text"`
	Position int       `json:"position"`
}

// PollResponse is a poll as returned by the API. Status is the effective
// status at response time.
type PollResponse struct {
	ID          uuid.UUID         `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Owner       UserSummary       `json:"owner"`
	Status      models.PollStatus `json:"status"`
	ClosesAt    time.Time         `json:"closes_at"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Options     []OptionResponse  `json:"options"`
}

// PollPage is a page of polls
type PollPage struct {
	Count    int64          `json:"count"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Results  []PollResponse `json:"results"`
}

func newOptionResponse(o models.Option) OptionResponse {
	return OptionResponse{ID: o.ID, Text: o.Text, Position: o.Position}
}

func newPollResponse(p *models.Poll, now time.Time) PollResponse {
	resp := PollResponse{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Owner:       UserSummary{ID: p.OwnerID},
		Status:      p.EffectiveStatus(now),
		ClosesAt:    p.ClosesAt,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		Options:     make([]OptionResponse, len(p.Options)),
	}
	if p.Owner != nil {
		resp.Owner.Username = p.Owner.Username
	}
	for i, o := range p.Options {
		resp.Options[i] = newOptionResponse(o)
	}
	return resp
}

type PollHandler struct {
	polls *service.PollService
	now   func() time.Time
}

func NewPollHandler(polls *service.PollService) *PollHandler {
	return &PollHandler{polls: polls, now: time.Now}
}

// ListPolls godoc
// @Summary List polls
// @Description Newest first. Closed polls are hidden unless include_closed=true or status=closed; drafts are only listed for their owner and admins.
// @Tags polls
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param status query string false "Effective status" Enums(draft, active, closed)
// @Param owner query string false "Owner user ID"
// @Param search query string false "Title substring"
// @Param include_closed query bool false "Include closed polls"
// @Success 200 {object} PollPage
// @Failure 400 {object} ErrorResponse
// @Router /polls [get]
func (h *PollHandler) ListPolls(c *gin.Context) {
	pr, ok := pageRequest(c)
	if !ok {
		return
	}

	filter := service.PollFilter{
		Status:      models.PollStatus(c.Query("status")),
		Search:      c.Query("search"),
		PageRequest: pr,
	}
	if raw := c.Query("owner"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid filter", Fields: map[string]string{"owner": "must be a valid UUID"}})
			return
		}
		filter.OwnerID = id
	}
	if raw := c.Query("include_closed"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid filter", Fields: map[string]string{"include_closed": "must be true or false"}})
			return
		}
		filter.IncludeClosed = include
	}

	page, err := h.polls.List(c.Request.Context(), currentUser(c), filter)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	now := h.now()
	resp := PollPage{Count: page.Count, Page: page.Page, PageSize: page.PageSize, Results: make([]PollResponse, len(page.Results))}
	for i := range page.Results {
		resp.Results[i] = newPollResponse(&page.Results[i], now)
	}
	c.JSON(http.StatusOK, resp)
}

// CreatePoll godoc
// @Summary Create a poll with its options
// @Description The authenticated user becomes the owner. closes_at must be in the future and at least two options are required.
// @Tags polls
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param poll body CreatePollRequest true "Poll details"
// @Success 201 {object} PollResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /polls [post]
func (h *PollHandler) CreatePoll(c *gin.Context) {
	var req CreatePollRequest
	if !bindJSON(c, &req) {
		return
	}

	texts := make([]string, len(req.Options))
	for i, o := range req.Options {
		texts[i] = o.Text
	}

	poll, err := h.polls.Create(c.Request.Context(), currentUser(c), service.CreatePollRequest{
		Title:       req.Title,
		Description: req.Description,
		ClosesAt:    *req.ClosesAt,
		Status:      models.PollStatus(req.Status),
		Options:     texts,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newPollResponse(poll, h.now()))
}

// GetPoll godoc
// @Summary Get a poll by ID
// @Tags polls
// @Produce json
// @Param id path string true "Poll ID"
// @Success 200 {object} PollResponse
// @Failure 404 {object} ErrorResponse
// @Router /polls/{id} [get]
func (h *PollHandler) GetPoll(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	poll, err := h.polls.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, newPollResponse(poll, h.now()))
}

// ReplacePoll godoc
// @Summary Update a poll
// @Description Owner or admin. title and closes_at are required.
// @Tags polls
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Poll ID"
// @Param poll body UpdatePollRequest true "Poll fields"
// @Success 200 {object} PollResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /polls/{id} [put]
func (h *PollHandler) ReplacePoll(c *gin.Context) {
	h.updatePoll(c, true)
}

// PatchPoll godoc
// @Summary Partially update a poll
// @Description Owner or admin. Status may move draft to active or closed, and active to closed.
// @Tags polls
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Poll ID"
// @Param poll body UpdatePollRequest true "Poll fields"
// @Success 200 {object} PollResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /polls/{id} [patch]
func (h *PollHandler) PatchPoll(c *gin.Context) {
	h.updatePoll(c, false)
}

func (h *PollHandler) updatePoll(c *gin.Context, full bool) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req UpdatePollRequest
	if !bindJSON(c, &req) {
		return
	}
	if full {
		fields := map[string]string{}
		if req.Title == nil {
			fields["title"] = "this field is required"
		}
		if req.ClosesAt == nil {
			fields["closes_at"] = "this field is required"
		}
		if len(fields) > 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Fields: fields})
			return
		}
	}

	update := service.UpdatePollRequest{
		Title:       req.Title,
		Description: req.Description,
		ClosesAt:    req.ClosesAt,
	}
	if req.Status != nil {
		status := models.PollStatus(*req.Status)
		update.Status = &status
	}

	poll, err := h.polls.Update(c.Request.Context(), currentUser(c), id, update)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, newPollResponse(poll, h.now()))
}

// DeletePoll godoc
// @Summary Delete a poll
// @Description Owner or admin. Options and votes are removed with it.
// @Tags polls
// @Security BearerAuth
// @Param id path string true "Poll ID"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /polls/{id} [delete]
func (h *PollHandler) DeletePoll(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.polls.Delete(c.Request.Context(), currentUser(c), id); err != nil {
		handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetResults godoc
// @Summary Vote tally of a poll
// @Tags polls
// @Produce json
// @Param id path string true "Poll ID"
// @Success 200 {object} service.PollResults
// @Failure 404 {object} ErrorResponse
// @Router /polls/{id}/results [get]
func (h *PollHandler) GetResults(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	res, err := h.polls.Results(c.Request.Context(), currentUser(c), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}
