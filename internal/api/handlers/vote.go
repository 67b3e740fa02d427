package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kuranet/kuranet/internal/models"
	"github.com/kuranet/kuranet/internal/service"
)

// CastVoteRequest selects the option to vote for
type CastVoteRequest struct {
	OptionID string `json:"option_id" binding:"required,uuid"`
}

// VoteResponse is a vote as returned by the API
type VoteResponse struct {
	ID       uuid.UUID `json:"id"`
	PollID   uuid.UUID `json:"poll_id"`
	OptionID uuid.UUID `json:"option_id"`
	UserID   uuid.UUID `json:"user_id"`
	VotedAt  time.Time `json:"voted_at"`
}

// VotePage is a page of votes
type VotePage struct {
	Count    int64          `json:"count"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Results  []VoteResponse `json:"results"`
}

func newVoteResponse(v *models.Vote) VoteResponse {
	return VoteResponse{ID: v.ID, PollID: v.PollID, OptionID: v.OptionID, UserID: v.UserID, VotedAt: v.VotedAt}
}

type VoteHandler struct {
	votes *service.VoteService
}

func NewVoteHandler(votes *service.VoteService) *VoteHandler {
	return &VoteHandler{votes: votes}
}

// CastVote godoc
// @Summary Vote in a poll
// @Description One vote per user and poll; the poll must be active.
// @Tags votes
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Poll ID"
// @Param vote body CastVoteRequest true "Chosen option"
// @Success 201 {object} VoteResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /polls/{id}/votes [post]
func (h *VoteHandler) CastVote(c *gin.Context) {
	pollID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req CastVoteRequest
	if !bindJSON(c, &req) {
		return
	}

	vote, err := h.votes.Cast(c.Request.Context(), currentUser(c), pollID, service.CastVoteRequest{
		OptionID: uuid.MustParse(req.OptionID),
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newVoteResponse(vote))
}

// ListVotes godoc
// @Summary List votes of a poll
// @Description The poll owner and admins see every vote; other users see only their own.
// @Tags votes
// @Security BearerAuth
// @Produce json
// @Param id path string true "Poll ID"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} VotePage
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /polls/{id}/votes [get]
func (h *VoteHandler) ListVotes(c *gin.Context) {
	pollID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	pr, ok := pageRequest(c)
	if !ok {
		return
	}

	page, err := h.votes.List(c.Request.Context(), currentUser(c), pollID, pr)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	resp := VotePage{Count: page.Count, Page: page.Page, PageSize: page.PageSize, Results: make([]VoteResponse, len(page.Results))}
	for i := range page.Results {
		resp.Results[i] = newVoteResponse(&page.Results[i])
	}
	c.JSON(http.StatusOK, resp)
}

// MyVote godoc
// @Summary The current user's vote in a poll
// @Tags votes
// @Security BearerAuth
// @Produce json
// @Param id path string true "Poll ID"
// @Success 200 {object} VoteResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /polls/{id}/votes/me [get]
func (h *VoteHandler) MyVote(c *gin.Context) {
	pollID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	vote, err := h.votes.Mine(c.Request.Context(), currentUser(c), pollID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, newVoteResponse(vote))
}
