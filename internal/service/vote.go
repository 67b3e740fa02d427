package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kuranet/kuranet/internal/audit"
	"github.com/kuranet/kuranet/internal/db"
	"github.com/kuranet/kuranet/internal/models"
	"github.com/kuranet/kuranet/internal/rbac"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAlreadyVoted is the conflict returned for a second vote in the same poll
var ErrAlreadyVoted = &ConflictError{Message: "you have already voted in this poll"}

// VoteService records votes and exposes them to the permitted readers.
type VoteService struct {
	db      *gorm.DB
	rbac    *rbac.Enforcer
	results *ResultsService
	paging  Paging
	now     func() time.Time
}

// NewVoteService creates a new VoteService.
func NewVoteService(database *gorm.DB, enforcer *rbac.Enforcer, results *ResultsService, paging Paging) *VoteService {
	return &VoteService{db: database, rbac: enforcer, results: results, paging: paging, now: utcNow}
}

// Cast records actor's vote for an option of the poll. The unique
// (user, poll) index is the final arbiter: concurrent duplicate votes
// resolve to exactly one stored row and a conflict for the rest.
func (s *VoteService) Cast(ctx context.Context, actor *models.User, pollID uuid.UUID, req CastVoteRequest) (*models.Vote, error) {
	if err := authorize(s.rbac, actor, rbac.ActionVoteCast, uuid.Nil); err != nil {
		return nil, err
	}

	poll, err := loadVisiblePoll(ctx, s.db, actor, pollID)
	if err != nil {
		return nil, err
	}

	if req.OptionID == uuid.Nil {
		return nil, &ValidationError{Message: "invalid vote", Fields: map[string]string{"option_id": "this field is required"}}
	}
	if _, err := findOption(poll, req.OptionID); err != nil {
		return nil, &ValidationError{Message: "invalid vote", Fields: map[string]string{"option_id": "option does not belong to this poll"}}
	}
	if !poll.IsOpen(s.now()) {
		return nil, &ValidationError{Message: fmt.Sprintf("poll is %s and not accepting votes", poll.EffectiveStatus(s.now()))}
	}

	// PollID is left unset; the model hook derives it from the option.
	vote := models.Vote{UserID: actor.ID, OptionID: req.OptionID}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&vote).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrAlreadyVoted
		}
		return nil, fmt.Errorf("create vote: %w", err)
	}

	slog.Info("Vote cast", "poll_id", vote.PollID, "option_id", vote.OptionID, "user_id", actor.ID)
	audit.Record(ctx, s.db, actor.ID, audit.ActionCastVote, audit.Resource("poll", vote.PollID), map[string]any{"option_id": vote.OptionID})
	s.results.Refresh(ctx, vote.PollID)
	return &vote, nil
}

// List returns votes of a poll: every vote for the poll owner or an
// admin, otherwise only the actor's own vote.
func (s *VoteService) List(ctx context.Context, actor *models.User, pollID uuid.UUID, pr PageRequest) (*Page[models.Vote], error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	poll, err := loadVisiblePoll(ctx, s.db, actor, pollID)
	if err != nil {
		return nil, err
	}

	page, size, offset := s.paging.normalize(pr)
	q := s.db.WithContext(ctx).Model(&models.Vote{}).Where("poll_id = ?", poll.ID)
	if !rbac.IsPollOwnerOrAdmin(actor, poll) {
		q = q.Where("user_id = ?", actor.ID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count votes: %w", err)
	}

	var votes []models.Vote
	if err := q.Order("voted_at DESC").Offset(offset).Limit(size).Find(&votes).Error; err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	return &Page[models.Vote]{Count: total, Page: page, PageSize: size, Results: votes}, nil
}

// Mine returns the actor's vote in a poll, or ErrNotFound.
func (s *VoteService) Mine(ctx context.Context, actor *models.User, pollID uuid.UUID) (*models.Vote, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	if _, err := loadVisiblePoll(ctx, s.db, actor, pollID); err != nil {
		return nil, err
	}

	var vote models.Vote
	err := s.db.WithContext(ctx).Where("poll_id = ? AND user_id = ?", pollID, actor.ID).First(&vote).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &vote, nil
}
