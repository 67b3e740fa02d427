package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kuranet/kuranet/internal/audit"
	"github.com/kuranet/kuranet/internal/models"
	"github.com/kuranet/kuranet/internal/rbac"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	maxTitleLength  = 255
	maxOptionLength = 255
	minOptions      = 2
)

// PollService contains the business logic for polls.
type PollService struct {
	db      *gorm.DB
	rbac    *rbac.Enforcer
	results *ResultsService
	paging  Paging
	now     func() time.Time
}

// NewPollService creates a new PollService.
func NewPollService(db *gorm.DB, enforcer *rbac.Enforcer, results *ResultsService, paging Paging) *PollService {
	return &PollService{db: db, rbac: enforcer, results: results, paging: paging, now: utcNow}
}

// authorize converts an enforcer decision into a service error
func authorize(e *rbac.Enforcer, actor *models.User, action rbac.Action, ownerID uuid.UUID) error {
	if actor == nil {
		return ErrUnauthenticated
	}
	ok, err := e.Authorize(actor, action, ownerID)
	if err != nil {
		return fmt.Errorf("authorize %s: %w", action, err)
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// canView hides drafts from everyone but their owner and admins
func canView(actor *models.User, poll *models.Poll) bool {
	return poll.Status != models.PollStatusDraft || rbac.IsPollOwnerOrAdmin(actor, poll)
}

// loadPoll fetches a poll with owner and ordered options
func loadPoll(ctx context.Context, db *gorm.DB, id uuid.UUID) (*models.Poll, error) {
	var poll models.Poll
	err := db.WithContext(ctx).
		Preload("Owner").
		Preload("Options", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC").Order("created_at ASC")
		}).
		First(&poll, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &poll, nil
}

// loadVisiblePoll is loadPoll plus draft visibility; hidden drafts are not found
func loadVisiblePoll(ctx context.Context, db *gorm.DB, actor *models.User, id uuid.UUID) (*models.Poll, error) {
	poll, err := loadPoll(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, poll) {
		return nil, ErrNotFound
	}
	return poll, nil
}

// normalizeOptions trims option texts and validates count, length and uniqueness
func normalizeOptions(raw []string, fields fieldErrors) []string {
	texts := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		text := strings.TrimSpace(r)
		switch {
		case text == "":
			fields.add("options", "option text may not be blank")
		case utf8.RuneCountInString(text) > maxOptionLength:
			fields.add("options", fmt.Sprintf("option text must be at most %d characters", maxOptionLength))
		case seen[strings.ToLower(text)]:
			fields.add("options", fmt.Sprintf("duplicate option %q", text))
		default:
			seen[strings.ToLower(text)] = true
			texts = append(texts, text)
		}
	}
	if len(raw) < minOptions {
		fields.add("options", fmt.Sprintf("a poll needs at least %d options", minOptions))
	}
	return texts
}

func validateTitle(title string, fields fieldErrors) string {
	title = strings.TrimSpace(title)
	switch {
	case title == "":
		fields.add("title", "this field may not be blank")
	case utf8.RuneCountInString(title) > maxTitleLength:
		fields.add("title", fmt.Sprintf("must be at most %d characters", maxTitleLength))
	}
	return title
}

// Create validates and creates a poll together with its options in one
// transaction; no partial poll is ever stored.
func (s *PollService) Create(ctx context.Context, actor *models.User, req CreatePollRequest) (*models.Poll, error) {
	if err := authorize(s.rbac, actor, rbac.ActionPollCreate, uuid.Nil); err != nil {
		return nil, err
	}

	now := s.now()
	fields := fieldErrors{}
	title := validateTitle(req.Title, fields)
	if !req.ClosesAt.After(now) {
		fields.add("closes_at", "must be in the future")
	}
	status := req.Status
	if status == "" {
		status = models.PollStatusDraft
	}
	if status != models.PollStatusDraft && status != models.PollStatusActive {
		fields.add("status", "must be draft or active")
	}
	texts := normalizeOptions(req.Options, fields)
	if err := fields.err("invalid poll"); err != nil {
		return nil, err
	}

	poll := models.Poll{
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		OwnerID:     actor.ID,
		Status:      status,
		ClosesAt:    req.ClosesAt.UTC(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&poll).Error; err != nil {
			return fmt.Errorf("create poll: %w", err)
		}
		options := make([]models.Option, len(texts))
		for i, text := range texts {
			options[i] = models.Option{PollID: poll.ID, Text: text, Position: i}
		}
		if err := tx.Create(&options).Error; err != nil {
			return fmt.Errorf("create options: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit.Record(ctx, s.db, actor.ID, audit.ActionCreatePoll, audit.Resource("poll", poll.ID), map[string]any{
		"title":   poll.Title,
		"options": len(texts),
		"status":  poll.Status,
	})

	return loadPoll(ctx, s.db, poll.ID)
}

// List returns a page of polls visible to actor (nil for anonymous),
// newest first. Closed polls are hidden unless requested.
func (s *PollService) List(ctx context.Context, actor *models.User, f PollFilter) (*Page[models.Poll], error) {
	page, size, offset := s.paging.normalize(f.PageRequest)
	now := s.now()

	q := s.db.WithContext(ctx).Model(&models.Poll{})

	switch f.Status {
	case "":
		if !f.IncludeClosed {
			q = q.Where("status <> ? AND closes_at > ?", models.PollStatusClosed, now)
		}
	case models.PollStatusClosed:
		q = q.Where("status = ? OR closes_at <= ?", models.PollStatusClosed, now)
	case models.PollStatusActive, models.PollStatusDraft:
		q = q.Where("status = ? AND closes_at > ?", f.Status, now)
	default:
		return nil, &ValidationError{Message: "invalid filter", Fields: map[string]string{"status": "must be draft, active or closed"}}
	}

	switch {
	case actor == nil:
		q = q.Where("status <> ?", models.PollStatusDraft)
	case !rbac.IsAdmin(actor):
		q = q.Where("status <> ? OR owner_id = ?", models.PollStatusDraft, actor.ID)
	}

	if f.OwnerID != uuid.Nil {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		q = q.Where(`LOWER(title) LIKE ? ESCAPE '\'`, containsPattern(search))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count polls: %w", err)
	}

	var polls []models.Poll
	err := q.
		Preload("Owner").
		Preload("Options", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC").Order("created_at ASC")
		}).
		Order("created_at DESC").
		Offset(offset).
		Limit(size).
		Find(&polls).Error
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}

	return &Page[models.Poll]{Count: total, Page: page, PageSize: size, Results: polls}, nil
}

// Get returns a single poll; drafts are only visible to owner and admins.
func (s *PollService) Get(ctx context.Context, actor *models.User, id uuid.UUID) (*models.Poll, error) {
	return loadVisiblePoll(ctx, s.db, actor, id)
}

// Update applies a partial update. Only the owner or an admin may update,
// and a closed poll cannot be reopened.
func (s *PollService) Update(ctx context.Context, actor *models.User, id uuid.UUID, req UpdatePollRequest) (*models.Poll, error) {
	poll, err := loadVisiblePoll(ctx, s.db, actor, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(s.rbac, actor, rbac.ActionPollUpdate, poll.OwnerID); err != nil {
		return nil, err
	}

	fields := fieldErrors{}
	updates := map[string]any{}
	changed := []string{}

	// An expired poll is closed even while its stored status is not
	if poll.EffectiveStatus(s.now()) == models.PollStatusClosed {
		if req.ClosesAt != nil {
			fields.add("closes_at", "a closed poll cannot be reopened")
		}
		if req.Status != nil && *req.Status != models.PollStatusClosed {
			fields.add("status", fmt.Sprintf("cannot change status from %s to %s", models.PollStatusClosed, *req.Status))
		}
	}

	if req.Title != nil {
		updates["title"] = validateTitle(*req.Title, fields)
		changed = append(changed, "title")
	}
	if req.Description != nil {
		updates["description"] = strings.TrimSpace(*req.Description)
		changed = append(changed, "description")
	}
	if req.ClosesAt != nil {
		if !req.ClosesAt.After(s.now()) {
			fields.add("closes_at", "must be in the future")
		}
		updates["closes_at"] = req.ClosesAt.UTC()
		changed = append(changed, "closes_at")
	}
	if req.Status != nil {
		next := *req.Status
		switch {
		case !next.Valid():
			fields.add("status", "must be draft, active or closed")
		case !poll.Status.CanTransition(next):
			fields.add("status", fmt.Sprintf("cannot change status from %s to %s", poll.Status, next))
		}
		updates["status"] = next
		changed = append(changed, "status")
	}
	if err := fields.err("invalid poll"); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return poll, nil
	}

	if err := s.db.WithContext(ctx).Model(&models.Poll{}).Where("id = ?", poll.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update poll: %w", err)
	}

	audit.Record(ctx, s.db, actor.ID, audit.ActionUpdatePoll, audit.Resource("poll", poll.ID), map[string]any{"fields": changed})
	s.results.Refresh(ctx, poll.ID)

	return loadPoll(ctx, s.db, poll.ID)
}

// Delete removes a poll with its options and votes in one transaction.
func (s *PollService) Delete(ctx context.Context, actor *models.User, id uuid.UUID) error {
	poll, err := loadVisiblePoll(ctx, s.db, actor, id)
	if err != nil {
		return err
	}
	if err := authorize(s.rbac, actor, rbac.ActionPollDelete, poll.OwnerID); err != nil {
		return err
	}

	if err := deletePolls(ctx, s.db, "id = ?", poll.ID); err != nil {
		return err
	}

	audit.Record(ctx, s.db, actor.ID, audit.ActionDeletePoll, audit.Resource("poll", poll.ID), map[string]any{"title": poll.Title})
	s.results.Removed(ctx, poll.ID)
	return nil
}

// Results returns the vote tally of a visible poll.
func (s *PollService) Results(ctx context.Context, actor *models.User, id uuid.UUID) (*PollResults, error) {
	poll, err := loadVisiblePoll(ctx, s.db, actor, id)
	if err != nil {
		return nil, err
	}
	return s.results.ForPoll(ctx, poll)
}

// deletePolls removes the matching polls and everything that hangs off
// them. Explicit deletes keep this independent of FK enforcement.
func deletePolls(ctx context.Context, db *gorm.DB, query string, args ...any) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := tx.Model(&models.Poll{}).Select("id").Where(query, args...)
		if err := tx.Where("poll_id IN (?)", ids).Delete(&models.Vote{}).Error; err != nil {
			return fmt.Errorf("delete votes: %w", err)
		}
		if err := tx.Where("poll_id IN (?)", ids).Delete(&models.Option{}).Error; err != nil {
			return fmt.Errorf("delete options: %w", err)
		}
		if err := tx.Where(query, args...).Delete(&models.Poll{}).Error; err != nil {
			return fmt.Errorf("delete polls: %w", err)
		}
		return nil
	})
}
