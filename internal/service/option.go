package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kuranet/kuranet/internal/audit"
	"github.com/kuranet/kuranet/internal/models"
	"github.com/kuranet/kuranet/internal/rbac"
	"gorm.io/gorm"
)

// OptionService manages the options of existing polls.
type OptionService struct {
	db      *gorm.DB
	rbac    *rbac.Enforcer
	results *ResultsService
	now     func() time.Time
}

// NewOptionService creates a new OptionService.
func NewOptionService(db *gorm.DB, enforcer *rbac.Enforcer, results *ResultsService) *OptionService {
	return &OptionService{db: db, rbac: enforcer, results: results, now: utcNow}
}

// List returns the options of a visible poll in display order.
func (s *OptionService) List(ctx context.Context, actor *models.User, pollID uuid.UUID) ([]models.Option, error) {
	poll, err := loadVisiblePoll(ctx, s.db, actor, pollID)
	if err != nil {
		return nil, err
	}
	return poll.Options, nil
}

// writablePoll loads a poll the actor may change options on.
// Options of a closed poll are frozen.
func (s *OptionService) writablePoll(ctx context.Context, actor *models.User, pollID uuid.UUID) (*models.Poll, error) {
	poll, err := loadVisiblePoll(ctx, s.db, actor, pollID)
	if err != nil {
		return nil, err
	}
	if err := authorize(s.rbac, actor, rbac.ActionOptionWrite, poll.OwnerID); err != nil {
		return nil, err
	}
	if poll.EffectiveStatus(s.now()) == models.PollStatusClosed {
		return nil, &ValidationError{Message: "options of a closed poll cannot be changed"}
	}
	return poll, nil
}

func validateOptionText(text string, poll *models.Poll, skipID uuid.UUID) (string, error) {
	text = strings.TrimSpace(text)
	fields := fieldErrors{}
	switch {
	case text == "":
		fields.add("text", "this field may not be blank")
	case utf8.RuneCountInString(text) > maxOptionLength:
		fields.add("text", fmt.Sprintf("must be at most %d characters", maxOptionLength))
	default:
		for _, o := range poll.Options {
			if o.ID != skipID && strings.EqualFold(o.Text, text) {
				fields.add("text", "this poll already has that option")
				break
			}
		}
	}
	return text, fields.err("invalid option")
}

// Add appends an option to a poll.
func (s *OptionService) Add(ctx context.Context, actor *models.User, pollID uuid.UUID, text string) (*models.Option, error) {
	poll, err := s.writablePoll(ctx, actor, pollID)
	if err != nil {
		return nil, err
	}
	text, err = validateOptionText(text, poll, uuid.Nil)
	if err != nil {
		return nil, err
	}

	position := 0
	for _, o := range poll.Options {
		if o.Position >= position {
			position = o.Position + 1
		}
	}

	opt := models.Option{PollID: poll.ID, Text: text, Position: position}
	if err := s.db.WithContext(ctx).Create(&opt).Error; err != nil {
		return nil, fmt.Errorf("create option: %w", err)
	}

	audit.Record(ctx, s.db, actor.ID, audit.ActionAddOption, audit.Resource("poll", poll.ID), map[string]any{"option_id": opt.ID, "text": text})
	s.results.Refresh(ctx, poll.ID)
	return &opt, nil
}

// Update renames an option.
func (s *OptionService) Update(ctx context.Context, actor *models.User, pollID, optionID uuid.UUID, text string) (*models.Option, error) {
	poll, err := s.writablePoll(ctx, actor, pollID)
	if err != nil {
		return nil, err
	}
	opt, err := findOption(poll, optionID)
	if err != nil {
		return nil, err
	}
	text, err = validateOptionText(text, poll, opt.ID)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(opt).Update("text", text).Error; err != nil {
		return nil, fmt.Errorf("update option: %w", err)
	}
	opt.Text = text

	audit.Record(ctx, s.db, actor.ID, audit.ActionUpdateOption, audit.Resource("poll", poll.ID), map[string]any{"option_id": opt.ID, "text": text})
	s.results.Refresh(ctx, poll.ID)
	return opt, nil
}

// Delete removes an option and the votes cast for it. A poll keeps at
// least two options.
func (s *OptionService) Delete(ctx context.Context, actor *models.User, pollID, optionID uuid.UUID) error {
	poll, err := s.writablePoll(ctx, actor, pollID)
	if err != nil {
		return err
	}
	opt, err := findOption(poll, optionID)
	if err != nil {
		return err
	}
	if len(poll.Options) <= minOptions {
		return &ValidationError{Message: fmt.Sprintf("a poll needs at least %d options", minOptions)}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("option_id = ?", opt.ID).Delete(&models.Vote{}).Error; err != nil {
			return fmt.Errorf("delete votes: %w", err)
		}
		res := tx.Where("id = ? AND poll_id = ?", opt.ID, poll.ID).Delete(&models.Option{})
		if res.Error != nil {
			return fmt.Errorf("delete option: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	audit.Record(ctx, s.db, actor.ID, audit.ActionDeleteOption, audit.Resource("poll", poll.ID), map[string]any{"option_id": opt.ID, "text": opt.Text})
	s.results.Refresh(ctx, poll.ID)
	return nil
}

func findOption(poll *models.Poll, optionID uuid.UUID) (*models.Option, error) {
	for i := range poll.Options {
		if poll.Options[i].ID == optionID {
			return &poll.Options[i], nil
		}
	}
	return nil, ErrNotFound
}
