package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/kuranet/kuranet/internal/cache"
	"github.com/kuranet/kuranet/internal/events"
	"github.com/kuranet/kuranet/internal/models"
	"gorm.io/gorm"
)

// LiveMessage is the envelope pushed to live subscribers
type LiveMessage struct {
	Type string       `json:"type"` // "results" or "deleted"
	Data *PollResults `json:"data,omitempty"`
}

// ResultsService computes vote tallies, caches them and pushes updates to
// live subscribers.
type ResultsService struct {
	db     *gorm.DB
	cache  cache.Cache
	broker *events.Broker
	ttl    time.Duration
	now    func() time.Time
}

// NewResultsService creates a ResultsService. broker may be nil.
func NewResultsService(db *gorm.DB, c cache.Cache, broker *events.Broker, ttl time.Duration) *ResultsService {
	return &ResultsService{db: db, cache: c, broker: broker, ttl: ttl, now: utcNow}
}

func resultsKey(pollID uuid.UUID) string {
	return "results:" + pollID.String()
}

// ForPoll returns the tally for an already-loaded poll, using the cache
// when possible. Status is always evaluated at call time.
func (s *ResultsService) ForPoll(ctx context.Context, poll *models.Poll) (*PollResults, error) {
	key := resultsKey(poll.ID)

	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		slog.Warn("Results cache read failed", "poll_id", poll.ID, "error", err)
	} else if ok {
		var res PollResults
		if err := json.Unmarshal(raw, &res); err == nil {
			res.Status = poll.EffectiveStatus(s.now())
			res.ClosesAt = poll.ClosesAt
			return &res, nil
		}
	}

	res, err := s.compute(ctx, poll)
	if err != nil {
		return nil, err
	}
	s.store(ctx, res)
	return res, nil
}

// Invalidate drops the cached tally for a poll
func (s *ResultsService) Invalidate(ctx context.Context, pollID uuid.UUID) {
	if err := s.cache.Delete(ctx, resultsKey(pollID)); err != nil {
		slog.Warn("Results cache invalidation failed", "poll_id", pollID, "error", err)
	}
}

// Refresh recomputes the tally after a change, stores it and publishes
// it to live subscribers.
func (s *ResultsService) Refresh(ctx context.Context, pollID uuid.UUID) {
	s.Invalidate(ctx, pollID)

	var poll models.Poll
	if err := s.db.WithContext(ctx).First(&poll, "id = ?", pollID).Error; err != nil {
		slog.Warn("Results refresh could not load poll", "poll_id", pollID, "error", err)
		return
	}

	res, err := s.compute(ctx, &poll)
	if err != nil {
		slog.Warn("Results refresh failed", "poll_id", pollID, "error", err)
		return
	}
	s.store(ctx, res)
	s.publish(pollID, LiveMessage{Type: "results", Data: res})
}

// Removed notifies live subscribers that the poll is gone and closes them
func (s *ResultsService) Removed(ctx context.Context, pollID uuid.UUID) {
	s.Invalidate(ctx, pollID)
	if s.broker == nil {
		return
	}
	s.publish(pollID, LiveMessage{Type: "deleted"})
	s.broker.Close(pollID)
}

func (s *ResultsService) publish(pollID uuid.UUID, msg LiveMessage) {
	if s.broker == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("Failed to encode live message", "poll_id", pollID, "error", err)
		return
	}
	s.broker.Publish(pollID, payload)
}

func (s *ResultsService) store(ctx context.Context, res *PollResults) {
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, resultsKey(res.PollID), raw, s.ttl); err != nil {
		slog.Warn("Results cache write failed", "poll_id", res.PollID, "error", err)
	}
}

type optionCount struct {
	OptionID uuid.UUID
	Votes    int64
}

func (s *ResultsService) compute(ctx context.Context, poll *models.Poll) (*PollResults, error) {
	db := s.db.WithContext(ctx)

	var options []models.Option
	if err := db.Where("poll_id = ?", poll.ID).Order("position ASC").Order("created_at ASC").Find(&options).Error; err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}

	var counts []optionCount
	err := db.Model(&models.Vote{}).
		Select("option_id, COUNT(*) AS votes").
		Where("poll_id = ?", poll.ID).
		Group("option_id").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("count votes: %w", err)
	}

	byOption := make(map[uuid.UUID]int64, len(counts))
	var total int64
	for _, c := range counts {
		byOption[c.OptionID] = c.Votes
		total += c.Votes
	}

	now := s.now()
	res := &PollResults{
		PollID:     poll.ID,
		Title:      poll.Title,
		Status:     poll.EffectiveStatus(now),
		ClosesAt:   poll.ClosesAt,
		TotalVotes: total,
		Options:    make([]OptionResult, len(options)),
		ComputedAt: now,
	}
	for i, o := range options {
		votes := byOption[o.ID]
		res.Options[i] = OptionResult{
			OptionID:   o.ID,
			Text:       o.Text,
			Votes:      votes,
			Percentage: percentage(votes, total),
		}
	}
	return res, nil
}

// percentage rounds to one decimal place
func percentage(votes, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(votes)*1000/float64(total)) / 10
}

func utcNow() time.Time {
	return time.Now().UTC()
}
