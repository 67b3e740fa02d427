package service

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kuranet/kuranet/internal/models"
)

// Page is one page of a listing
type Page[T any] struct {
	Count    int64 `json:"count"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Results  []T   `json:"results"`
}

// PageRequest selects a page; zero values fall back to defaults.
type PageRequest struct {
	Page     int
	PageSize int
}

// Paging holds the default and maximum page sizes
type Paging struct {
	DefaultSize int
	MaxSize     int
}

// normalize clamps a page request and returns page, size and offset
func (p Paging) normalize(req PageRequest) (page, size, offset int) {
	page = req.Page
	if page < 1 {
		page = 1
	}
	size = req.PageSize
	if size <= 0 {
		size = p.DefaultSize
	}
	if size <= 0 {
		size = 20
	}
	if p.MaxSize > 0 && size > p.MaxSize {
		size = p.MaxSize
	}
	return page, size, (page - 1) * size
}

// CreatePollRequest holds parameters for creating a poll with its options.
type CreatePollRequest struct {
	Title       string
	Description string
	ClosesAt    time.Time
	Status      models.PollStatus // empty means draft
	Options     []string
}

// UpdatePollRequest holds a partial poll update; nil fields are unchanged.
type UpdatePollRequest struct {
	Title       *string
	Description *string
	ClosesAt    *time.Time
	Status      *models.PollStatus
}

// PollFilter narrows a poll listing.
type PollFilter struct {
	Status        models.PollStatus // effective status
	OwnerID       uuid.UUID
	Search        string
	IncludeClosed bool
	PageRequest
}

// OptionResult is the tally for one option
type OptionResult struct {
	OptionID   uuid.UUID `json:"option_id"`
	Text       string    `json:"text"`
	Votes      int64     `json:"votes"`
	Percentage float64   `json:"percentage"`
}

// PollResults is the tally for a poll
type PollResults struct {
	PollID     uuid.UUID         `json:"poll_id"`
	Title      string            `json:"title"`
	Status     models.PollStatus `json:"status"`
	ClosesAt   time.Time         `json:"closes_at"`
	TotalVotes int64             `json:"total_votes"`
	Options    []OptionResult    `json:"options"`
	ComputedAt time.Time         `json:"computed_at"`
}

// CastVoteRequest selects an option of a poll.
type CastVoteRequest struct {
	OptionID uuid.UUID
}

// RegisterRequest holds self-registration input.
type RegisterRequest struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// UpdateUserRequest holds a partial user update; nil fields are unchanged.
// IsActive and IsStaff are admin-only.
type UpdateUserRequest struct {
	Username  *string
	Email     *string
	FirstName *string
	LastName  *string
	Password  *string
	IsActive  *bool
	IsStaff   *bool
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a LIKE pattern matching search literally as a
// lower-cased substring. Use it with ESCAPE '\'.
func containsPattern(search string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(search)) + "%"
}
