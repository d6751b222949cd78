package book

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	TitleMaxLength         = 200
	AuthorMaxLength        = 100
	CoverImageURLMaxLength = 500
	ReviewTextMaxLength    = 2000
	RatingMin              = 1
	RatingMax              = 5
)

type Book struct {
	ID            uuid.UUID
	Title         string
	Author        string
	CoverImageURL *string
	CreatedAt     time.Time
	Review        *Review
}

// Review is owned by exactly one Book. A book never holds more than one.
type Review struct {
	ID         uuid.UUID
	BookID     uuid.UUID
	Rating     int
	ReviewText *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type CreateBookRequest struct {
	Title         string  `json:"title" validate:"required,max=200"`
	Author        string  `json:"author" validate:"required,max=100"`
	CoverImageURL *string `json:"coverImageUrl" validate:"omitempty,max=500"`
}

/* Trims the text fields and drops a blank cover URL. */
func (req CreateBookRequest) normalize() CreateBookRequest {
	req.Title = strings.TrimSpace(req.Title)
	req.Author = strings.TrimSpace(req.Author)
	if req.CoverImageURL != nil {
		cover := strings.TrimSpace(*req.CoverImageURL)
		if cover == "" {
			req.CoverImageURL = nil
		} else {
			req.CoverImageURL = &cover
		}
	}
	return req
}

type UpsertReviewRequest struct {
	BookID     uuid.UUID `json:"-" validate:"-"`
	Rating     *int      `json:"rating" validate:"required,min=1,max=5"`
	ReviewText *string   `json:"reviewText" validate:"omitempty,max=2000"`
}
