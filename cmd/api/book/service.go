package book

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

//go:generate mockgen -source=service.go -destination=mocks/mock_service.go -package=mocks

// maxUpsertAttempts bounds how many times an upsert is replayed after losing
// the insert race for a book's review slot.
const maxUpsertAttempts = 3

type ServiceAPI interface {
	CreateBook(ctx context.Context, req CreateBookRequest) (Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (Book, error)
	ListBooks(ctx context.Context) ([]Book, error)
	UpsertReview(ctx context.Context, req UpsertReviewRequest) (Review, bool, error)
	GetReview(ctx context.Context, bookID uuid.UUID) (Review, error)
}

type Repository interface {
	CreateBook(ctx context.Context, bookEntry Book) (Book, error)
	GetBookByID(ctx context.Context, id uuid.UUID) (Book, error)
	GetBookForUpdate(ctx context.Context, id uuid.UUID) (Book, error)
	ListBooks(ctx context.Context) ([]Book, error)
	DeleteBook(ctx context.Context, id uuid.UUID) error
	GetReviewByBookID(ctx context.Context, bookID uuid.UUID) (Review, error)
	CreateReview(ctx context.Context, reviewEntry Review) (Review, error)
	UpdateReview(ctx context.Context, reviewEntry Review) (Review, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Repository, driver.Tx, error)
}

type Notifier interface {
	BookCreated(ctx context.Context, b Book) error
	ReviewPosted(ctx context.Context, r Review, created bool) error
}

type Service struct {
	repo                 Repository
	notifier             Notifier
	notificationsTimeout time.Duration
	logger               *slog.Logger
}

// NewService wires the catalog service. notifier may be nil to disable
// notifications; a nil logger falls back to slog.Default().
func NewService(repo Repository, notifier Notifier, notificationsTimeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:                 repo,
		notifier:             notifier,
		notificationsTimeout: notificationsTimeout,
		logger:               logger,
	}
}

func (s *Service) CreateBook(ctx context.Context, req CreateBookRequest) (Book, error) {
	req = req.normalize()
	if err := validateRequest(req); err != nil {
		return Book{}, err
	}

	newBook := Book{
		Title:         req.Title,
		Author:        req.Author,
		CoverImageURL: req.CoverImageURL,
	}

	createdBook, err := s.repo.CreateBook(ctx, newBook)
	if err != nil {
		return Book{}, repositoryError("CreateBook", err)
	}
	createdBook.Review = nil

	s.logger.InfoContext(ctx, "book created", slog.String("book_id", createdBook.ID.String()))

	if s.notifier != nil {
		go s.notify(func(ctx context.Context) error {
			return s.notifier.BookCreated(ctx, createdBook)
		})
	}

	return createdBook, nil
}

func (s *Service) GetBook(ctx context.Context, id uuid.UUID) (Book, error) {
	b, err := s.repo.GetBookByID(ctx, id)
	if err != nil {
		return Book{}, repositoryError("GetBook", err)
	}
	return b, nil
}

func (s *Service) ListBooks(ctx context.Context) ([]Book, error) {
	books, err := s.repo.ListBooks(ctx)
	if err != nil {
		return nil, repositoryError("ListBooks", err)
	}
	if books == nil {
		books = []Book{}
	}
	return books, nil
}

// UpsertReview creates the review of a book or, when the book already has
// one, updates it in place. The returned bool reports whether it was created.
func (s *Service) UpsertReview(ctx context.Context, req UpsertReviewRequest) (Review, bool, error) {
	if err := validateRequest(req); err != nil {
		return Review{}, false, err
	}

	var (
		review  Review
		created bool
		err     error
	)
	for attempt := 1; ; attempt++ {
		review, created, err = s.upsertReviewTx(ctx, req)
		if errors.Is(err, ErrConstraintViolation) && attempt < maxUpsertAttempts {
			s.logger.WarnContext(ctx, "review slot taken by a concurrent request, retrying as update",
				slog.String("book_id", req.BookID.String()),
				slog.Int("attempt", attempt),
			)
			continue
		}
		break
	}
	if err != nil {
		return Review{}, false, repositoryError("UpsertReview", err)
	}

	if created {
		s.logger.InfoContext(ctx, "review created", slog.String("book_id", req.BookID.String()), slog.String("review_id", review.ID.String()))
	} else {
		s.logger.InfoContext(ctx, "review updated", slog.String("book_id", req.BookID.String()), slog.String("review_id", review.ID.String()))
	}

	if s.notifier != nil {
		go s.notify(func(ctx context.Context) error {
			return s.notifier.ReviewPosted(ctx, review, created)
		})
	}

	return review, created, nil
}

/* Runs the lookup and the write of an upsert inside one transaction. */
func (s *Service) upsertReviewTx(ctx context.Context, req UpsertReviewRequest) (Review, bool, error) {
	txRepo, tx, err := s.repo.BeginTx(ctx, nil)
	if err != nil {
		return Review{}, false, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := txRepo.GetBookForUpdate(ctx, req.BookID); err != nil {
		return Review{}, false, err
	}

	var (
		review  Review
		created bool
	)
	existing, err := txRepo.GetReviewByBookID(ctx, req.BookID)
	switch {
	case err == nil:
		existing.Rating = *req.Rating
		existing.ReviewText = req.ReviewText
		review, err = txRepo.UpdateReview(ctx, existing)
	case errors.Is(err, ErrResponseReviewNotFound):
		created = true
		review, err = txRepo.CreateReview(ctx, Review{
			BookID:     req.BookID,
			Rating:     *req.Rating,
			ReviewText: req.ReviewText,
		})
	}
	if err != nil {
		return Review{}, false, err
	}

	// A canceled caller must not see a half-applied upsert.
	if err := ctx.Err(); err != nil {
		return Review{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Review{}, false, fmt.Errorf("committing review: %w", err)
	}
	return review, created, nil
}

func (s *Service) GetReview(ctx context.Context, bookID uuid.UUID) (Review, error) {
	r, err := s.repo.GetReviewByBookID(ctx, bookID)
	if err != nil {
		return Review{}, repositoryError("GetReview", err)
	}
	return r, nil
}

/* Delivers a notification detached from the request, bounded by the notifications timeout. */
func (s *Service) notify(send func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.notificationsTimeout)
	defer cancel()
	if err := send(ctx); err != nil {
		s.logger.Warn("notification not delivered", slog.Any("error", err))
	}
}

/* Classifies an error coming from the repository. */
func repositoryError(op string, err error) error {
	switch {
	case errors.Is(err, ErrResponseBookNotFound), errors.Is(err, ErrResponseReviewNotFound):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("timeout on call to %s: %w", op, err)
	default:
		return fmt.Errorf("%w on call to %s: %w", ErrStorageFault, op, err)
	}
}
