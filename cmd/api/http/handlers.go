package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bookshelf-service/cmd/api/book"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

type BookHandler struct {
	bookService    book.ServiceAPI
	logger         *slog.Logger
	requestTimeout time.Duration
}

func NewBookHandler(bookService book.ServiceAPI, logger *slog.Logger) *BookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookHandler{bookService: bookService, logger: logger}
}

/* Bounds the request context by the configured request timeout. */
func (h *BookHandler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.requestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.requestTimeout)
}

type BookEntry struct {
	Title         string  `json:"title"`
	Author        string  `json:"author"`
	CoverImageURL *string `json:"coverImageUrl"`
}

type ReviewEntry struct {
	Rating     *int    `json:"rating"`
	ReviewText *string `json:"reviewText"`
}

/* Validates the entry, then stores the entry as a new book. */
func (h *BookHandler) createBook(w http.ResponseWriter, r *http.Request) {
	var bookEntry BookEntry
	if err := readJSON(w, r, &bookEntry); err != nil {
		h.invalidJSON(w, r, err)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	storedBook, err := h.bookService.CreateBook(ctx, bookToCreateReq(bookEntry))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/books/%s", storedBook.ID))
	responseJSON(w, http.StatusCreated, bookToResponse(storedBook))
}

/* Returns the book with that specific ID. */
func (h *BookHandler) getBookById(w http.ResponseWriter, r *http.Request) {
	id, err := h.isolateId(w, r)
	if err != nil {
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	returnedBook, err := h.bookService.GetBook(ctx, id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	responseJSON(w, http.StatusOK, bookToResponse(returnedBook))
}

/* Returns every stored book, newest first. */
func (h *BookHandler) listBooks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	books, err := h.bookService.ListBooks(ctx)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	results := make([]BookResponse, 0, len(books))
	for _, b := range books {
		results = append(results, bookToResponse(b))
	}
	responseJSON(w, http.StatusOK, results)
}

/* Creates the review of the book, or updates it when the book already has one. */
func (h *BookHandler) upsertReview(w http.ResponseWriter, r *http.Request) {
	id, err := h.isolateId(w, r)
	if err != nil {
		return
	}

	var reviewEntry ReviewEntry
	if err := readJSON(w, r, &reviewEntry); err != nil {
		h.invalidJSON(w, r, err)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	review, created, err := h.bookService.UpsertReview(ctx, reviewToUpsertReq(reviewEntry, id))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	if created {
		w.Header().Set("Location", fmt.Sprintf("/api/books/%s/review", id))
		responseJSON(w, http.StatusCreated, reviewToResponse(review))
		return
	}
	responseJSON(w, http.StatusOK, reviewToResponse(review))
}

/* Returns the review of the book. The book itself is not looked up. */
func (h *BookHandler) getReview(w http.ResponseWriter, r *http.Request) {
	id, err := h.isolateId(w, r)
	if err != nil {
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	review, err := h.bookService.GetReview(ctx, id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	responseJSON(w, http.StatusOK, reviewToResponse(review))
}

/* Converts from BookEntry type to CreateBookRequest type. */
func bookToCreateReq(b BookEntry) book.CreateBookRequest {
	return book.CreateBookRequest{
		Title:         b.Title,
		Author:        b.Author,
		CoverImageURL: b.CoverImageURL,
	}
}

/* Converts from ReviewEntry type to UpsertReviewRequest type. */
func reviewToUpsertReq(r ReviewEntry, bookID uuid.UUID) book.UpsertReviewRequest {
	return book.UpsertReviewRequest{
		BookID:     bookID,
		Rating:     r.Rating,
		ReviewText: r.ReviewText,
	}
}

/* Isolates the ID from the route parameters. */
func (h *BookHandler) isolateId(w http.ResponseWriter, r *http.Request) (id uuid.UUID, err error) {
	params := httprouter.ParamsFromContext(r.Context())
	id, err = uuid.Parse(params.ByName("id"))
	if err != nil {
		h.logger.InfoContext(r.Context(), "invalid book id", slog.String("id", params.ByName("id")), slog.String("request_id", RequestID(r.Context())))
		responseJSON(w, http.StatusBadRequest, book.ErrResponseIdInvalidFormat)
		return id, err
	}
	return id, nil
}

type ReviewResponse struct {
	ID         uuid.UUID `json:"id"`
	Rating     int       `json:"rating"`
	ReviewText *string   `json:"reviewText"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type BookResponse struct {
	ID            uuid.UUID       `json:"id"`
	Title         string          `json:"title"`
	Author        string          `json:"author"`
	CoverImageURL *string         `json:"coverImageUrl"`
	CreatedAt     time.Time       `json:"createdAt"`
	Review        *ReviewResponse `json:"review"`
}

/* Copy the fields of a review object to an http layer struct with json tags. */
func reviewToResponse(r book.Review) ReviewResponse {
	return ReviewResponse{
		ID:         r.ID,
		Rating:     r.Rating,
		ReviewText: r.ReviewText,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

/* Copy the fields of a book object to an http layer struct with json tags. */
func bookToResponse(b book.Book) BookResponse {
	resp := BookResponse{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		CoverImageURL: b.CoverImageURL,
		CreatedAt:     b.CreatedAt,
	}
	if b.Review != nil {
		review := reviewToResponse(*b.Review)
		resp.Review = &review
	}
	return resp
}
