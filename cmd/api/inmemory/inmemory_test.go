package inmemory_test

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/bookshelf-service/cmd/api/book"
	"github.com/bookshelf-service/cmd/api/inmemory"
	"github.com/google/uuid"
	"github.com/matryer/is"
)

var ctx context.Context = context.Background()

func newStore() *inmemory.InMemoryStore {
	store, err := inmemory.NewInMemoryStore()
	if err != nil {
		log.Fatalln(err)
	}
	return store
}

func TestCreateBook(t *testing.T) {
	store := newStore()

	t.Run("creates a book without errors", func(t *testing.T) {
		is := is.New(t)

		b := book.Book{
			Title:         "A new book",
			Author:        "Someone",
			CoverImageURL: toPointer("https://covers.example/1.png"),
		}

		newBook, err := store.CreateBook(ctx, b)
		is.NoErr(err)
		is.True(newBook.ID != uuid.Nil)
		is.Equal(newBook.CreatedAt.Location(), time.UTC)
		is.True(!newBook.CreatedAt.After(time.Now().UTC().Add(time.Millisecond)))
		is.Equal(newBook.Review, nil)

		b.ID = newBook.ID
		compareBooks(is, newBook, b)
	})
}

func TestGetBook(t *testing.T) {
	store := newStore()

	t.Run("gets a book by ID without errors", func(t *testing.T) {
		is := is.New(t)

		newBook, err := store.CreateBook(ctx, book.Book{Title: "A book to be fetched", Author: "Someone"})
		is.NoErr(err)

		returnedBook, err := store.GetBookByID(ctx, newBook.ID)
		is.NoErr(err)
		compareBooks(is, returnedBook, newBook)
	})

	t.Run("includes the review of the book", func(t *testing.T) {
		is := is.New(t)

		newBook, err := store.CreateBook(ctx, book.Book{Title: "A reviewed book", Author: "Someone"})
		is.NoErr(err)
		review, err := store.CreateReview(ctx, book.Review{BookID: newBook.ID, Rating: 4})
		is.NoErr(err)

		returnedBook, err := store.GetBookByID(ctx, newBook.ID)
		is.NoErr(err)
		is.True(returnedBook.Review != nil)
		is.Equal(*returnedBook.Review, review)
	})

	t.Run("gets a non existing book should return a not found error", func(t *testing.T) {
		is := is.New(t)

		_, err := store.GetBookByID(ctx, uuid.New())
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
	})
}

func TestListBooks(t *testing.T) {
	t.Run("lists nothing on an empty store", func(t *testing.T) {
		is := is.New(t)
		store := newStore()

		books, err := store.ListBooks(ctx)
		is.NoErr(err)
		is.Equal(len(books), 0)
	})

	t.Run("lists books newest first", func(t *testing.T) {
		is := is.New(t)
		store := newStore()

		created := []book.Book{}
		for _, title := range []string{"B1", "B2", "B3"} {
			b, err := store.CreateBook(ctx, book.Book{Title: title, Author: "Someone"})
			is.NoErr(err)
			created = append(created, b)
		}
		_, err := store.CreateReview(ctx, book.Review{BookID: created[1].ID, Rating: 2})
		is.NoErr(err)

		books, err := store.ListBooks(ctx)
		is.NoErr(err)
		is.Equal(len(books), 3)
		is.Equal(books[0].Title, "B3")
		is.Equal(books[1].Title, "B2")
		is.Equal(books[2].Title, "B1")
		is.True(books[0].Review == nil)
		is.True(books[1].Review != nil)
		is.Equal(books[1].Review.Rating, 2)
	})
}

func TestDeleteBook(t *testing.T) {
	store := newStore()

	t.Run("deletes the book and its review", func(t *testing.T) {
		is := is.New(t)

		newBook, err := store.CreateBook(ctx, book.Book{Title: "A book to be deleted", Author: "Someone"})
		is.NoErr(err)
		_, err = store.CreateReview(ctx, book.Review{BookID: newBook.ID, Rating: 1})
		is.NoErr(err)

		is.NoErr(store.DeleteBook(ctx, newBook.ID))

		_, err = store.GetBookByID(ctx, newBook.ID)
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
		_, err = store.GetReviewByBookID(ctx, newBook.ID)
		is.True(errors.Is(err, book.ErrResponseReviewNotFound))
	})

	t.Run("deletes a non existing book should return a not found error", func(t *testing.T) {
		is := is.New(t)

		err := store.DeleteBook(ctx, uuid.New())
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
	})
}

func TestCreateReview(t *testing.T) {
	store := newStore()

	t.Run("creates a review without errors", func(t *testing.T) {
		is := is.New(t)

		newBook, err := store.CreateBook(ctx, book.Book{Title: "A book", Author: "Someone"})
		is.NoErr(err)

		review, err := store.CreateReview(ctx, book.Review{BookID: newBook.ID, Rating: 5, ReviewText: toPointer("")})
		is.NoErr(err)
		is.True(review.ID != uuid.Nil)
		is.Equal(review.BookID, newBook.ID)
		is.Equal(review.Rating, 5)
		is.True(review.ReviewText != nil)
		is.Equal(*review.ReviewText, "")
		is.True(review.UpdatedAt.Equal(review.CreatedAt))

		fetched, err := store.GetReviewByBookID(ctx, newBook.ID)
		is.NoErr(err)
		is.Equal(fetched, review)
	})

	t.Run("rejects a second review for the same book", func(t *testing.T) {
		is := is.New(t)

		newBook, err := store.CreateBook(ctx, book.Book{Title: "A book", Author: "Someone"})
		is.NoErr(err)
		first, err := store.CreateReview(ctx, book.Review{BookID: newBook.ID, Rating: 5})
		is.NoErr(err)

		_, err = store.CreateReview(ctx, book.Review{BookID: newBook.ID, Rating: 1})
		is.True(errors.Is(err, book.ErrConstraintViolation))

		fetched, err := store.GetReviewByBookID(ctx, newBook.ID)
		is.NoErr(err)
		is.Equal(fetched, first)
	})

	t.Run("rejects a review for a non existing book", func(t *testing.T) {
		is := is.New(t)

		_, err := store.CreateReview(ctx, book.Review{BookID: uuid.New(), Rating: 5})
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
	})
}

func TestUpdateReview(t *testing.T) {
	store := newStore()

	t.Run("updates a review in place", func(t *testing.T) {
		is := is.New(t)

		newBook, err := store.CreateBook(ctx, book.Book{Title: "A book", Author: "Someone"})
		is.NoErr(err)
		first, err := store.CreateReview(ctx, book.Review{BookID: newBook.ID, Rating: 5, ReviewText: toPointer("Great")})
		is.NoErr(err)

		time.Sleep(2 * time.Millisecond)
		changed := first
		changed.Rating = 3
		changed.ReviewText = nil
		changed.CreatedAt = time.Time{}

		updated, err := store.UpdateReview(ctx, changed)
		is.NoErr(err)
		is.Equal(updated.ID, first.ID)
		is.Equal(updated.BookID, first.BookID)
		is.True(updated.CreatedAt.Equal(first.CreatedAt))
		is.True(updated.UpdatedAt.After(first.UpdatedAt))
		is.Equal(updated.Rating, 3)
		is.Equal(updated.ReviewText, nil)
	})

	t.Run("updates a non existing review should return a not found error", func(t *testing.T) {
		is := is.New(t)

		_, err := store.UpdateReview(ctx, book.Review{ID: uuid.New(), Rating: 3})
		is.True(errors.Is(err, book.ErrResponseReviewNotFound))
	})
}

func TestTransactions(t *testing.T) {
	store := newStore()

	t.Run("rollback discards writes", func(t *testing.T) {
		is := is.New(t)

		txStore, tx, err := store.BeginTx(ctx, nil)
		is.NoErr(err)
		newBook, err := txStore.CreateBook(ctx, book.Book{Title: "Never stored", Author: "Someone"})
		is.NoErr(err)
		is.NoErr(tx.Rollback())
		is.NoErr(tx.Rollback())

		_, err = store.GetBookByID(ctx, newBook.ID)
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
	})

	t.Run("commit publishes writes", func(t *testing.T) {
		is := is.New(t)

		txStore, tx, err := store.BeginTx(ctx, nil)
		is.NoErr(err)
		newBook, err := txStore.CreateBook(ctx, book.Book{Title: "Stored", Author: "Someone"})
		is.NoErr(err)
		_, err = txStore.CreateReview(ctx, book.Review{BookID: newBook.ID, Rating: 4})
		is.NoErr(err)
		is.NoErr(tx.Commit())
		is.NoErr(tx.Rollback())

		fetched, err := store.GetBookByID(ctx, newBook.ID)
		is.NoErr(err)
		is.True(fetched.Review != nil)
	})

	t.Run("a canceled context does not open a transaction", func(t *testing.T) {
		is := is.New(t)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, _, err := store.BeginTx(cctx, nil)
		is.True(errors.Is(err, context.Canceled))

		// The writer lock must have been released.
		_, err = store.CreateBook(ctx, book.Book{Title: "After cancel", Author: "Someone"})
		is.NoErr(err)
	})
}

func TestConcurrentUpserts(t *testing.T) {
	for i := 0; i < 20; i++ {
		t.Run("two racing upserts leave a single review", func(t *testing.T) {
			is := is.New(t)
			store := newStore()
			service := book.NewService(store, nil, time.Second, nil)

			newBook, err := store.CreateBook(ctx, book.Book{Title: "Contended", Author: "Someone"})
			is.NoErr(err)

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				created []bool
				ids     []uuid.UUID
				errs    []error
			)
			for _, rating := range []int{2, 5} {
				wg.Add(1)
				go func(rating int) {
					defer wg.Done()
					r, c, err := service.UpsertReview(ctx, book.UpsertReviewRequest{BookID: newBook.ID, Rating: &rating})
					mu.Lock()
					defer mu.Unlock()
					created = append(created, c)
					ids = append(ids, r.ID)
					errs = append(errs, err)
				}(rating)
			}
			wg.Wait()

			is.NoErr(errs[0])
			is.NoErr(errs[1])
			is.True(created[0] != created[1])
			is.Equal(ids[0], ids[1])

			books, err := store.ListBooks(ctx)
			is.NoErr(err)
			is.Equal(len(books), 1)
			is.True(books[0].Review != nil)
			is.Equal(books[0].Review.ID, ids[0])
		})
	}
}

func compareBooks(is *is.I, a, b book.Book) {
	is.Helper()

	// Make sure we have the correct timestamps.
	is.True(a.CreatedAt.Equal(b.CreatedAt) || b.CreatedAt.IsZero())

	// Overwrite to be able to compare them.
	b.CreatedAt = a.CreatedAt

	// Assert that they are equal.
	is.Equal(a, b)
}

func toPointer[T any](v T) *T {
	return &v
}
