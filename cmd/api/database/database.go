package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bookshelf-service/cmd/api/book"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/google/uuid"
	"github.com/lib/pq"

	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const (
	pqUniqueViolation     = pq.ErrorCode("23505")
	pqForeignKeyViolation = pq.ErrorCode("23503")
)

type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db  *sql.DB
	exc *Executor
}

type Executor struct {
	DBTX
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		exc: NewExc(db),
	}
}

func NewExc(dbtx DBTX) *Executor {
	return &Executor{DBTX: dbtx}
}

func (store *Store) BeginTx(ctx context.Context, opts *sql.TxOptions) (book.Repository, driver.Tx, error) {
	tx, err := store.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}

	txRepo := NewStore(store.db)
	txRepo.exc = NewExc(tx)
	return txRepo, tx, nil
}

/* Connects to the database through a connection string and returns a pointer to a valid DB object (*sql.DB). */
func ConnectDb(ctx context.Context, connStr string) (*sql.DB, error) {
	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("connecting to db, opening: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connecting to db, pinging: %w", err)
	}

	slog.InfoContext(ctx, "connected to database")
	return sqlDB, nil
}

/* Applies every pending migration found under path. Being already up to date is not an error. */
func MigrationUp(store *Store, path string) error {
	driver, err := postgres.WithInstance(store.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrating up: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", path),
		"postgres", driver)
	if err != nil {
		return fmt.Errorf("migrating up: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating up: %w", err)
	}
	return nil
}

/* Translates constraint failures raised by postgres into domain errors. */
func constraintError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqUniqueViolation:
		return fmt.Errorf("%w: %s", book.ErrConstraintViolation, pqErr.Constraint)
	case pqForeignKeyViolation:
		return book.ErrResponseBookNotFound
	default:
		return err
	}
}

func now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

type rowScanner interface {
	Scan(dest ...any) error
}

/* Scans a book joined with its review, if any. */
func scanBookWithReview(row rowScanner) (book.Book, error) {
	var (
		b               book.Book
		reviewID        uuid.NullUUID
		rating          sql.NullInt64
		reviewText      sql.NullString
		reviewCreatedAt sql.NullTime
		reviewUpdatedAt sql.NullTime
	)
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.CoverImageURL, &b.CreatedAt,
		&reviewID, &rating, &reviewText, &reviewCreatedAt, &reviewUpdatedAt)
	if err != nil {
		return book.Book{}, err
	}
	b.CreatedAt = b.CreatedAt.UTC()

	if reviewID.Valid {
		r := book.Review{
			ID:        reviewID.UUID,
			BookID:    b.ID,
			Rating:    int(rating.Int64),
			CreatedAt: reviewCreatedAt.Time.UTC(),
			UpdatedAt: reviewUpdatedAt.Time.UTC(),
		}
		if reviewText.Valid {
			r.ReviewText = &reviewText.String
		}
		b.Review = &r
	}
	return b, nil
}

func scanReview(row rowScanner) (book.Review, error) {
	var r book.Review
	err := row.Scan(&r.ID, &r.BookID, &r.Rating, &r.ReviewText, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return book.Review{}, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

const selectBookWithReview = `SELECT b.id, b.title, b.author, b.cover_image_url, b.created_at,
	r.id, r.rating, r.review_text, r.created_at, r.updated_at
	FROM books b
	LEFT JOIN reviews r ON r.book_id = b.id`

// -- Books --

/* Stores the book into the database and returns it with its generated id and creation time. */
func (store *Store) CreateBook(ctx context.Context, bookEntry book.Book) (book.Book, error) {
	sqlStatement := `
	INSERT INTO books (id, title, author, cover_image_url, created_at)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, title, author, cover_image_url, created_at`
	createdRow := store.exc.QueryRowContext(ctx, sqlStatement, uuid.New(), bookEntry.Title, bookEntry.Author, bookEntry.CoverImageURL, now())
	var bookToReturn book.Book
	err := createdRow.Scan(&bookToReturn.ID, &bookToReturn.Title, &bookToReturn.Author, &bookToReturn.CoverImageURL, &bookToReturn.CreatedAt)
	if err != nil {
		return book.Book{}, fmt.Errorf("storing book on db: %w", err)
	}
	bookToReturn.CreatedAt = bookToReturn.CreatedAt.UTC()

	return bookToReturn, nil
}

/* Searches a book in database based on ID and returns it along with its review. */
func (store *Store) GetBookByID(ctx context.Context, id uuid.UUID) (book.Book, error) {
	sqlStatement := selectBookWithReview + `
	WHERE b.id = $1;`
	bookToReturn, err := scanBookWithReview(store.exc.QueryRowContext(ctx, sqlStatement, id))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return book.Book{}, fmt.Errorf("searching by ID: %w", book.ErrResponseBookNotFound)
		default:
			return book.Book{}, fmt.Errorf("searching by ID: %w", err)
		}
	}

	return bookToReturn, nil
}

/*
Locks the book row until the surrounding transaction ends. Concurrent upserts
on the same book queue here. The review is not loaded.
*/
func (store *Store) GetBookForUpdate(ctx context.Context, id uuid.UUID) (book.Book, error) {
	sqlStatement := `SELECT id, title, author, cover_image_url, created_at
	FROM books
	WHERE id = $1
	FOR UPDATE;`
	foundRow := store.exc.QueryRowContext(ctx, sqlStatement, id)
	var bookToReturn book.Book
	err := foundRow.Scan(&bookToReturn.ID, &bookToReturn.Title, &bookToReturn.Author, &bookToReturn.CoverImageURL, &bookToReturn.CreatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return book.Book{}, fmt.Errorf("locking book: %w", book.ErrResponseBookNotFound)
		default:
			return book.Book{}, fmt.Errorf("locking book: %w", err)
		}
	}
	bookToReturn.CreatedAt = bookToReturn.CreatedAt.UTC()

	return bookToReturn, nil
}

/* Returns every book, newest first, each one with its review if present. */
func (store *Store) ListBooks(ctx context.Context) ([]book.Book, error) {
	sqlStatement := selectBookWithReview + `
	ORDER BY b.created_at DESC, b.seq DESC;`

	rows, err := store.exc.QueryContext(ctx, sqlStatement)
	if err != nil {
		return nil, fmt.Errorf("listing books from db: %w", err)
	}
	defer rows.Close()

	bookslist := []book.Book{}
	for rows.Next() {
		b, err := scanBookWithReview(rows)
		if err != nil {
			return nil, fmt.Errorf("listing books from db: %w", err)
		}
		bookslist = append(bookslist, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing books from db: %w", err)
	}

	return bookslist, nil
}

/* Deletes the book. Its review goes with it through ON DELETE CASCADE. */
func (store *Store) DeleteBook(ctx context.Context, id uuid.UUID) error {
	sqlStatement := `DELETE FROM books WHERE id = $1;`
	result, err := store.exc.ExecContext(ctx, sqlStatement, id)
	if err != nil {
		return fmt.Errorf("deleting book from db: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting book from db: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("deleting book from db: %w", book.ErrResponseBookNotFound)
	}
	return nil
}

// -- Reviews --

func (store *Store) GetReviewByBookID(ctx context.Context, bookID uuid.UUID) (book.Review, error) {
	sqlStatement := `SELECT id, book_id, rating, review_text, created_at, updated_at
	FROM reviews
	WHERE book_id = $1;`
	reviewToReturn, err := scanReview(store.exc.QueryRowContext(ctx, sqlStatement, bookID))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return book.Review{}, fmt.Errorf("searching review by book ID: %w", book.ErrResponseReviewNotFound)
		default:
			return book.Review{}, fmt.Errorf("searching review by book ID: %w", err)
		}
	}
	return reviewToReturn, nil
}

/*
Inserts the first review of a book. The unique constraint on book_id turns a
lost race into ErrConstraintViolation and the foreign key turns a missing book
into ErrResponseBookNotFound.
*/
func (store *Store) CreateReview(ctx context.Context, reviewEntry book.Review) (book.Review, error) {
	sqlStatement := `
	INSERT INTO reviews (id, book_id, rating, review_text, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $5)
	RETURNING id, book_id, rating, review_text, created_at, updated_at`
	createdRow := store.exc.QueryRowContext(ctx, sqlStatement, uuid.New(), reviewEntry.BookID, reviewEntry.Rating, reviewEntry.ReviewText, now())
	reviewToReturn, err := scanReview(createdRow)
	if err != nil {
		return book.Review{}, fmt.Errorf("storing review on db: %w", constraintError(err))
	}
	return reviewToReturn, nil
}

func (store *Store) UpdateReview(ctx context.Context, reviewEntry book.Review) (book.Review, error) {
	sqlStatement := `
	UPDATE reviews
	SET rating = $2, review_text = $3, updated_at = GREATEST($4, created_at)
	WHERE id = $1
	RETURNING id, book_id, rating, review_text, created_at, updated_at`
	updatedRow := store.exc.QueryRowContext(ctx, sqlStatement, reviewEntry.ID, reviewEntry.Rating, reviewEntry.ReviewText, now())
	reviewToReturn, err := scanReview(updatedRow)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return book.Review{}, fmt.Errorf("updating review on db: %w", book.ErrResponseReviewNotFound)
		default:
			return book.Review{}, fmt.Errorf("updating review on db: %w", err)
		}
	}
	return reviewToReturn, nil
}
