package inmemory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/bookshelf-service/cmd/api/book"
	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
)

type InMemoryStore struct {
	db  *memdb.MemDB
	seq *atomic.Uint64
	// txn is only set on stores handed out by BeginTx.
	txn *memdb.Txn
}

func NewInMemoryStore() (*InMemoryStore, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"book": {
				Name: "book",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
			"review": {
				Name: "review",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"book_id": {
						Name:    "book_id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "BookID"},
					},
				},
			},
		},
	}

	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("validating in-memory schema: %w", err)
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize in-memory database: %w", err)
	}
	return &InMemoryStore{db: db, seq: &atomic.Uint64{}}, nil
}

type AdaptedBook struct {
	ID            string
	Seq           uint64
	Title         string
	Author        string
	CoverImageURL *string
	CreatedAt     time.Time
}

func adaptBookIdToUUID(adptBook AdaptedBook) book.Book {
	return book.Book{
		ID:            uuid.MustParse(adptBook.ID),
		Title:         adptBook.Title,
		Author:        adptBook.Author,
		CoverImageURL: adptBook.CoverImageURL,
		CreatedAt:     adptBook.CreatedAt,
	}
}

type AdaptedReview struct {
	ID         string
	BookID     string
	Rating     int
	ReviewText *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func adaptReviewIdToUUID(adptReview AdaptedReview) book.Review {
	return book.Review{
		ID:         uuid.MustParse(adptReview.ID),
		BookID:     uuid.MustParse(adptReview.BookID),
		Rating:     adptReview.Rating,
		ReviewText: adptReview.ReviewText,
		CreatedAt:  adptReview.CreatedAt,
		UpdatedAt:  adptReview.UpdatedAt,
	}
}

func now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

/*
Returns the transaction an operation must run on. Stores created by BeginTx
always reuse their own write transaction, anything else gets a fresh one that
the caller must end with the returned func.
*/
func (store *InMemoryStore) txnFor(write bool) (*memdb.Txn, func()) {
	if store.txn != nil {
		return store.txn, func() {}
	}
	txn := store.db.Txn(write)
	return txn, txn.Abort
}

/* Commits txn unless it belongs to a larger transaction. */
func (store *InMemoryStore) commit(txn *memdb.Txn) {
	if store.txn == nil {
		txn.Commit()
	}
}

// -- Books --

func (store *InMemoryStore) CreateBook(ctx context.Context, bookEntry book.Book) (book.Book, error) {
	if err := ctx.Err(); err != nil {
		return book.Book{}, err
	}
	txn, end := store.txnFor(true)
	defer end()

	record := AdaptedBook{
		ID:            uuid.New().String(),
		Seq:           store.seq.Add(1),
		Title:         bookEntry.Title,
		Author:        bookEntry.Author,
		CoverImageURL: bookEntry.CoverImageURL,
		CreatedAt:     now(),
	}
	if err := txn.Insert("book", record); err != nil {
		return book.Book{}, fmt.Errorf("storing book on db: %w", err)
	}

	store.commit(txn)
	return adaptBookIdToUUID(record), nil
}

func (store *InMemoryStore) GetBookByID(ctx context.Context, id uuid.UUID) (book.Book, error) {
	if err := ctx.Err(); err != nil {
		return book.Book{}, err
	}
	txn, end := store.txnFor(false)
	defer end()

	b, err := getBook(txn, id)
	if err != nil {
		return book.Book{}, fmt.Errorf("searching by ID: %w", err)
	}
	return b, nil
}

/*
Inside a transaction the write lock is already held, so the book cannot change
underneath the caller until it commits or rolls back. The review is not loaded.
*/
func (store *InMemoryStore) GetBookForUpdate(ctx context.Context, id uuid.UUID) (book.Book, error) {
	if err := ctx.Err(); err != nil {
		return book.Book{}, err
	}
	txn, end := store.txnFor(true)
	defer end()

	raw, err := txn.First("book", "id", id.String())
	if err != nil {
		return book.Book{}, fmt.Errorf("locking book: %w", err)
	}
	if raw == nil {
		return book.Book{}, fmt.Errorf("locking book: %w", book.ErrResponseBookNotFound)
	}
	return adaptBookIdToUUID(raw.(AdaptedBook)), nil
}

func getBook(txn *memdb.Txn, id uuid.UUID) (book.Book, error) {
	raw, err := txn.First("book", "id", id.String())
	if err != nil {
		return book.Book{}, err
	}
	if raw == nil {
		return book.Book{}, book.ErrResponseBookNotFound
	}
	b := adaptBookIdToUUID(raw.(AdaptedBook))
	b.Review, err = reviewOf(txn, raw.(AdaptedBook).ID)
	if err != nil {
		return book.Book{}, err
	}
	return b, nil
}

func reviewOf(txn *memdb.Txn, bookID string) (*book.Review, error) {
	raw, err := txn.First("review", "book_id", bookID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	r := adaptReviewIdToUUID(raw.(AdaptedReview))
	return &r, nil
}

func (store *InMemoryStore) ListBooks(ctx context.Context) ([]book.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn, end := store.txnFor(false)
	defer end()

	it, err := txn.Get("book", "id")
	if err != nil {
		return nil, fmt.Errorf("listing books from db: %w", err)
	}

	records := []AdaptedBook{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		records = append(records, obj.(AdaptedBook))
	}

	// Newest first; Seq breaks ties between books created in the same millisecond.
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].Seq > records[j].Seq
	})

	books := make([]book.Book, 0, len(records))
	for _, rec := range records {
		b := adaptBookIdToUUID(rec)
		if b.Review, err = reviewOf(txn, rec.ID); err != nil {
			return nil, fmt.Errorf("listing books from db: %w", err)
		}
		books = append(books, b)
	}
	return books, nil
}

/* Deletes the book together with its review. */
func (store *InMemoryStore) DeleteBook(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn, end := store.txnFor(true)
	defer end()

	raw, err := txn.First("book", "id", id.String())
	if err != nil {
		return fmt.Errorf("deleting book from db: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("deleting book from db: %w", book.ErrResponseBookNotFound)
	}

	if _, err := txn.DeleteAll("review", "book_id", id.String()); err != nil {
		return fmt.Errorf("deleting review of book from db: %w", err)
	}
	if err := txn.Delete("book", raw); err != nil {
		return fmt.Errorf("deleting book from db: %w", err)
	}

	store.commit(txn)
	return nil
}

// -- Reviews --

func (store *InMemoryStore) GetReviewByBookID(ctx context.Context, bookID uuid.UUID) (book.Review, error) {
	if err := ctx.Err(); err != nil {
		return book.Review{}, err
	}
	txn, end := store.txnFor(false)
	defer end()

	r, err := reviewOf(txn, bookID.String())
	if err != nil {
		return book.Review{}, fmt.Errorf("searching review by book ID: %w", err)
	}
	if r == nil {
		return book.Review{}, fmt.Errorf("searching review by book ID: %w", book.ErrResponseReviewNotFound)
	}
	return *r, nil
}

/*
memdb does not reject a second row on a unique index, it replaces the first.
The existing review is looked up under the write lock instead.
*/
func (store *InMemoryStore) CreateReview(ctx context.Context, reviewEntry book.Review) (book.Review, error) {
	if err := ctx.Err(); err != nil {
		return book.Review{}, err
	}
	txn, end := store.txnFor(true)
	defer end()

	bookID := reviewEntry.BookID.String()
	rawBook, err := txn.First("book", "id", bookID)
	if err != nil {
		return book.Review{}, fmt.Errorf("storing review on db: %w", err)
	}
	if rawBook == nil {
		return book.Review{}, fmt.Errorf("storing review on db: %w", book.ErrResponseBookNotFound)
	}

	existing, err := txn.First("review", "book_id", bookID)
	if err != nil {
		return book.Review{}, fmt.Errorf("storing review on db: %w", err)
	}
	if existing != nil {
		return book.Review{}, fmt.Errorf("storing review on db: %w", book.ErrConstraintViolation)
	}

	createdAt := now()
	record := AdaptedReview{
		ID:         uuid.New().String(),
		BookID:     bookID,
		Rating:     reviewEntry.Rating,
		ReviewText: reviewEntry.ReviewText,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	if err := txn.Insert("review", record); err != nil {
		return book.Review{}, fmt.Errorf("storing review on db: %w", err)
	}

	store.commit(txn)
	return adaptReviewIdToUUID(record), nil
}

func (store *InMemoryStore) UpdateReview(ctx context.Context, reviewEntry book.Review) (book.Review, error) {
	if err := ctx.Err(); err != nil {
		return book.Review{}, err
	}
	txn, end := store.txnFor(true)
	defer end()

	raw, err := txn.First("review", "id", reviewEntry.ID.String())
	if err != nil {
		return book.Review{}, fmt.Errorf("updating review on db: %w", err)
	}
	if raw == nil {
		return book.Review{}, fmt.Errorf("updating review on db: %w", book.ErrResponseReviewNotFound)
	}

	record := raw.(AdaptedReview)
	record.Rating = reviewEntry.Rating
	record.ReviewText = reviewEntry.ReviewText
	//ID, BookID and CreatedAt will not change
	record.UpdatedAt = now()
	if record.UpdatedAt.Before(record.CreatedAt) {
		record.UpdatedAt = record.CreatedAt
	}

	if err := txn.Insert("review", record); err != nil {
		return book.Review{}, fmt.Errorf("updating review on db: %w", err)
	}

	store.commit(txn)
	return adaptReviewIdToUUID(record), nil
}

// -- Transactions --

/*
Opens a write transaction holding the database wide writer lock until it is
committed or rolled back. The returned store runs every call on that
transaction and must not be used after it ends.
*/
func (store *InMemoryStore) BeginTx(ctx context.Context, opts *sql.TxOptions) (book.Repository, driver.Tx, error) {
	if store.txn != nil {
		return nil, nil, fmt.Errorf("nested transactions are not supported")
	}
	txn := store.db.Txn(true)
	if err := ctx.Err(); err != nil {
		txn.Abort()
		return nil, nil, err
	}

	txStore := &InMemoryStore{
		db:  store.db,
		seq: store.seq,
		txn: txn,
	}
	return txStore, &TxWrapper{txn: txn}, nil
}

type TxWrapper struct {
	txn *memdb.Txn
}

func (tx *TxWrapper) Commit() error {
	if tx.txn == nil {
		return fmt.Errorf("transaction already finished")
	}
	tx.txn.Commit()
	tx.txn = nil
	return nil
}

/* Safe to call after Commit or more than once. */
func (tx *TxWrapper) Rollback() error {
	if tx.txn == nil {
		return nil
	}
	tx.txn.Abort()
	tx.txn = nil
	return nil
}
