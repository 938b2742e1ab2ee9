package models

import (
	"time"

	"github.com/lib/pq"
)

// Book is a verified book tied to one or more episodes. Books persisted
// by the pipeline always carry google_books_verified=true and a
// non-empty author; unverifiable or authorless candidates never reach
// the database.
type Book struct {
	ID                  int            `db:"id" json:"id"`
	Slug                string         `db:"slug" json:"slug"`
	Title               string         `db:"title" json:"title"`
	Author              string         `db:"author" json:"author"`
	Description         string         `db:"description" json:"description"`
	Categories          pq.StringArray `db:"categories" json:"categories"`
	CoverImage          string         `db:"cover_image" json:"cover_image"`
	CoverImageLocal     string         `db:"cover_image_local" json:"cover_image_local"`
	CoverFetchError     string         `db:"cover_fetch_error" json:"cover_fetch_error,omitempty"`
	PurchaseLink        string         `db:"purchase_link" json:"purchase_link"`
	ISBN                string         `db:"isbn" json:"isbn"`
	GoogleBooksVerified bool           `db:"google_books_verified" json:"google_books_verified"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
}
