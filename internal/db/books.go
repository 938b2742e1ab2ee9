package db

import (
	"radioreads/internal/models"
)

// DeleteEpisodeBooks removes an episode's book associations and any
// books left without episodes. Extraction is authoritative-replace: the
// previous set always goes away before new candidates are considered.
func DeleteEpisodeBooks(episodeID int) error {
	if _, err := DB.Exec("DELETE FROM episode_books WHERE episode_id = $1", episodeID); err != nil {
		return err
	}
	_, err := DB.Exec(`
		DELETE FROM books b
		WHERE NOT EXISTS (SELECT 1 FROM episode_books eb WHERE eb.book_id = b.id)`)
	return err
}

// UpsertBook inserts a verified book or refreshes an existing one with
// the same slug (the same book discussed across episodes). Existing
// non-empty description, cover and ISBN survive an upsert carrying
// empty values.
func UpsertBook(b models.Book) (models.Book, error) {
	book := models.Book{}
	err := DB.Get(&book, `
		INSERT INTO books (slug, title, author, description, cover_image, isbn, google_books_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (slug) DO UPDATE SET
			title = EXCLUDED.title,
			author = EXCLUDED.author,
			description = COALESCE(NULLIF(EXCLUDED.description, ''), books.description),
			cover_image = COALESCE(NULLIF(EXCLUDED.cover_image, ''), books.cover_image),
			isbn = COALESCE(NULLIF(EXCLUDED.isbn, ''), books.isbn),
			google_books_verified = EXCLUDED.google_books_verified
		RETURNING *`,
		b.Slug, b.Title, b.Author, b.Description, b.CoverImage, b.ISBN, b.GoogleBooksVerified)
	return book, err
}

func LinkEpisodeBook(episodeID, bookID int) error {
	_, err := DB.Exec(`
		INSERT INTO episode_books (episode_id, book_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, episodeID, bookID)
	return err
}

func GetBooksByEpisodeID(episodeID int) ([]models.Book, error) {
	var books []models.Book
	err := DB.Select(&books, `
		SELECT b.* FROM books b
		JOIN episode_books eb ON eb.book_id = b.id
		WHERE eb.episode_id = $1
		ORDER BY b.id`, episodeID)
	return books, err
}

func ListBooks(limit, offset int) ([]models.Book, error) {
	var books []models.Book
	err := DB.Select(&books, `
		SELECT * FROM books
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	return books, err
}

func CountBooks() (int, error) {
	var count int
	err := DB.Get(&count, "SELECT COUNT(*) FROM books")
	return count, err
}

func UpdateBookCover(id int, localPath string) error {
	_, err := DB.Exec(
		"UPDATE books SET cover_image_local = $2, cover_fetch_error = '' WHERE id = $1",
		id, localPath)
	return err
}

// UpdateBookCoverError records why a cover download failed. Cover-fetch
// failure is never fatal to the owning episode.
func UpdateBookCoverError(id int, message string) error {
	if len(message) > maxErrorLength {
		message = message[:maxErrorLength]
	}
	_, err := DB.Exec("UPDATE books SET cover_fetch_error = $2 WHERE id = $1", id, message)
	return err
}

func UpdateBookPurchaseLink(id int, link string) error {
	_, err := DB.Exec("UPDATE books SET purchase_link = $2 WHERE id = $1", id, link)
	return err
}
