package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radioreads/internal/catalog"
	"radioreads/internal/models"
	"radioreads/internal/test"
)

type fakeExtractor struct {
	available bool
	result    models.ExtractionResult
	calls     int
}

func (f *fakeExtractor) IsAvailable() bool { return f.available }

func (f *fakeExtractor) Extract(ctx context.Context, text string) models.ExtractionResult {
	f.calls++
	return f.result
}

type fakeVerifier struct {
	results map[string]catalog.Result
	errs    map[string]error
	calls   []string
}

func (f *fakeVerifier) Verify(ctx context.Context, title, author string) (catalog.Result, error) {
	f.calls = append(f.calls, title)
	if err, ok := f.errs[title]; ok {
		return catalog.Result{}, err
	}
	return f.results[title], nil
}

type fakeCoverFetcher struct {
	err   error
	calls int
}

func (f *fakeCoverFetcher) DownloadAndSave(ctx context.Context, slug, coverURL string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return slug + ".jpg", nil
}

var episodeColumns = []string{
	"id", "title", "url", "aired_at", "scraped_data", "status", "last_error",
	"ai_confidence", "extraction_result", "has_book", "task_id", "review_status",
	"status_changed_at", "processed_at", "created_at",
}

func episodeRows(id int, title string, status models.Status, airedAt *time.Time, scrapedData string) *sqlmock.Rows {
	return sqlmock.NewRows(episodeColumns).AddRow(
		id, title, "https://example.org/episodes/1", airedAt, []byte(scrapedData),
		string(status), nil, nil, nil, false, nil, "", time.Now(), nil, time.Now())
}

var bookColumns = []string{
	"id", "slug", "title", "author", "description", "categories", "cover_image",
	"cover_image_local", "cover_fetch_error", "purchase_link", "isbn",
	"google_books_verified", "created_at",
}

func TestProcessEpisode(t *testing.T) {
	_, mock := test.NewMockDB(t)

	extraction := models.ExtractionResult{
		HasBook:    true,
		Confidence: 0.95,
		Books: []models.BookCandidate{{
			Title:       "Fast Food Nation",
			Author:      "Eric Schlosser",
			Description: "An expose of the fast food industry.",
		}},
		Reasoning: "The book is the subject of discussion.",
	}
	extractor := &fakeExtractor{available: true, result: extraction}
	verifier := &fakeVerifier{results: map[string]catalog.Result{
		"Fast Food Nation": {
			Exists:   true,
			Title:    "Fast Food Nation: The Dark Side of the All-American Meal",
			Author:   "Eric Schlosser",
			CoverURL: "http://covers.example/ffn.jpg",
			ISBN:     "9780141006871",
		},
	}}
	covers := &fakeCoverFetcher{}
	processor := NewProcessor(extractor, verifier, covers, "12345")

	scraped := `{"title": "Fast food, slow violence", "description": "Eric Schlosser discusses his book Fast Food Nation.", "date_text": "Radio 4, 24 Nov 2025, 29 mins"}`
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(1).
		WillReturnRows(episodeRows(1, "Start the Week", models.StatusQueued, nil, scraped))
	mock.ExpectExec(`UPDATE episodes\s+SET status = 'PROCESSING'`).WithArgs(1, "task-abc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM episode_books WHERE episode_id = \$1`).WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM books b`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	slug := "eric-schlosser-fast-food-nation-the-dark-side-of-the-all-american-meal"
	bookRows := sqlmock.NewRows(bookColumns).AddRow(
		7, slug, "Fast Food Nation: The Dark Side of the All-American Meal", "Eric Schlosser",
		"An expose of the fast food industry.", "{}", "http://covers.example/ffn.jpg",
		"", "", "", "9780141006871", true, time.Now())
	mock.ExpectQuery(`INSERT INTO books`).
		WithArgs(slug, "Fast Food Nation: The Dark Side of the All-American Meal", "Eric Schlosser",
			"An expose of the fast food industry.", "http://covers.example/ffn.jpg", "9780141006871", true).
		WillReturnRows(bookRows)
	mock.ExpectExec(`INSERT INTO episode_books`).WithArgs(1, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE books SET cover_image_local = \$2`).WithArgs(7, slug+".jpg").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE books SET purchase_link = \$2`).
		WithArgs(7, "https://bookshop.org/a/12345/9780141006871").
		WillReturnResult(sqlmock.NewResult(0, 1))

	airedAt := time.Date(2025, time.November, 24, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE episodes SET aired_at = \$2`).WithArgs(1, airedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	extractionJSON, err := json.Marshal(extraction)
	require.NoError(t, err)
	mock.ExpectExec(`UPDATE episodes\s+SET status = 'PROCESSED'`).
		WithArgs(1, extractionJSON, 0.95, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = processor.ProcessEpisode(context.Background(), 1, "task-abc")

	assert.NoError(t, err)
	assert.Equal(t, 1, extractor.calls)
	assert.Equal(t, []string{"Fast Food Nation"}, verifier.calls)
	assert.Equal(t, 1, covers.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEpisodeRepeatedRunStableBookSet(t *testing.T) {
	_, mock := test.NewMockDB(t)

	extraction := models.ExtractionResult{
		HasBook:    true,
		Confidence: 0.95,
		Books:      []models.BookCandidate{{Title: "Fast Food Nation", Author: "Eric Schlosser"}},
		Reasoning:  "The book is the subject of discussion.",
	}
	extractor := &fakeExtractor{available: true, result: extraction}
	verifier := &fakeVerifier{results: map[string]catalog.Result{
		"Fast Food Nation": {
			Exists:   true,
			Title:    "Fast Food Nation",
			Author:   "Eric Schlosser",
			CoverURL: "http://covers.example/ffn.jpg",
			ISBN:     "9780141006871",
		},
	}}
	processor := NewProcessor(extractor, verifier, &fakeCoverFetcher{}, "")

	extractionJSON, err := json.Marshal(extraction)
	require.NoError(t, err)

	aired := time.Now()
	slug := "eric-schlosser-fast-food-nation"

	// Two identical rounds, the second after a reprocess put the episode
	// back in QUEUED. The second insert resolves through the slug
	// conflict and returns the very same book row, so the book set is
	// replaced with itself instead of growing.
	for round := 0; round < 2; round++ {
		mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(10).
			WillReturnRows(episodeRows(10, "Episode", models.StatusQueued, &aired, "{}"))
		mock.ExpectExec(`UPDATE episodes\s+SET status = 'PROCESSING'`).WithArgs(10, "task-10").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM episode_books WHERE episode_id = \$1`).WithArgs(10).
			WillReturnResult(sqlmock.NewResult(0, int64(round)))
		mock.ExpectExec(`DELETE FROM books b`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		bookRows := sqlmock.NewRows(bookColumns).AddRow(
			13, slug, "Fast Food Nation", "Eric Schlosser", "", "{}",
			"http://covers.example/ffn.jpg", "", "", "", "9780141006871", true, time.Now())
		mock.ExpectQuery(`INSERT INTO books`).
			WithArgs(slug, "Fast Food Nation", "Eric Schlosser", "",
				"http://covers.example/ffn.jpg", "9780141006871", true).
			WillReturnRows(bookRows)
		mock.ExpectExec(`INSERT INTO episode_books`).WithArgs(10, 13).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE books SET cover_image_local = \$2`).WithArgs(13, slug+".jpg").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE books SET purchase_link = \$2`).
			WithArgs(13, "https://bookshop.org/search?keywords=Fast+Food+Nation+Eric+Schlosser").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE episodes\s+SET status = 'PROCESSED'`).
			WithArgs(10, extractionJSON, 0.95, true).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	require.NoError(t, processor.ProcessEpisode(context.Background(), 10, "task-10"))
	require.NoError(t, processor.ProcessEpisode(context.Background(), 10, "task-10"))

	assert.Equal(t, []string{"Fast Food Nation", "Fast Food Nation"}, verifier.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEpisodeNotYetQueued(t *testing.T) {
	_, mock := test.NewMockDB(t)

	extractor := &fakeExtractor{available: true}
	processor := NewProcessor(extractor, &fakeVerifier{}, &fakeCoverFetcher{}, "")

	// A SCRAPED episode has not passed through the enqueue transition
	// yet; the handler leaves it alone instead of attempting a claim.
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(20).
		WillReturnRows(episodeRows(20, "Fresh Episode", models.StatusScraped, nil, "{}"))

	err := processor.ProcessEpisode(context.Background(), 20, "task-early")

	assert.NoError(t, err)
	assert.Equal(t, 0, extractor.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEpisodeAlreadyTerminal(t *testing.T) {
	_, mock := test.NewMockDB(t)

	extractor := &fakeExtractor{available: true}
	processor := NewProcessor(extractor, &fakeVerifier{}, &fakeCoverFetcher{}, "")

	aired := time.Now()
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(2).
		WillReturnRows(episodeRows(2, "Old Episode", models.StatusProcessed, &aired, "{}"))

	err := processor.ProcessEpisode(context.Background(), 2, "task-dup")

	// A repeated delivery for a finished episode is a no-op, never a
	// second extraction charge.
	assert.NoError(t, err)
	assert.Equal(t, 0, extractor.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEpisodeNotClaimable(t *testing.T) {
	_, mock := test.NewMockDB(t)

	extractor := &fakeExtractor{available: true}
	processor := NewProcessor(extractor, &fakeVerifier{}, &fakeCoverFetcher{}, "")

	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(3).
		WillReturnRows(episodeRows(3, "Contested Episode", models.StatusQueued, nil, "{}"))
	mock.ExpectExec(`UPDATE episodes\s+SET status = 'PROCESSING'`).WithArgs(3, "task-late").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := processor.ProcessEpisode(context.Background(), 3, "task-late")

	assert.NoError(t, err)
	assert.Equal(t, 0, extractor.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEpisodeRejectsPlaceholderCandidates(t *testing.T) {
	_, mock := test.NewMockDB(t)

	extraction := models.ExtractionResult{
		HasBook:    true,
		Confidence: 0.7,
		Books: []models.BookCandidate{
			{Title: "Some Memoir", Author: "Unknown"},
			{Title: "N/A", Author: "Jane Doe"},
			{Title: "Real Title", Author: "   "},
		},
		Reasoning: "Mentions without reliable attribution.",
	}
	extractor := &fakeExtractor{available: true, result: extraction}
	verifier := &fakeVerifier{}
	processor := NewProcessor(extractor, verifier, &fakeCoverFetcher{}, "")

	aired := time.Now()
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(4).
		WillReturnRows(episodeRows(4, "Episode", models.StatusQueued, &aired, "{}"))
	mock.ExpectExec(`UPDATE episodes\s+SET status = 'PROCESSING'`).WithArgs(4, "task-4").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM episode_books WHERE episode_id = \$1`).WithArgs(4).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM books b`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	extractionJSON, err := json.Marshal(extraction)
	require.NoError(t, err)
	mock.ExpectExec(`UPDATE episodes\s+SET status = 'PROCESSED'`).
		WithArgs(4, extractionJSON, 0.7, false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = processor.ProcessEpisode(context.Background(), 4, "task-4")

	// None of the candidates reach the catalog, and the episode records
	// no books.
	assert.NoError(t, err)
	assert.Empty(t, verifier.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEpisodeUnverifiedCandidateDropped(t *testing.T) {
	_, mock := test.NewMockDB(t)

	extraction := models.ExtractionResult{
		HasBook:    true,
		Confidence: 0.9,
		Books:      []models.BookCandidate{{Title: "Imaginary Book", Author: "Ghost Writer"}},
		Reasoning:  "Looked like a book discussion.",
	}
	extractor := &fakeExtractor{available: true, result: extraction}
	verifier := &fakeVerifier{results: map[string]catalog.Result{
		"Imaginary Book": {Exists: false},
	}}
	processor := NewProcessor(extractor, verifier, &fakeCoverFetcher{}, "")

	aired := time.Now()
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(5).
		WillReturnRows(episodeRows(5, "Episode", models.StatusQueued, &aired, "{}"))
	mock.ExpectExec(`UPDATE episodes\s+SET status = 'PROCESSING'`).WithArgs(5, "task-5").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM episode_books WHERE episode_id = \$1`).WithArgs(5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM books b`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	extractionJSON, err := json.Marshal(extraction)
	require.NoError(t, err)
	mock.ExpectExec(`UPDATE episodes\s+SET status = 'PROCESSED'`).
		WithArgs(5, extractionJSON, 0.9, false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = processor.ProcessEpisode(context.Background(), 5, "task-5")

	assert.NoError(t, err)
	assert.Equal(t, []string{"Imaginary Book"}, verifier.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEpisodeRateLimitSkipsRemainingCandidates(t *testing.T) {
	_, mock := test.NewMockDB(t)

	extraction := models.ExtractionResult{
		HasBook:    true,
		Confidence: 0.9,
		Books: []models.BookCandidate{
			{Title: "First Book", Author: "Author One"},
			{Title: "Second Book", Author: "Author Two"},
		},
		Reasoning: "Two books discussed.",
	}
	extractor := &fakeExtractor{available: true, result: extraction}
	verifier := &fakeVerifier{errs: map[string]error{
		"First Book": catalog.ErrRateLimited,
	}}
	processor := NewProcessor(extractor, verifier, &fakeCoverFetcher{}, "")

	aired := time.Now()
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(6).
		WillReturnRows(episodeRows(6, "Episode", models.StatusQueued, &aired, "{}"))
	mock.ExpectExec(`UPDATE episodes\s+SET status = 'PROCESSING'`).WithArgs(6, "task-6").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM episode_books WHERE episode_id = \$1`).WithArgs(6).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM books b`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	extractionJSON, err := json.Marshal(extraction)
	require.NoError(t, err)
	mock.ExpectExec(`UPDATE episodes\s+SET status = 'PROCESSED'`).
		WithArgs(6, extractionJSON, 0.9, false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = processor.ProcessEpisode(context.Background(), 6, "task-6")

	// Once the catalog cools down, the second candidate is not burned
	// against a guaranteed failure.
	assert.NoError(t, err)
	assert.Equal(t, []string{"First Book"}, verifier.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEpisodeCoverFailureNotFatal(t *testing.T) {
	_, mock := test.NewMockDB(t)

	extraction := models.ExtractionResult{
		HasBook:    true,
		Confidence: 0.95,
		Books:      []models.BookCandidate{{Title: "Wolf Hall", Author: "Hilary Mantel"}},
		Reasoning:  "Clear book discussion.",
	}
	extractor := &fakeExtractor{available: true, result: extraction}
	verifier := &fakeVerifier{results: map[string]catalog.Result{
		"Wolf Hall": {Exists: true, Title: "Wolf Hall", Author: "Hilary Mantel",
			CoverURL: "http://covers.example/wh.jpg", ISBN: "9780007230181"},
	}}
	covers := &fakeCoverFetcher{err: errors.New("connection reset")}
	processor := NewProcessor(extractor, verifier, covers, "")

	aired := time.Now()
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(7).
		WillReturnRows(episodeRows(7, "Episode", models.StatusQueued, &aired, "{}"))
	mock.ExpectExec(`UPDATE episodes\s+SET status = 'PROCESSING'`).WithArgs(7, "task-7").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM episode_books WHERE episode_id = \$1`).WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM books b`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	bookRows := sqlmock.NewRows(bookColumns).AddRow(
		9, "hilary-mantel-wolf-hall", "Wolf Hall", "Hilary Mantel", "", "{}",
		"http://covers.example/wh.jpg", "", "", "", "9780007230181", true, time.Now())
	mock.ExpectQuery(`INSERT INTO books`).
		WithArgs("hilary-mantel-wolf-hall", "Wolf Hall", "Hilary Mantel", "",
			"http://covers.example/wh.jpg", "9780007230181", true).
		WillReturnRows(bookRows)
	mock.ExpectExec(`INSERT INTO episode_books`).WithArgs(7, 9).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE books SET cover_fetch_error = \$2`).WithArgs(9, "connection reset").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE books SET purchase_link = \$2`).
		WithArgs(9, "https://bookshop.org/search?keywords=Wolf+Hall+Hilary+Mantel").
		WillReturnResult(sqlmock.NewResult(0, 1))

	extractionJSON, err := json.Marshal(extraction)
	require.NoError(t, err)
	mock.ExpectExec(`UPDATE episodes\s+SET status = 'PROCESSED'`).
		WithArgs(7, extractionJSON, 0.95, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = processor.ProcessEpisode(context.Background(), 7, "task-7")

	// The failed download lands on the book record, not on the episode.
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEpisodeExtractorUnavailable(t *testing.T) {
	_, mock := test.NewMockDB(t)

	extractor := &fakeExtractor{available: false}
	verifier := &fakeVerifier{}
	processor := NewProcessor(extractor, verifier, &fakeCoverFetcher{}, "")

	aired := time.Now()
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(8).
		WillReturnRows(episodeRows(8, "Episode", models.StatusQueued, &aired, "{}"))
	mock.ExpectExec(`UPDATE episodes\s+SET status = 'PROCESSING'`).WithArgs(8, "task-8").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM episode_books WHERE episode_id = \$1`).WithArgs(8).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM books b`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	expected := models.ExtractionResult{
		Books:     []models.BookCandidate{},
		Reasoning: "API not configured",
	}
	extractionJSON, err := json.Marshal(expected)
	require.NoError(t, err)
	mock.ExpectExec(`UPDATE episodes\s+SET status = 'PROCESSED'`).
		WithArgs(8, extractionJSON, 0.0, false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = processor.ProcessEpisode(context.Background(), 8, "task-8")

	// No credential means a recorded non-extraction, not a failure loop.
	assert.NoError(t, err)
	assert.Equal(t, 0, extractor.calls)
	assert.Empty(t, verifier.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEpisodeFailureMarksFailed(t *testing.T) {
	_, mock := test.NewMockDB(t)

	extractor := &fakeExtractor{available: true, result: models.ExtractionResult{
		Books:     []models.BookCandidate{},
		Reasoning: "No book discussed.",
	}}
	processor := NewProcessor(extractor, &fakeVerifier{}, &fakeCoverFetcher{}, "")

	aired := time.Now()
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(9).
		WillReturnRows(episodeRows(9, "Episode", models.StatusQueued, &aired, "{}"))
	mock.ExpectExec(`UPDATE episodes\s+SET status = 'PROCESSING'`).WithArgs(9, "task-9").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM episode_books WHERE episode_id = \$1`).WithArgs(9).
		WillReturnError(errors.New("connection refused"))
	mock.ExpectExec(`UPDATE episodes\s+SET status = 'FAILED'`).
		WithArgs(9, "failed to clear book set for episode 9: connection refused").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := processor.ProcessEpisode(context.Background(), 9, "task-9")

	// The fault is recorded on the episode and still surfaced to the
	// task runner.
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
