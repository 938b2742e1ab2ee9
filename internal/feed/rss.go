package feed

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/eduncan911/podcast"

	"radioreads/internal/models"
)

func getBaseURL(r *http.Request) string {
	if baseURL := os.Getenv("BASE_URL"); baseURL != "" {
		return baseURL
	}

	scheme := r.URL.Scheme
	if scheme == "" {
		scheme = "https"
		if r.Header.Get("X-Forwarded-Proto") != "" {
			scheme = r.Header.Get("X-Forwarded-Proto")
		}
	}

	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

// GenerateBooksRSS renders the recently verified books as an RSS feed.
func GenerateBooksRSS(books []models.Book, r *http.Request) (string, error) {
	baseURL := getBaseURL(r)

	p := podcast.New(
		"Radio Reads",
		baseURL+"/rss",
		"Books discussed on radio and podcast episodes, verified against Google Books.",
		&time.Time{}, &time.Time{},
	)

	for _, book := range books {
		description := book.Description
		if description == "" {
			description = fmt.Sprintf("%s by %s", book.Title, book.Author)
		}
		link := book.PurchaseLink
		if link == "" {
			link = fmt.Sprintf("%s/api/books?slug=%s", baseURL, book.Slug)
		}

		pubDate := book.CreatedAt
		item := podcast.Item{
			Title:       fmt.Sprintf("%s by %s", book.Title, book.Author),
			Description: description,
			Link:        link,
			PubDate:     &pubDate,
		}
		if book.CoverImageLocal != "" {
			item.AddImage(fmt.Sprintf("%s/covers/%s", baseURL, book.CoverImageLocal))
		}
		if _, err := p.AddItem(item); err != nil {
			return "", err
		}
	}

	return p.String(), nil
}
