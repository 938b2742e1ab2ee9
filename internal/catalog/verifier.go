// Package catalog verifies book candidates against the Google Books
// volumes API.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited signals that the catalog API throttled us and the
// verifier is in cooldown. Callers must not read it as "book doesn't
// exist".
var ErrRateLimited = errors.New("catalog API rate limited")

const (
	defaultBaseURL  = "https://www.googleapis.com/books/v1"
	defaultCooldown = 12 * time.Hour
	requestTimeout  = 15 * time.Second
	maxCandidates   = 5
)

// Result is the catalog's verdict on a candidate.
type Result struct {
	Exists   bool
	Title    string
	Author   string
	CoverURL string
	ISBN     string
}

// Verifier looks up candidates and owns the outbound throttle state:
// a minimum interval between requests, and a cooldown entered after a
// 429 during which every call fails fast without touching the network.
// Both live for the life of the Verifier, which should be shared by all
// workers in a process.
type Verifier struct {
	apiKey     string
	baseURL    string
	cooldown   time.Duration
	limiter    *rate.Limiter
	httpClient *http.Client

	mu            sync.Mutex
	cooldownUntil time.Time
}

// NewVerifier builds a verifier. A nil limiter gets the default
// one-request-per-second throttle; tests and multi-process deployments
// can inject their own.
func NewVerifier(apiKey string, limiter *rate.Limiter) *Verifier {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(time.Second), 1)
	}
	return &Verifier{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		cooldown:   defaultCooldown,
		limiter:    limiter,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

func NewVerifierFromEnv() *Verifier {
	return NewVerifier(os.Getenv("GOOGLE_BOOKS_API_KEY"), nil)
}

type volumeInfo struct {
	Title               string     `json:"title"`
	Authors             []string   `json:"authors"`
	ImageLinks          imageLinks `json:"imageLinks"`
	IndustryIdentifiers []struct {
		Type       string `json:"type"`
		Identifier string `json:"identifier"`
	} `json:"industryIdentifiers"`
}

type volume struct {
	ID         string     `json:"id"`
	VolumeInfo volumeInfo `json:"volumeInfo"`
}

type searchResponse struct {
	Items []volume `json:"items"`
}

type imageLinks struct {
	Large          string `json:"large"`
	Medium         string `json:"medium"`
	Small          string `json:"small"`
	Thumbnail      string `json:"thumbnail"`
	SmallThumbnail string `json:"smallThumbnail"`
}

// best returns the highest-ranked image URL and its rank. Larger images
// outrank smaller ones: large > medium > small > thumbnail > smallThumbnail.
func (l imageLinks) best() (string, int) {
	ranked := []string{l.Large, l.Medium, l.Small, l.Thumbnail, l.SmallThumbnail}
	for i, u := range ranked {
		if u != "" {
			return u, len(ranked) - i
		}
	}
	return "", 0
}

// Verify looks up (title, author) and returns the canonical metadata.
// A catalog miss is Exists=false with a nil error; a genuine request
// failure is Exists=false with the error attached; a 429 trips the
// cooldown and surfaces as ErrRateLimited.
func (v *Verifier) Verify(ctx context.Context, title, author string) (Result, error) {
	if v.coolingDown() {
		return Result{}, ErrRateLimited
	}

	q := fmt.Sprintf("intitle:%q", title)
	if author != "" {
		q += fmt.Sprintf(" inauthor:%q", author)
	}
	params := url.Values{}
	params.Set("q", q)
	params.Set("maxResults", fmt.Sprintf("%d", maxCandidates))
	if v.apiKey != "" {
		params.Set("key", v.apiKey)
	}

	var search searchResponse
	if err := v.getJSON(ctx, v.baseURL+"/volumes?"+params.Encode(), &search); err != nil {
		if errors.Is(err, ErrRateLimited) {
			return Result{}, ErrRateLimited
		}
		return Result{}, fmt.Errorf("catalog search failed: %w", err)
	}
	if len(search.Items) == 0 {
		return Result{Exists: false}, nil
	}

	top := search.Items[0].VolumeInfo
	result := Result{
		Exists: true,
		Title:  top.Title,
		ISBN:   preferredISBN(top),
	}
	if len(top.Authors) > 0 {
		result.Author = top.Authors[0]
	}
	result.CoverURL = v.bestCover(ctx, search.Items)
	return result, nil
}

// bestCover picks the highest-ranked image across all candidates. With
// a key configured it fetches per-candidate detail records, which carry
// the larger sizes the search response omits; without one it falls back
// to the top search result's thumbnail.
func (v *Verifier) bestCover(ctx context.Context, items []volume) string {
	if v.apiKey == "" {
		return items[0].VolumeInfo.ImageLinks.Thumbnail
	}

	bestURL, bestRank := "", 0
	for _, item := range items {
		var detail volume
		detailURL := v.baseURL + "/volumes/" + item.ID + "?key=" + url.QueryEscape(v.apiKey)
		if err := v.getJSON(ctx, detailURL, &detail); err != nil {
			if errors.Is(err, ErrRateLimited) {
				log.Printf("catalog: rate limited during detail fetch, stopping cover search")
				break
			}
			log.Printf("catalog: detail fetch failed for volume %s: %v", item.ID, err)
			continue
		}
		if u, rank := detail.VolumeInfo.ImageLinks.best(); rank > bestRank {
			bestURL, bestRank = u, rank
		}
	}
	if bestURL == "" {
		return items[0].VolumeInfo.ImageLinks.Thumbnail
	}
	return bestURL
}

// getJSON performs one throttled GET. A 429 response trips the cooldown.
func (v *Verifier) getJSON(ctx context.Context, requestURL string, out interface{}) error {
	if err := v.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		v.tripCooldown()
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (v *Verifier) coolingDown() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return time.Now().Before(v.cooldownUntil)
}

func (v *Verifier) tripCooldown() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cooldownUntil = time.Now().Add(v.cooldown)
	log.Printf("catalog: rate limited, cooling down until %s", v.cooldownUntil.Format(time.RFC3339))
}

// preferredISBN picks ISBN-13 over ISBN-10 when both are present.
func preferredISBN(info volumeInfo) string {
	isbn10 := ""
	for _, id := range info.IndustryIdentifiers {
		switch id.Type {
		case "ISBN_13":
			return id.Identifier
		case "ISBN_10":
			isbn10 = id.Identifier
		}
	}
	return isbn10
}
