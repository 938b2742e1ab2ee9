// Package pipeline drives episodes through the extraction state
// machine: SCRAPED -> QUEUED -> PROCESSING -> PROCESSED or FAILED.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gosimple/slug"

	"radioreads/internal/catalog"
	"radioreads/internal/db"
	"radioreads/internal/links"
	"radioreads/internal/models"
)

// Placeholder values the model occasionally emits despite the prompt.
// A candidate carrying one for its title or author is dropped outright;
// authorless candidates are never persisted.
var placeholderValues = map[string]struct{}{
	"N/A":     {},
	"NA":      {},
	"UNKNOWN": {},
	"TBD":     {},
	"TBA":     {},
	"NONE":    {},
	"VARIOUS": {},
}

func isPlaceholder(s string) bool {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return true
	}
	_, ok := placeholderValues[s]
	return ok
}

// Extractor produces a structured extraction for one episode's text.
type Extractor interface {
	IsAvailable() bool
	Extract(ctx context.Context, text string) models.ExtractionResult
}

// Verifier checks a candidate against the bibliographic catalog.
type Verifier interface {
	Verify(ctx context.Context, title, author string) (catalog.Result, error)
}

// CoverFetcher downloads and stores a cover image, returning the stored
// filename.
type CoverFetcher interface {
	DownloadAndSave(ctx context.Context, slug, coverURL string) (string, error)
}

// Processor is the pipeline orchestrator. All collaborators are
// injected so tests can swap them without touching globals.
type Processor struct {
	extractor   Extractor
	verifier    Verifier
	covers      CoverFetcher
	affiliateID string
}

func NewProcessor(extractor Extractor, verifier Verifier, covers CoverFetcher, affiliateID string) *Processor {
	return &Processor{
		extractor:   extractor,
		verifier:    verifier,
		covers:      covers,
		affiliateID: affiliateID,
	}
}

// ProcessEpisode runs the full extraction pipeline for one episode.
// The claim is idempotent: an episode whose status cannot move to
// PROCESSING, or one another task claimed first, is skipped without
// re-running extraction or re-charging API cost. Unexpected faults mark
// the episode FAILED and are returned to the task runner, whose own
// failure accounting must see them.
func (p *Processor) ProcessEpisode(ctx context.Context, episodeID int, taskID string) error {
	episode, err := db.GetEpisodeByID(episodeID)
	if err != nil {
		return fmt.Errorf("failed to get episode %d: %w", episodeID, err)
	}

	if !episode.Status.CanTransition(models.StatusProcessing) {
		log.Printf("pipeline: episode %d in %s cannot start processing, nothing to do", episodeID, episode.Status)
		return nil
	}

	claimed, err := db.ClaimEpisode(episodeID, taskID)
	if err != nil {
		return fmt.Errorf("failed to claim episode %d: %w", episodeID, err)
	}
	if !claimed {
		log.Printf("pipeline: episode %d not claimable (status %s), skipping", episodeID, episode.Status)
		return nil
	}

	if err := p.extract(ctx, &episode); err != nil {
		if markErr := db.MarkEpisodeFailed(episodeID, err.Error()); markErr != nil {
			log.Printf("pipeline: failed to mark episode %d failed: %v", episodeID, markErr)
		}
		return err
	}
	return nil
}

func (p *Processor) extract(ctx context.Context, episode *models.Episode) error {
	var result models.ExtractionResult
	if !p.extractor.IsAvailable() {
		log.Printf("pipeline: AI extraction not configured, episode %d recorded without books", episode.ID)
		result = models.ExtractionResult{
			Books:     []models.BookCandidate{},
			Reasoning: "API not configured",
		}
	} else {
		result = p.extractor.Extract(ctx, episode.AnalysisText())
	}

	// Extraction is authoritative-replace, never additive: the previous
	// book set goes away before candidates are considered.
	if err := db.DeleteEpisodeBooks(episode.ID); err != nil {
		return fmt.Errorf("failed to clear book set for episode %d: %w", episode.ID, err)
	}

	accepted := 0
	verifierDown := false
	for _, candidate := range result.Books {
		if isPlaceholder(candidate.Title) {
			log.Printf("pipeline: dropping candidate with placeholder title %q", candidate.Title)
			continue
		}
		if isPlaceholder(candidate.Author) {
			log.Printf("pipeline: dropping authorless candidate %q (author %q)", candidate.Title, candidate.Author)
			continue
		}
		if verifierDown {
			log.Printf("pipeline: catalog cooling down, skipping candidate %q", candidate.Title)
			continue
		}

		verified, err := p.verifier.Verify(ctx, strings.TrimSpace(candidate.Title), strings.TrimSpace(candidate.Author))
		if errors.Is(err, catalog.ErrRateLimited) {
			// The cooldown makes every further call a guaranteed
			// failure; stop burning candidates against it.
			log.Printf("pipeline: catalog rate limited, skipping verification for remaining candidates")
			verifierDown = true
			continue
		}
		if err != nil {
			log.Printf("pipeline: verification failed for %q: %v", candidate.Title, err)
			continue
		}
		if !verified.Exists {
			log.Printf("pipeline: candidate %q by %q not found in catalog, dropped", candidate.Title, candidate.Author)
			continue
		}

		if err := p.persistBook(ctx, episode.ID, candidate, verified); err != nil {
			return err
		}
		accepted++
	}

	// Backfill the airing date from scraped text while we have the
	// episode in hand. Unparseable text is left alone, not an error.
	if episode.AiredAt == nil {
		var sd models.ScrapedData
		if len(episode.ScrapedData) > 0 && json.Unmarshal(episode.ScrapedData, &sd) == nil {
			if parsed := ParseAiredDate(sd.DateText); parsed != nil {
				if err := db.UpdateEpisodeAiredAt(episode.ID, *parsed); err != nil {
					return fmt.Errorf("failed to set aired_at for episode %d: %w", episode.ID, err)
				}
				log.Printf("pipeline: parsed aired date for episode %d: %s", episode.ID, parsed.Format("2006-01-02"))
			}
		}
	}

	extraction, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal extraction result: %w", err)
	}
	if err := db.MarkEpisodeProcessed(episode.ID, extraction, result.Confidence, accepted > 0); err != nil {
		return fmt.Errorf("failed to mark episode %d processed: %w", episode.ID, err)
	}

	log.Printf("pipeline: episode %d processed, accepted %d of %d candidates", episode.ID, accepted, len(result.Books))
	return nil
}

// persistBook saves one accepted candidate using the catalog's
// canonical values, falling back to the AI's only where the catalog
// omitted them. Cover download and purchase link are best-effort: their
// failures land on the book record, never on the episode.
func (p *Processor) persistBook(ctx context.Context, episodeID int, candidate models.BookCandidate, verified catalog.Result) error {
	title := verified.Title
	if title == "" {
		title = strings.TrimSpace(candidate.Title)
	}
	author := verified.Author
	if author == "" {
		author = strings.TrimSpace(candidate.Author)
	}

	book := models.Book{
		Slug:                slug.Make(author + " " + title),
		Title:               title,
		Author:              author,
		Description:         strings.TrimSpace(candidate.Description),
		CoverImage:          verified.CoverURL,
		ISBN:                verified.ISBN,
		GoogleBooksVerified: true,
	}
	saved, err := db.UpsertBook(book)
	if err != nil {
		return fmt.Errorf("failed to save book %q: %w", title, err)
	}
	if err := db.LinkEpisodeBook(episodeID, saved.ID); err != nil {
		return fmt.Errorf("failed to link book %q to episode %d: %w", title, episodeID, err)
	}

	if verified.CoverURL != "" {
		if local, err := p.covers.DownloadAndSave(ctx, saved.Slug, verified.CoverURL); err != nil {
			log.Printf("pipeline: cover fetch failed for %q: %v", title, err)
			if dbErr := db.UpdateBookCoverError(saved.ID, err.Error()); dbErr != nil {
				log.Printf("pipeline: failed to record cover error for %q: %v", title, dbErr)
			}
		} else if dbErr := db.UpdateBookCover(saved.ID, local); dbErr != nil {
			log.Printf("pipeline: failed to record cover for %q: %v", title, dbErr)
		}
	}

	link := links.BookshopURL(title, author, verified.ISBN, p.affiliateID)
	if dbErr := db.UpdateBookPurchaseLink(saved.ID, link); dbErr != nil {
		log.Printf("pipeline: failed to record purchase link for %q: %v", title, dbErr)
	}

	log.Printf("pipeline: accepted %q by %q", title, author)
	return nil
}
