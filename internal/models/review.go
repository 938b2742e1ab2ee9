package models

// ReviewStatus flags episodes whose extraction needs a human look.
type ReviewStatus string

const (
	ReviewNone        ReviewStatus = ""
	ReviewRequired    ReviewStatus = "REQUIRED"
	ReviewNotRequired ReviewStatus = "NOT_REQUIRED"
	ReviewReviewed    ReviewStatus = "REVIEWED"
)

// Extractions below this confidence always get flagged for review.
const reviewConfidenceThreshold = 0.9

// DeriveReviewStatus recomputes an episode's review status from its
// confidence and the verification state of its books. A human REVIEWED
// mark is never overwritten.
func DeriveReviewStatus(e *Episode, books []Book) ReviewStatus {
	if e.ReviewStatus == ReviewReviewed {
		return ReviewReviewed
	}
	if e.AIConfidence == nil {
		return ReviewNone
	}
	if *e.AIConfidence < reviewConfidenceThreshold {
		return ReviewRequired
	}
	for _, b := range books {
		if !b.GoogleBooksVerified {
			return ReviewRequired
		}
	}
	return ReviewNotRequired
}
