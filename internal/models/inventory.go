package models

// AvailabilityItem is a (product, quantity) pair sent to the inventory service.
type AvailabilityItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// AvailabilityResult is the answer of an availability check: either every
// item can be fulfilled, or Reasons says why some cannot.
type AvailabilityResult struct {
	Available bool              `json:"available"`
	Reasons   map[string]string `json:"reasons,omitempty"`
}

// Available returns a positive availability result.
func Available() AvailabilityResult {
	return AvailabilityResult{Available: true}
}

// Unavailable returns a negative result carrying per-product reasons.
func Unavailable(reasons map[string]string) AvailabilityResult {
	return AvailabilityResult{Available: false, Reasons: reasons}
}

// Outcome names what happened to a placement attempt.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// PlacementResult is returned by the placement workflow. Order is nil only
// when nothing could be persisted.
type PlacementResult struct {
	Order     *Order  `json:"order,omitempty"`
	Outcome   Outcome `json:"outcome"`
	Retryable bool    `json:"retryable,omitempty"`
	Replayed  bool    `json:"replayed,omitempty"`
}
