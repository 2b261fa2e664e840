package server

type CreateGigRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	MinBudget   int64    `json:"min_budget,omitempty"`
	MaxBudget   int64    `json:"max_budget,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type UpdateGigRequest struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	MinBudget   *int64   `json:"min_budget,omitempty"`
	MaxBudget   *int64   `json:"max_budget,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type PlaceBidRequest struct {
	Price   int64  `json:"price"`
	Message string `json:"message,omitempty"`
}

// HireResponse acknowledges a committed hire. Callers re-query the gig
// and bids for fresh state.
type HireResponse struct {
	GigID    string `json:"gig_id"`
	BidID    string `json:"bid_id"`
	Rejected int    `json:"rejected"`
}

type DevLoginRequest struct {
	Email string `json:"email"`
}

type DevLoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}
