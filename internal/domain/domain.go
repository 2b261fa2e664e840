package domain

// Gig status values. A gig only ever moves open -> assigned.
const (
	GigOpen     = "open"
	GigAssigned = "assigned"
)

// Bid status values. Only the hire transition moves a bid out of pending.
const (
	BidPending  = "pending"
	BidHired    = "hired"
	BidRejected = "rejected"
)

// Notification types delivered over the realtime channel.
const (
	NotifyHired    = "hired"
	NotifyRejected = "rejected"
)

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Gig struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	MinBudget   int64    `json:"min_budget"`
	MaxBudget   int64    `json:"max_budget"`
	OwnerID     string   `json:"owner_id"`
	Status      string   `json:"status" enum:"open,assigned"`
	Tags        []string `json:"tags,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type Bid struct {
	ID        string `json:"id"`
	GigID     string `json:"gig_id"`
	BidderID  string `json:"bidder_id"`
	Price     int64  `json:"price"`
	Message   string `json:"message,omitempty"`
	Status    string `json:"status" enum:"pending,hired,rejected"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// GigBid is a bid joined with its bidder's display name, as shown to the
// gig owner when reviewing proposals.
type GigBid struct {
	Bid
	BidderName string `json:"bidder_name"`
}

// Contact is the counterparty disclosure returned after a completed hire.
// Role says which side of the hire the requester is on.
type Contact struct {
	Role         string `json:"role" enum:"owner,freelancer"`
	ContactName  string `json:"contact_name"`
	ContactEmail string `json:"contact_email"`
	HiredPrice   int64  `json:"hired_price"`
}

// Notification is delivered to a user's live channels and never stored.
type Notification struct {
	Type    string `json:"type" enum:"hired,rejected"`
	GigID   string `json:"gig_id"`
	Message string `json:"message"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
