package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gigboard/internal/domain"
	"gigboard/internal/events"
	"gigboard/internal/repo"
)

// HireResult is the committed outcome of a hire transition. The caller
// runs notification fan-out from it after the transaction is durable.
type HireResult struct {
	Gig      domain.Gig
	Hired    domain.Bid
	Rejected []domain.Bid
}

// Outbound is a notification addressed to one user.
type Outbound struct {
	UserID string
	Note   domain.Notification
}

// Notifications builds the per-user outcome messages for a committed
// hire: one hired message for the winner, one rejected message per loser.
func (r HireResult) Notifications() []Outbound {
	out := make([]Outbound, 0, len(r.Rejected)+1)
	out = append(out, Outbound{
		UserID: r.Hired.BidderID,
		Note: domain.Notification{
			Type:    domain.NotifyHired,
			GigID:   r.Gig.ID,
			Message: fmt.Sprintf("You have been hired for %s", r.Gig.Title),
		},
	})
	for _, b := range r.Rejected {
		out = append(out, Outbound{
			UserID: b.BidderID,
			Note: domain.Notification{
				Type:    domain.NotifyRejected,
				GigID:   r.Gig.ID,
				Message: fmt.Sprintf("Your bid for %s was not selected.", r.Gig.Title),
			},
		})
	}
	return out
}

// Hire accepts one bid on behalf of the gig owner and settles the rest.
//
// Preconditions fail in order with no partial effects: unknown bid, unknown
// gig, gig no longer open, requester not the owner. The state change itself
// is a single transaction: the conditional gig update is the race guard,
// then the winning bid goes hired and every still-pending sibling goes
// rejected. Nothing here dispatches notifications; the caller does that
// after commit.
func (e Engine) Hire(ctx context.Context, bidID, actorID string) (HireResult, error) {
	bid, err := e.Repo.GetBid(ctx, bidID)
	if err != nil {
		return HireResult{}, err
	}
	gig, err := e.Repo.GetGig(ctx, bid.GigID)
	if err != nil {
		return HireResult{}, err
	}
	if gig.Status != domain.GigOpen {
		return HireResult{}, ErrGigAssigned
	}
	if gig.OwnerID != actorID {
		return HireResult{}, ErrNotGigOwner
	}

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return HireResult{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.AssignGig(ctx, tx, gig.ID, now)
	if err != nil {
		return HireResult{}, err
	}
	if !ok {
		// Another hire committed between our read and this write.
		return HireResult{}, ErrGigAssigned
	}
	if err := e.Repo.MarkBidHired(ctx, tx, bid.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return HireResult{}, ErrGigAssigned
		}
		return HireResult{}, err
	}
	losers, err := e.Repo.RejectOtherPendingBids(ctx, tx, gig.ID, bid.ID)
	if err != nil {
		return HireResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "gig.hired", "gig", gig.ID, actorID, events.EventPayload{
		"bid_id":    bid.ID,
		"bidder_id": bid.BidderID,
		"rejected":  len(losers),
	}); err != nil {
		return HireResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return HireResult{}, err
	}

	gig.Status = domain.GigAssigned
	gig.UpdatedAt = now
	bid.Status = domain.BidHired
	return HireResult{Gig: gig, Hired: bid, Rejected: losers}, nil
}

// Contact reveals counterparty details for a completed hire, first match
// wins: the owner sees the hired bidder, the hired bidder sees the owner,
// everyone else is refused.
func (e Engine) Contact(ctx context.Context, gigID, actorID string) (domain.Contact, error) {
	gig, err := e.Repo.GetGig(ctx, gigID)
	if err != nil {
		return domain.Contact{}, err
	}

	if gig.OwnerID == actorID {
		hired, err := e.Repo.HiredBid(ctx, gigID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Contact{}, ErrNoHire
			}
			return domain.Contact{}, err
		}
		bidder, err := e.Repo.GetUser(ctx, hired.BidderID)
		if err != nil {
			return domain.Contact{}, err
		}
		return domain.Contact{
			Role:         "owner",
			ContactName:  bidder.Name,
			ContactEmail: bidder.Email,
			HiredPrice:   hired.Price,
		}, nil
	}

	mine, err := e.Repo.HiredBidBy(ctx, gigID, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Contact{}, ErrContactForbidden
		}
		return domain.Contact{}, err
	}
	owner, err := e.Repo.GetUser(ctx, gig.OwnerID)
	if err != nil {
		return domain.Contact{}, err
	}
	return domain.Contact{
		Role:         "freelancer",
		ContactName:  owner.Name,
		ContactEmail: owner.Email,
		HiredPrice:   mine.Price,
	}, nil
}
