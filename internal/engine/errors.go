package engine

import "errors"

var (
	// ErrGigAssigned is the hire-race loser's error: the gig left the open
	// state before this caller's transition could apply.
	ErrGigAssigned = errors.New("gig already assigned")

	// ErrNotGigOwner rejects hire/edit/delete attempts by anyone but the
	// gig's owner.
	ErrNotGigOwner = errors.New("not the gig owner")

	// ErrOwnBid rejects an owner bidding on their own gig.
	ErrOwnBid = errors.New("cannot bid on your own gig")

	// ErrNoHire means contact details were requested before anyone was
	// hired.
	ErrNoHire = errors.New("no freelancer hired yet")

	// ErrContactForbidden means the requester is neither the owner nor the
	// hired bidder of the gig.
	ErrContactForbidden = errors.New("not a party to this hire")
)
