package repo

import (
	"context"
	"database/sql"

	"gigboard/internal/domain"
)

// InsertBid records a bid only while its gig is still open. Zero affected
// rows means a hire committed after the caller's read; no pending bid can
// land on an assigned gig.
func (r Repo) InsertBid(ctx context.Context, tx *sql.Tx, b domain.Bid) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO bids(id,gig_id,bidder_id,price,message,status,created_at)
SELECT ?,?,?,?,?,?,? WHERE EXISTS (SELECT 1 FROM gigs WHERE id=? AND status=?)`,
		b.ID, b.GigID, b.BidderID, b.Price, nullable(b.Message), b.Status, b.CreatedAt, b.GigID, domain.GigOpen)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) GetBid(ctx context.Context, id string) (domain.Bid, error) {
	var b domain.Bid
	err := r.DB.QueryRowContext(ctx, `SELECT id,gig_id,bidder_id,price,COALESCE(message,''),status,created_at FROM bids WHERE id=?`, id).
		Scan(&b.ID, &b.GigID, &b.BidderID, &b.Price, &b.Message, &b.Status, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

// ListGigBids returns every bid on a gig with the bidder's display name,
// newest first.
func (r Repo) ListGigBids(ctx context.Context, gigID string) ([]domain.GigBid, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT b.id, b.gig_id, b.bidder_id, b.price, COALESCE(b.message,''), b.status, b.created_at, u.name
FROM bids b JOIN users u ON u.id = b.bidder_id
WHERE b.gig_id=? ORDER BY b.created_at DESC, b.id DESC`, gigID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GigBid
	for rows.Next() {
		var b domain.GigBid
		if err := rows.Scan(&b.ID, &b.GigID, &b.BidderID, &b.Price, &b.Message, &b.Status, &b.CreatedAt, &b.BidderName); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) MarkBidHired(ctx context.Context, tx *sql.Tx, bidID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE bids SET status=? WHERE id=? AND status=?`,
		domain.BidHired, bidID, domain.BidPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RejectOtherPendingBids collects and rejects all still-pending sibling
// bids in one transaction step. Bids already in a terminal status stay as
// they are.
func (r Repo) RejectOtherPendingBids(ctx context.Context, tx *sql.Tx, gigID, hiredBidID string) ([]domain.Bid, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,gig_id,bidder_id,price,COALESCE(message,''),status,created_at
FROM bids WHERE gig_id=? AND id<>? AND status=?`, gigID, hiredBidID, domain.BidPending)
	if err != nil {
		return nil, err
	}
	var losers []domain.Bid
	for rows.Next() {
		var b domain.Bid
		if err := rows.Scan(&b.ID, &b.GigID, &b.BidderID, &b.Price, &b.Message, &b.Status, &b.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		losers = append(losers, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `UPDATE bids SET status=? WHERE gig_id=? AND id<>? AND status=?`,
		domain.BidRejected, gigID, hiredBidID, domain.BidPending); err != nil {
		return nil, err
	}
	for i := range losers {
		losers[i].Status = domain.BidRejected
	}
	return losers, nil
}

// HiredBid returns the winning bid for a gig, if any.
func (r Repo) HiredBid(ctx context.Context, gigID string) (domain.Bid, error) {
	var b domain.Bid
	err := r.DB.QueryRowContext(ctx, `SELECT id,gig_id,bidder_id,price,COALESCE(message,''),status,created_at
FROM bids WHERE gig_id=? AND status=?`, gigID, domain.BidHired).
		Scan(&b.ID, &b.GigID, &b.BidderID, &b.Price, &b.Message, &b.Status, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

// HiredBidBy returns the requester's winning bid on a gig, if any.
func (r Repo) HiredBidBy(ctx context.Context, gigID, bidderID string) (domain.Bid, error) {
	var b domain.Bid
	err := r.DB.QueryRowContext(ctx, `SELECT id,gig_id,bidder_id,price,COALESCE(message,''),status,created_at
FROM bids WHERE gig_id=? AND bidder_id=? AND status=?`, gigID, bidderID, domain.BidHired).
		Scan(&b.ID, &b.GigID, &b.BidderID, &b.Price, &b.Message, &b.Status, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}
