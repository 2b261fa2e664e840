package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"gigboard/internal/domain"
)

func (r Repo) InsertGig(ctx context.Context, tx *sql.Tx, g domain.Gig) error {
	tags, err := marshalTags(g.Tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO gigs(id,title,description,min_budget,max_budget,owner_id,status,tags_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.Title, nullable(g.Description), g.MinBudget, g.MaxBudget, g.OwnerID, g.Status, tags, g.CreatedAt, g.UpdatedAt)
	return err
}

func (r Repo) GetGig(ctx context.Context, id string) (domain.Gig, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,title,COALESCE(description,''),min_budget,max_budget,owner_id,status,COALESCE(tags_json,''),created_at,updated_at
FROM gigs WHERE id=?`, id)
	return scanGig(row)
}

func scanGig(row *sql.Row) (domain.Gig, error) {
	var g domain.Gig
	var tags string
	err := row.Scan(&g.ID, &g.Title, &g.Description, &g.MinBudget, &g.MaxBudget, &g.OwnerID, &g.Status, &tags, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	g.Tags = unmarshalTags(tags)
	return g, nil
}

// UpdateGigFields rewrites the owner-editable fields. Status is deliberately
// not part of this statement; only AssignGig moves it.
func (r Repo) UpdateGigFields(ctx context.Context, tx *sql.Tx, g domain.Gig) error {
	tags, err := marshalTags(g.Tags)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE gigs SET title=?,description=?,min_budget=?,max_budget=?,tags_json=?,updated_at=? WHERE id=?`,
		g.Title, nullable(g.Description), g.MinBudget, g.MaxBudget, tags, g.UpdatedAt, g.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignGig is the hire transition's concurrency guard: a conditional
// update that only succeeds while the gig is still open. The second of two
// racing hires sees zero affected rows.
func (r Repo) AssignGig(ctx context.Context, tx *sql.Tx, gigID, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE gigs SET status=?, updated_at=? WHERE id=? AND status=?`,
		domain.GigAssigned, updatedAt, gigID, domain.GigOpen)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteGig removes a gig and its bids while the gig is still open. Like
// AssignGig, the status condition guards against a hire landing between
// the caller's read and this delete: an assigned gig is never erased, and
// zero affected rows tells the caller to re-check.
func (r Repo) DeleteGig(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM bids WHERE gig_id=?`, id); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM gigs WHERE id=? AND status=?`, id, domain.GigOpen)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func marshalTags(tags []string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}
