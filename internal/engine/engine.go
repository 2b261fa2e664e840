package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gigboard/internal/config"
	"gigboard/internal/domain"
	"gigboard/internal/events"
	"gigboard/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CreateUser registers an identity record. Contact disclosure reads the
// name and email back out after a hire.
func (e Engine) CreateUser(ctx context.Context, name, email string) (domain.User, error) {
	if name == "" {
		return domain.User{}, errors.New("name is required")
	}
	if email == "" {
		return domain.User{}, errors.New("email is required")
	}
	u := domain.User{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if existing, err := e.Repo.GetUserByEmail(ctx, email); err == nil {
		return existing, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// GigCreateOptions are parameters for posting a gig.
type GigCreateOptions struct {
	Title       string
	Description string
	MinBudget   int64
	MaxBudget   int64
	Tags        []string
	ActorID     string
}

func (e Engine) CreateGig(ctx context.Context, opts GigCreateOptions) (domain.Gig, error) {
	if e.Config == nil {
		return domain.Gig{}, errors.New("config not loaded")
	}
	if opts.Title == "" {
		return domain.Gig{}, errors.New("title is required")
	}
	if len(opts.Title) > e.Config.Limits.MaxTitleLen {
		return domain.Gig{}, fmt.Errorf("title exceeds %d characters", e.Config.Limits.MaxTitleLen)
	}
	if opts.MinBudget < 0 || opts.MaxBudget < 0 {
		return domain.Gig{}, errors.New("budgets must not be negative")
	}
	if opts.MinBudget > opts.MaxBudget {
		return domain.Gig{}, errors.New("min_budget must not exceed max_budget")
	}
	if len(opts.Tags) > e.Config.Limits.MaxTags {
		return domain.Gig{}, fmt.Errorf("at most %d tags allowed", e.Config.Limits.MaxTags)
	}
	if opts.ActorID == "" {
		return domain.Gig{}, errors.New("actor is required")
	}
	if _, err := e.Repo.GetUser(ctx, opts.ActorID); err != nil {
		return domain.Gig{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	g := domain.Gig{
		ID:          uuid.New().String(),
		Title:       opts.Title,
		Description: opts.Description,
		MinBudget:   opts.MinBudget,
		MaxBudget:   opts.MaxBudget,
		OwnerID:     opts.ActorID,
		Status:      domain.GigOpen,
		Tags:        opts.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Gig{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertGig(ctx, tx, g); err != nil {
		return domain.Gig{}, err
	}
	if err := e.Events.Append(ctx, tx, "gig.created", "gig", g.ID, opts.ActorID, events.EventPayload{"title": g.Title}); err != nil {
		return domain.Gig{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Gig{}, err
	}
	return g, nil
}

// GigUpdateOptions carries owner edits. Nil pointer fields are untouched.
// Status is not editable here; only Hire moves it.
type GigUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	MinBudget   *int64
	MaxBudget   *int64
	Tags        []string
	TagsSet     bool
	ActorID     string
}

func (e Engine) UpdateGig(ctx context.Context, opts GigUpdateOptions) (domain.Gig, error) {
	if e.Config == nil {
		return domain.Gig{}, errors.New("config not loaded")
	}
	g, err := e.Repo.GetGig(ctx, opts.ID)
	if err != nil {
		return g, err
	}
	if g.OwnerID != opts.ActorID {
		return g, ErrNotGigOwner
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return g, errors.New("title is required")
		}
		if len(*opts.Title) > e.Config.Limits.MaxTitleLen {
			return g, fmt.Errorf("title exceeds %d characters", e.Config.Limits.MaxTitleLen)
		}
		g.Title = *opts.Title
	}
	if opts.Description != nil {
		g.Description = *opts.Description
	}
	if opts.MinBudget != nil {
		g.MinBudget = *opts.MinBudget
	}
	if opts.MaxBudget != nil {
		g.MaxBudget = *opts.MaxBudget
	}
	if g.MinBudget < 0 || g.MaxBudget < 0 || g.MinBudget > g.MaxBudget {
		return g, errors.New("invalid budget range")
	}
	if opts.TagsSet {
		if len(opts.Tags) > e.Config.Limits.MaxTags {
			return g, fmt.Errorf("at most %d tags allowed", e.Config.Limits.MaxTags)
		}
		g.Tags = opts.Tags
	}
	g.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return g, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateGigFields(ctx, tx, g); err != nil {
		return g, err
	}
	if err := e.Events.Append(ctx, tx, "gig.updated", "gig", g.ID, opts.ActorID, events.EventPayload{"title": g.Title}); err != nil {
		return g, err
	}
	if err := tx.Commit(); err != nil {
		return g, err
	}
	return g, nil
}

// DeleteGig removes an open gig and its bids. Deleting an assigned gig is
// refused so a completed hire keeps its contact-disclosure trail.
func (e Engine) DeleteGig(ctx context.Context, gigID, actorID string) error {
	g, err := e.Repo.GetGig(ctx, gigID)
	if err != nil {
		return err
	}
	if g.OwnerID != actorID {
		return ErrNotGigOwner
	}
	if g.Status == domain.GigAssigned {
		return ErrGigAssigned
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Repo.DeleteGig(ctx, tx, gigID)
	if err != nil {
		return err
	}
	if !ok {
		// A hire committed between our read and this delete.
		tx.Rollback()
		if _, err := e.Repo.GetGig(ctx, gigID); errors.Is(err, repo.ErrNotFound) {
			return err
		}
		return ErrGigAssigned
	}
	if err := e.Events.Append(ctx, tx, "gig.deleted", "gig", gigID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// BidCreateOptions are parameters for proposing on a gig.
type BidCreateOptions struct {
	GigID   string
	Price   int64
	Message string
	ActorID string
}

func (e Engine) PlaceBid(ctx context.Context, opts BidCreateOptions) (domain.Bid, error) {
	if e.Config == nil {
		return domain.Bid{}, errors.New("config not loaded")
	}
	if opts.Price <= 0 {
		return domain.Bid{}, errors.New("price must be positive")
	}
	if len(opts.Message) > e.Config.Limits.MaxMessageLen {
		return domain.Bid{}, fmt.Errorf("message exceeds %d characters", e.Config.Limits.MaxMessageLen)
	}
	if _, err := e.Repo.GetUser(ctx, opts.ActorID); err != nil {
		return domain.Bid{}, err
	}
	g, err := e.Repo.GetGig(ctx, opts.GigID)
	if err != nil {
		return domain.Bid{}, err
	}
	if g.Status != domain.GigOpen {
		return domain.Bid{}, ErrGigAssigned
	}
	if g.OwnerID == opts.ActorID {
		return domain.Bid{}, ErrOwnBid
	}
	b := domain.Bid{
		ID:        uuid.New().String(),
		GigID:     opts.GigID,
		BidderID:  opts.ActorID,
		Price:     opts.Price,
		Message:   opts.Message,
		Status:    domain.BidPending,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.InsertBid(ctx, tx, b)
	if err != nil {
		return domain.Bid{}, err
	}
	if !ok {
		return domain.Bid{}, ErrGigAssigned
	}
	if err := e.Events.Append(ctx, tx, "bid.placed", "bid", b.ID, opts.ActorID, events.EventPayload{"gig_id": b.GigID, "price": b.Price}); err != nil {
		return domain.Bid{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bid{}, err
	}
	return b, nil
}

// GigBids lists proposals on a gig for its owner.
func (e Engine) GigBids(ctx context.Context, gigID, actorID string) ([]domain.GigBid, error) {
	g, err := e.Repo.GetGig(ctx, gigID)
	if err != nil {
		return nil, err
	}
	if g.OwnerID != actorID {
		return nil, ErrNotGigOwner
	}
	return e.Repo.ListGigBids(ctx, gigID)
}
