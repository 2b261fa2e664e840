package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gigboard/internal/config"
	"gigboard/internal/db"
	"gigboard/internal/domain"
	"gigboard/internal/engine"
	"gigboard/internal/migrate"
	"gigboard/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context

	Owner domain.User
	Alice domain.User
	Bob   domain.User
	Carol domain.User
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	env := testEnv{Engine: eng, Ctx: ctx}
	env.Owner = mustUser(t, eng, "Olive Owner", "olive@example.com")
	env.Alice = mustUser(t, eng, "Alice", "alice@example.com")
	env.Bob = mustUser(t, eng, "Bob", "bob@example.com")
	env.Carol = mustUser(t, eng, "Carol", "carol@example.com")
	return env
}

func mustUser(t *testing.T, e engine.Engine, name, email string) domain.User {
	t.Helper()
	u, err := e.CreateUser(context.Background(), name, email)
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func (env testEnv) mustGig(t *testing.T, title string) domain.Gig {
	t.Helper()
	g, err := env.Engine.CreateGig(env.Ctx, engine.GigCreateOptions{
		Title:     title,
		MinBudget: 100,
		MaxBudget: 500,
		ActorID:   env.Owner.ID,
	})
	if err != nil {
		t.Fatalf("create gig: %v", err)
	}
	return g
}

func (env testEnv) mustBid(t *testing.T, gigID, bidderID string, price int64) domain.Bid {
	t.Helper()
	b, err := env.Engine.PlaceBid(env.Ctx, engine.BidCreateOptions{
		GigID:   gigID,
		Price:   price,
		Message: "pick me",
		ActorID: bidderID,
	})
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}
	return b
}

func TestHireSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	gig := env.mustGig(t, "Build a landing page")
	winner := env.mustBid(t, gig.ID, env.Alice.ID, 300)
	loser1 := env.mustBid(t, gig.ID, env.Bob.ID, 250)
	loser2 := env.mustBid(t, gig.ID, env.Carol.ID, 400)

	res, err := env.Engine.Hire(env.Ctx, winner.ID, env.Owner.ID)
	if err != nil {
		t.Fatalf("hire: %v", err)
	}
	if res.Gig.Status != domain.GigAssigned {
		t.Fatalf("gig status %q, want assigned", res.Gig.Status)
	}
	if res.Hired.ID != winner.ID || res.Hired.Status != domain.BidHired {
		t.Fatalf("hired bid %+v", res.Hired)
	}
	if len(res.Rejected) != 2 {
		t.Fatalf("rejected %d bids, want 2", len(res.Rejected))
	}
	for _, b := range res.Rejected {
		if b.Status != domain.BidRejected {
			t.Fatalf("rejected bid %s has status %q", b.ID, b.Status)
		}
		if b.ID != loser1.ID && b.ID != loser2.ID {
			t.Fatalf("unexpected rejected bid %s", b.ID)
		}
	}

	// stored state matches the result
	g, err := env.Engine.Repo.GetGig(env.Ctx, gig.ID)
	if err != nil || g.Status != domain.GigAssigned {
		t.Fatalf("stored gig: %+v %v", g, err)
	}
	for id, want := range map[string]string{
		winner.ID: domain.BidHired,
		loser1.ID: domain.BidRejected,
		loser2.ID: domain.BidRejected,
	} {
		b, err := env.Engine.Repo.GetBid(env.Ctx, id)
		if err != nil {
			t.Fatalf("get bid: %v", err)
		}
		if b.Status != want {
			t.Fatalf("bid %s status %q, want %q", id, b.Status, want)
		}
	}
}

func TestHireNotifications(t *testing.T) {
	env := newTestEnv(t)
	gig := env.mustGig(t, "Fix my CSS")
	winner := env.mustBid(t, gig.ID, env.Alice.ID, 120)
	env.mustBid(t, gig.ID, env.Bob.ID, 110)

	res, err := env.Engine.Hire(env.Ctx, winner.ID, env.Owner.ID)
	if err != nil {
		t.Fatalf("hire: %v", err)
	}
	notes := res.Notifications()
	if len(notes) != 2 {
		t.Fatalf("got %d notifications, want 2", len(notes))
	}
	byUser := map[string]domain.Notification{}
	for _, o := range notes {
		byUser[o.UserID] = o.Note
	}
	hired, ok := byUser[env.Alice.ID]
	if !ok || hired.Type != domain.NotifyHired {
		t.Fatalf("winner notification: %+v", hired)
	}
	if hired.Message != "You have been hired for Fix my CSS" {
		t.Fatalf("winner message %q", hired.Message)
	}
	rejected, ok := byUser[env.Bob.ID]
	if !ok || rejected.Type != domain.NotifyRejected {
		t.Fatalf("loser notification: %+v", rejected)
	}
	if rejected.Message != "Your bid for Fix my CSS was not selected." {
		t.Fatalf("loser message %q", rejected.Message)
	}
	for _, o := range notes {
		if o.Note.GigID != gig.ID {
			t.Fatalf("notification gig id %q", o.Note.GigID)
		}
	}
}

func TestHireSecondAttemptConflicts(t *testing.T) {
	env := newTestEnv(t)
	gig := env.mustGig(t, "Write docs")
	first := env.mustBid(t, gig.ID, env.Alice.ID, 200)
	second := env.mustBid(t, gig.ID, env.Bob.ID, 180)

	if _, err := env.Engine.Hire(env.Ctx, first.ID, env.Owner.ID); err != nil {
		t.Fatalf("first hire: %v", err)
	}
	_, err := env.Engine.Hire(env.Ctx, second.ID, env.Owner.ID)
	if !errors.Is(err, engine.ErrGigAssigned) {
		t.Fatalf("second hire err %v, want ErrGigAssigned", err)
	}
	// the first winner stands
	b, err := env.Engine.Repo.GetBid(env.Ctx, first.ID)
	if err != nil || b.Status != domain.BidHired {
		t.Fatalf("first bid after retry: %+v %v", b, err)
	}
}

func TestHireConcurrentRace(t *testing.T) {
	env := newTestEnv(t)
	gig := env.mustGig(t, "Race me")
	bids := []domain.Bid{
		env.mustBid(t, gig.ID, env.Alice.ID, 100),
		env.mustBid(t, gig.ID, env.Bob.ID, 110),
		env.mustBid(t, gig.ID, env.Carol.ID, 120),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(bids))
	for i, b := range bids {
		wg.Add(1)
		go func(i int, bidID string) {
			defer wg.Done()
			_, errs[i] = env.Engine.Hire(env.Ctx, bidID, env.Owner.ID)
		}(i, b.ID)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("%d hires succeeded, want exactly 1 (%v)", wins, errs)
	}
	hiredCount := 0
	for _, b := range bids {
		got, err := env.Engine.Repo.GetBid(env.Ctx, b.ID)
		if err != nil {
			t.Fatalf("get bid: %v", err)
		}
		if got.Status == domain.BidHired {
			hiredCount++
		}
	}
	if hiredCount != 1 {
		t.Fatalf("%d bids marked hired, want exactly 1", hiredCount)
	}
	g, err := env.Engine.Repo.GetGig(env.Ctx, gig.ID)
	if err != nil || g.Status != domain.GigAssigned {
		t.Fatalf("gig after race: %+v %v", g, err)
	}
}

func TestHireAuthorization(t *testing.T) {
	env := newTestEnv(t)
	gig := env.mustGig(t, "Guarded gig")
	bid := env.mustBid(t, gig.ID, env.Alice.ID, 150)

	_, err := env.Engine.Hire(env.Ctx, bid.ID, env.Bob.ID)
	if !errors.Is(err, engine.ErrNotGigOwner) {
		t.Fatalf("non-owner hire err %v, want ErrNotGigOwner", err)
	}
	// nothing moved
	g, _ := env.Engine.Repo.GetGig(env.Ctx, gig.ID)
	if g.Status != domain.GigOpen {
		t.Fatalf("gig status %q after denied hire", g.Status)
	}
	b, _ := env.Engine.Repo.GetBid(env.Ctx, bid.ID)
	if b.Status != domain.BidPending {
		t.Fatalf("bid status %q after denied hire", b.Status)
	}
}

func TestHireUnknownBid(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Hire(env.Ctx, "missing", env.Owner.ID)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err %v, want ErrNotFound", err)
	}
}

func TestPlaceBidRules(t *testing.T) {
	env := newTestEnv(t)
	gig := env.mustGig(t, "Bid rules")

	_, err := env.Engine.PlaceBid(env.Ctx, engine.BidCreateOptions{GigID: gig.ID, Price: 100, ActorID: env.Owner.ID})
	if !errors.Is(err, engine.ErrOwnBid) {
		t.Fatalf("self-bid err %v, want ErrOwnBid", err)
	}
	_, err = env.Engine.PlaceBid(env.Ctx, engine.BidCreateOptions{GigID: gig.ID, Price: 0, ActorID: env.Alice.ID})
	if err == nil {
		t.Fatalf("expected error for non-positive price")
	}

	bid := env.mustBid(t, gig.ID, env.Alice.ID, 100)
	if _, err := env.Engine.Hire(env.Ctx, bid.ID, env.Owner.ID); err != nil {
		t.Fatalf("hire: %v", err)
	}
	_, err = env.Engine.PlaceBid(env.Ctx, engine.BidCreateOptions{GigID: gig.ID, Price: 90, ActorID: env.Bob.ID})
	if !errors.Is(err, engine.ErrGigAssigned) {
		t.Fatalf("bid on assigned gig err %v, want ErrGigAssigned", err)
	}
}

func TestContactDisclosure(t *testing.T) {
	env := newTestEnv(t)
	gig := env.mustGig(t, "Contact gate")
	winner := env.mustBid(t, gig.ID, env.Alice.ID, 333)
	env.mustBid(t, gig.ID, env.Bob.ID, 222)

	// before the hire
	_, err := env.Engine.Contact(env.Ctx, gig.ID, env.Owner.ID)
	if !errors.Is(err, engine.ErrNoHire) {
		t.Fatalf("owner pre-hire err %v, want ErrNoHire", err)
	}
	_, err = env.Engine.Contact(env.Ctx, gig.ID, env.Alice.ID)
	if !errors.Is(err, engine.ErrContactForbidden) {
		t.Fatalf("bidder pre-hire err %v, want ErrContactForbidden", err)
	}

	if _, err := env.Engine.Hire(env.Ctx, winner.ID, env.Owner.ID); err != nil {
		t.Fatalf("hire: %v", err)
	}

	ownerView, err := env.Engine.Contact(env.Ctx, gig.ID, env.Owner.ID)
	if err != nil {
		t.Fatalf("owner contact: %v", err)
	}
	if ownerView.Role != "owner" || ownerView.ContactName != env.Alice.Name || ownerView.ContactEmail != env.Alice.Email || ownerView.HiredPrice != 333 {
		t.Fatalf("owner view %+v", ownerView)
	}

	hiredView, err := env.Engine.Contact(env.Ctx, gig.ID, env.Alice.ID)
	if err != nil {
		t.Fatalf("hired contact: %v", err)
	}
	if hiredView.Role != "freelancer" || hiredView.ContactName != env.Owner.Name || hiredView.ContactEmail != env.Owner.Email || hiredView.HiredPrice != 333 {
		t.Fatalf("hired view %+v", hiredView)
	}

	_, err = env.Engine.Contact(env.Ctx, gig.ID, env.Bob.ID)
	if !errors.Is(err, engine.ErrContactForbidden) {
		t.Fatalf("rejected bidder err %v, want ErrContactForbidden", err)
	}
	_, err = env.Engine.Contact(env.Ctx, gig.ID, env.Carol.ID)
	if !errors.Is(err, engine.ErrContactForbidden) {
		t.Fatalf("stranger err %v, want ErrContactForbidden", err)
	}
}

func TestDeleteGigRules(t *testing.T) {
	env := newTestEnv(t)
	gig := env.mustGig(t, "Deletable")
	bid := env.mustBid(t, gig.ID, env.Alice.ID, 50)

	if err := env.Engine.DeleteGig(env.Ctx, gig.ID, env.Alice.ID); !errors.Is(err, engine.ErrNotGigOwner) {
		t.Fatalf("non-owner delete err %v", err)
	}

	assigned := env.mustGig(t, "Keep me")
	keep := env.mustBid(t, assigned.ID, env.Bob.ID, 60)
	if _, err := env.Engine.Hire(env.Ctx, keep.ID, env.Owner.ID); err != nil {
		t.Fatalf("hire: %v", err)
	}
	if err := env.Engine.DeleteGig(env.Ctx, assigned.ID, env.Owner.ID); !errors.Is(err, engine.ErrGigAssigned) {
		t.Fatalf("delete assigned err %v, want ErrGigAssigned", err)
	}

	if err := env.Engine.DeleteGig(env.Ctx, gig.ID, env.Owner.ID); err != nil {
		t.Fatalf("delete open gig: %v", err)
	}
	if _, err := env.Engine.Repo.GetGig(env.Ctx, gig.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("gig still present: %v", err)
	}
	if _, err := env.Engine.Repo.GetBid(env.Ctx, bid.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("bid still present: %v", err)
	}
}

func TestAssignedGigGuards(t *testing.T) {
	env := newTestEnv(t)
	gig := env.mustGig(t, "Guarded state")
	win := env.mustBid(t, gig.ID, env.Alice.ID, 70)
	if _, err := env.Engine.Hire(env.Ctx, win.ID, env.Owner.ID); err != nil {
		t.Fatalf("hire: %v", err)
	}

	// the delete statement itself refuses an assigned gig, even when the
	// caller's earlier read saw it open
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	ok, err := env.Engine.Repo.DeleteGig(env.Ctx, tx, gig.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok {
		t.Fatalf("assigned gig was deleted")
	}
	tx.Rollback()
	if _, err := env.Engine.Repo.GetGig(env.Ctx, gig.ID); err != nil {
		t.Fatalf("gig gone after refused delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetBid(env.Ctx, win.ID); err != nil {
		t.Fatalf("hired bid gone after refused delete: %v", err)
	}

	// and no pending bid can land once the gig is assigned
	tx, err = env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	ok, err = env.Engine.Repo.InsertBid(env.Ctx, tx, domain.Bid{
		ID:        "late-bid",
		GigID:     gig.ID,
		BidderID:  env.Bob.ID,
		Price:     40,
		Status:    domain.BidPending,
		CreatedAt: "2026-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if ok {
		t.Fatalf("bid landed on an assigned gig")
	}
}

func TestGigBidsOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	gig := env.mustGig(t, "Review bids")
	env.mustBid(t, gig.ID, env.Alice.ID, 10)
	env.mustBid(t, gig.ID, env.Bob.ID, 20)

	if _, err := env.Engine.GigBids(env.Ctx, gig.ID, env.Alice.ID); !errors.Is(err, engine.ErrNotGigOwner) {
		t.Fatalf("non-owner list err %v", err)
	}
	bids, err := env.Engine.GigBids(env.Ctx, gig.ID, env.Owner.ID)
	if err != nil {
		t.Fatalf("owner list: %v", err)
	}
	if len(bids) != 2 {
		t.Fatalf("got %d bids, want 2", len(bids))
	}
	names := map[string]bool{}
	for _, b := range bids {
		names[b.BidderName] = true
	}
	if !names["Alice"] || !names["Bob"] {
		t.Fatalf("bidder names %v", names)
	}
}

func TestUpdateGigPartial(t *testing.T) {
	env := newTestEnv(t)
	gig := env.mustGig(t, "Original title")

	newTitle := "New title"
	g, err := env.Engine.UpdateGig(env.Ctx, engine.GigUpdateOptions{
		ID:      gig.ID,
		Title:   &newTitle,
		ActorID: env.Owner.ID,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if g.Title != newTitle || g.MinBudget != 100 || g.MaxBudget != 500 {
		t.Fatalf("partial update result %+v", g)
	}
	if g.Status != domain.GigOpen {
		t.Fatalf("status changed by update: %q", g.Status)
	}

	if _, err := env.Engine.UpdateGig(env.Ctx, engine.GigUpdateOptions{
		ID:      gig.ID,
		Title:   &newTitle,
		ActorID: env.Alice.ID,
	}); !errors.Is(err, engine.ErrNotGigOwner) {
		t.Fatalf("non-owner update err %v", err)
	}

	bad := int64(9999)
	if _, err := env.Engine.UpdateGig(env.Ctx, engine.GigUpdateOptions{
		ID:        gig.ID,
		MinBudget: &bad,
		ActorID:   env.Owner.ID,
	}); err == nil {
		t.Fatalf("expected budget range error")
	}
}

func TestCreateUserDedupesEmail(t *testing.T) {
	env := newTestEnv(t)
	again, err := env.Engine.CreateUser(env.Ctx, "Someone Else", env.Alice.Email)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if again.ID != env.Alice.ID {
		t.Fatalf("expected existing user %s, got %s", env.Alice.ID, again.ID)
	}
}
