package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dcossios/TravelAgent/internal/db"
	"github.com/dcossios/TravelAgent/internal/domain"
	"github.com/dcossios/TravelAgent/internal/engine/auth"
	"github.com/dcossios/TravelAgent/internal/migrate"
	"github.com/dcossios/TravelAgent/internal/repo"
)

type fixture struct {
	Repo        repo.Repo
	Ctx         context.Context
	TripID      string
	Itineraries []string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn, Now: func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }}
	ctx := context.Background()
	for _, id := range []string{"alice", "bob", "carol"} {
		if _, err := r.EnsureProfile(ctx, nil, id, id+"@example.com", nil); err != nil {
			t.Fatalf("profile %s: %v", id, err)
		}
	}
	now := "2024-05-01T09:00:00Z"
	trip := domain.Trip{ID: "trip-1", UserID: "alice", Destination: "Lisbon", StartDate: "2024-06-01", EndDate: "2024-06-02",
		Status: domain.TripGenerating, CreatedAt: now, UpdatedAt: now}
	if err := r.InsertTrip(ctx, nil, trip); err != nil {
		t.Fatalf("insert trip: %v", err)
	}
	f := fixture{Repo: r, Ctx: ctx, TripID: trip.ID}
	for i, id := range []string{"day-2", "day-1"} {
		it := domain.Itinerary{ID: id, TripID: trip.ID, DayNumber: 2 - i, CreatedAt: now, UpdatedAt: now}
		if err := r.InsertItinerary(ctx, nil, it); err != nil {
			t.Fatalf("insert itinerary: %v", err)
		}
	}
	f.Itineraries = []string{"day-1", "day-2"}
	return f
}

func (f fixture) as(actor string) repo.Scoped {
	return repo.NewScoped(f.Repo, auth.UserScope(actor))
}

func TestItinerariesOrderedByDay(t *testing.T) {
	f := newFixture(t)
	items, err := f.as("alice").ListItineraries(f.Ctx, f.TripID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].DayNumber != 1 || items[1].DayNumber != 2 {
		t.Fatalf("unexpected order: %+v", items)
	}
	if items[0].GeneratedContent.Status != domain.ContentPending {
		t.Fatalf("expected pending content, got %q", items[0].GeneratedContent.Status)
	}
}

func TestInvisibleTripBehavesAsMissing(t *testing.T) {
	f := newFixture(t)
	if _, err := f.as("bob").GetTrip(f.Ctx, f.TripID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	items, err := f.as("bob").ListItineraries(f.Ctx, f.TripID)
	if err != nil || len(items) != 0 {
		t.Fatalf("expected empty list, got %v %v", items, err)
	}
	_, err = f.as("bob").InsertActivity(f.Ctx, domain.NewActivity{ItineraryID: "day-1", Name: "Museum", Time: "10:00"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on insert, got %v", err)
	}
}

func TestViewShareCanReadButNotWrite(t *testing.T) {
	f := newFixture(t)
	owner := f.as("alice")
	a, err := owner.InsertActivity(f.Ctx, domain.NewActivity{ItineraryID: "day-1", Name: "Tram 28", Time: "09:00"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := f.Repo.InsertSharedTrip(f.Ctx, nil, domain.SharedTrip{ID: "s1", TripID: f.TripID, SharedBy: "alice", SharedWith: "bob",
		PermissionLevel: domain.PermissionView, CreatedAt: "2024-05-01T09:00:00Z"}); err != nil {
		t.Fatalf("share: %v", err)
	}
	viewer := f.as("bob")
	acts, err := viewer.ListActivities(f.Ctx, f.Itineraries)
	if err != nil || len(acts) != 1 {
		t.Fatalf("viewer list: %v %v", acts, err)
	}
	name := "Bus"
	_, err = viewer.UpdateActivity(f.Ctx, domain.ActivityPatch{ID: a.ID, Name: &name})
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := f.Repo.InsertSharedTrip(f.Ctx, nil, domain.SharedTrip{ID: "s2", TripID: f.TripID, SharedBy: "alice", SharedWith: "bob",
		PermissionLevel: domain.PermissionEdit, CreatedAt: "2024-05-01T09:00:00Z"}); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict on duplicate share, got %v", err)
	}
}

func TestUpdateActivityPartial(t *testing.T) {
	f := newFixture(t)
	s := f.as("alice")
	loc := "Belem"
	a, err := s.InsertActivity(f.Ctx, domain.NewActivity{ItineraryID: "day-1", Name: "Tower", Time: "11:00", Location: &loc, Order: 3})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	tm := "12:30"
	updated, err := s.UpdateActivity(f.Ctx, domain.ActivityPatch{ID: a.ID, Time: &tm})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Time != "12:30" || updated.Name != "Tower" || updated.Location == nil || *updated.Location != "Belem" || updated.Order != 3 {
		t.Fatalf("partial update clobbered fields: %+v", updated)
	}
	if _, err := s.UpdateActivity(f.Ctx, domain.ActivityPatch{ID: "missing", Time: &tm}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpsertOrdersIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	s := f.as("alice")
	var ids []string
	for i, name := range []string{"a", "b", "c"} {
		a, err := s.InsertActivity(f.Ctx, domain.NewActivity{ItineraryID: "day-1", Name: name, Time: "10:00", Order: i})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, a.ID)
	}
	err := s.UpsertActivityOrders(f.Ctx, []domain.OrderUpdate{{ID: ids[0], Order: 2}, {ID: "ghost", Order: 0}})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	acts, err := s.ListActivities(f.Ctx, []string{"day-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if acts[0].ID != ids[0] || acts[0].Order != 0 {
		t.Fatalf("failed batch leaked a write: %+v", acts)
	}
	if err := s.UpsertActivityOrders(f.Ctx, []domain.OrderUpdate{{ID: ids[0], Order: 2}, {ID: ids[1], Order: 0}, {ID: ids[2], Order: 1}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	acts, _ = s.ListActivities(f.Ctx, []string{"day-1"})
	if acts[0].ID != ids[1] || acts[1].ID != ids[2] || acts[2].ID != ids[0] {
		t.Fatalf("unexpected order after batch: %+v", acts)
	}
}

func TestGeneratedContentNeverRevertsToPending(t *testing.T) {
	f := newFixture(t)
	svc := repo.NewScoped(f.Repo, auth.ServiceScope())
	if _, err := svc.UpdateItineraryContent(f.Ctx, "day-1", domain.GeneratedContent{Status: domain.ContentCompleted, Content: "Day 1"}); err != nil {
		t.Fatalf("populate: %v", err)
	}
	_, err := svc.UpdateItineraryContent(f.Ctx, "day-1", domain.GeneratedContent{Status: domain.ContentPending})
	if !errors.Is(err, repo.ErrContentRegression) {
		t.Fatalf("expected regression error, got %v", err)
	}
	if _, err := f.as("bob").UpdateItineraryContent(f.Ctx, "day-2", domain.GeneratedContent{Status: domain.ContentCompleted}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for stranger, got %v", err)
	}
}

func TestDashboardDeduplicates(t *testing.T) {
	f := newFixture(t)
	if err := f.Repo.InsertSavedTrip(f.Ctx, nil, domain.SavedTrip{ID: "sv1", UserID: "alice", TripID: f.TripID, CreatedAt: "2024-05-01T09:00:00Z"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := f.Repo.InsertSavedTrip(f.Ctx, nil, domain.SavedTrip{ID: "sv2", UserID: "alice", TripID: f.TripID, CreatedAt: "2024-05-01T09:00:00Z"}); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	entries, err := f.Repo.Dashboard(f.Ctx, "alice")
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if len(entries) != 1 || entries[0].Relation != "owned" {
		t.Fatalf("unexpected dashboard: %+v", entries)
	}
	if err := f.Repo.InsertSharedTrip(f.Ctx, nil, domain.SharedTrip{ID: "s1", TripID: f.TripID, SharedBy: "alice", SharedWith: "carol",
		PermissionLevel: domain.PermissionView, CreatedAt: "2024-05-01T09:00:00Z"}); err != nil {
		t.Fatalf("share: %v", err)
	}
	entries, _ = f.Repo.Dashboard(f.Ctx, "carol")
	if len(entries) != 1 || entries[0].Relation != "shared" || entries[0].PermissionLevel != "view" {
		t.Fatalf("unexpected shared dashboard: %+v", entries)
	}
}
