package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/dcossios/TravelAgent/internal/config"
	"github.com/dcossios/TravelAgent/internal/db"
	"github.com/dcossios/TravelAgent/internal/domain"
	"github.com/dcossios/TravelAgent/internal/engine"
	"github.com/dcossios/TravelAgent/internal/engine/auth"
	"github.com/dcossios/TravelAgent/internal/generation"
	"github.com/dcossios/TravelAgent/internal/migrate"
	"github.com/dcossios/TravelAgent/internal/repo"
	"github.com/dcossios/TravelAgent/internal/retry"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Timer  *retry.InstantTimer
}

var (
	alice = auth.UserScope("alice")
	bob   = auth.UserScope("bob")
)

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
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng.Logger = log.New(io.Discard, "", 0)
	timer := retry.NewInstantTimer()
	eng.Retry = retry.Policy{Attempts: 3, Delay: time.Second, Timer: timer}
	ctx := context.Background()
	if _, err := eng.SyncProfile(ctx, alice, "alice@example.com", "Alice"); err != nil {
		t.Fatalf("alice profile: %v", err)
	}
	if _, err := eng.SyncProfile(ctx, bob, "bob@example.com", ""); err != nil {
		t.Fatalf("bob profile: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Timer: timer}
}

func (env testEnv) createTrip(t *testing.T, start, end string) (domain.Trip, []domain.Itinerary) {
	t.Helper()
	trip, days, err := env.Engine.CreateTrip(env.Ctx, alice, engine.TripCreateOptions{
		Destination: "Kyoto",
		StartDate:   start,
		EndDate:     end,
		Interests:   engine.SplitLines("temples\nramen\n\n"),
		Preferences: engine.SplitLines("no early mornings"),
	})
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	return trip, days
}

func TestCreateTripSeedsPendingDays(t *testing.T) {
	env := newTestEnv(t)
	trip, days := env.createTrip(t, "2024-04-01", "2024-04-03")
	if trip.Status != domain.TripGenerating || trip.UserID != "alice" {
		t.Fatalf("unexpected trip %+v", trip)
	}
	if len(days) != 3 {
		t.Fatalf("expected 3 itineraries, got %d", len(days))
	}
	for i, it := range days {
		if it.DayNumber != i+1 {
			t.Fatalf("day %d has day_number %d", i, it.DayNumber)
		}
		if it.GeneratedContent.Status != domain.ContentPending {
			t.Fatalf("day %d status %q", it.DayNumber, it.GeneratedContent.Status)
		}
		if !reflect.DeepEqual(it.GeneratedContent.Interests, []string{"temples", "ramen"}) {
			t.Fatalf("interests %v", it.GeneratedContent.Interests)
		}
	}
	evts, err := env.Engine.ListEvents(env.Ctx, alice, trip.ID, 10)
	if err != nil || len(evts) != 1 || evts[0].Type != "trip.created" {
		t.Fatalf("events: %v %+v", err, evts)
	}
}

func TestCreateTripValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []engine.TripCreateOptions{
		{StartDate: "2024-04-01", EndDate: "2024-04-02"},
		{Destination: "Oslo", StartDate: "2024-04-03", EndDate: "2024-04-01"},
		{Destination: "Oslo", StartDate: "04/01/2024", EndDate: "2024-04-01"},
		{Destination: "Oslo", StartDate: "2024-04-01", EndDate: "2024-04-01", Email: "not-an-email"},
	}
	for i, opts := range cases {
		_, _, err := env.Engine.CreateTrip(env.Ctx, alice, opts)
		var verr *engine.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if _, _, err := env.Engine.CreateTrip(env.Ctx, auth.ServiceScope(), engine.TripCreateOptions{Destination: "Oslo", StartDate: "2024-04-01", EndDate: "2024-04-01"}); err == nil {
		t.Fatalf("service scope should not own trips")
	}
}

func TestTriggerGenerationSendsDayCount(t *testing.T) {
	env := newTestEnv(t)
	trip, _ := env.createTrip(t, "2024-04-01", "2024-04-03")
	var got generation.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"content":{}}`)
	}))
	defer srv.Close()
	env.Engine.Generator = &generation.Client{URL: srv.URL, ServiceKey: "svc"}

	res, err := env.Engine.TriggerGeneration(env.Ctx, alice, trip.ID)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if got.TripID != trip.ID || got.Days != 3 || res.Days != 3 {
		t.Fatalf("generation request %+v result %+v", got, res)
	}
	evts, _ := env.Engine.ListEvents(env.Ctx, alice, trip.ID, 10)
	if len(evts) != 2 || evts[0].Type != "trip.generation_triggered" {
		t.Fatalf("events %+v", evts)
	}
}

func TestTriggerGenerationMissingTrip(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.TriggerGeneration(env.Ctx, auth.ServiceScope(), "ghost")
	var nf *generation.NotFoundError
	if !errors.As(err, &nf) || nf.Entity != "trip" {
		t.Fatalf("expected trip not found, got %v", err)
	}
	if w := env.Timer.Waits(); len(w) != 2 {
		t.Fatalf("expected two pauses, got %v", w)
	}
}

func TestTriggerGenerationRetriesTripForUser(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.TriggerGeneration(env.Ctx, alice, "not-yet-visible")
	var nf *generation.NotFoundError
	if !errors.As(err, &nf) || nf.Entity != "trip" || nf.Attempts != 3 {
		t.Fatalf("expected trip not found after 3 attempts, got %v", err)
	}
	w := env.Timer.Waits()
	if len(w) != 2 || w[0] != time.Second || w[1] != time.Second {
		t.Fatalf("expected two one-second pauses, got %v", w)
	}
}

func TestTriggerGenerationHidesStrangersTrip(t *testing.T) {
	env := newTestEnv(t)
	trip, _ := env.createTrip(t, "2024-04-01", "2024-04-02")
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		io.WriteString(w, `{"content":{}}`)
	}))
	defer srv.Close()
	env.Engine.Generator = &generation.Client{URL: srv.URL, ServiceKey: "svc"}

	_, err := env.Engine.TriggerGeneration(env.Ctx, bob, trip.ID)
	var nf *generation.NotFoundError
	if !errors.As(err, &nf) || nf.Entity != "trip" {
		t.Fatalf("expected not found for stranger, got %v", err)
	}
	if called {
		t.Fatalf("generation service must not be called for an invisible trip")
	}
	if len(env.Timer.Waits()) != 2 {
		t.Fatalf("expected retried fetch, got %v", env.Timer.Waits())
	}
}

func TestGenerationEndToEndWithMockService(t *testing.T) {
	env := newTestEnv(t)
	trip, _ := env.createTrip(t, "2024-04-01", "2024-04-02")
	mock := generation.MockService{Repo: env.Engine.Repo, Events: env.Engine.Events, ServiceKey: "svc", Logger: log.New(io.Discard, "", 0)}
	srv := httptest.NewServer(mock)
	defer srv.Close()
	env.Engine.Generator = &generation.Client{URL: srv.URL, ServiceKey: "svc"}

	if _, err := env.Engine.TriggerGeneration(env.Ctx, alice, trip.ID); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	gw := env.Engine.Gateway(alice)
	days, err := gw.ListItineraries(env.Ctx, trip.ID)
	if err != nil || len(days) != 2 {
		t.Fatalf("itineraries: %v %d", err, len(days))
	}
	for _, it := range days {
		if it.GeneratedContent.Status != domain.ContentCompleted || it.GeneratedContent.Day != it.DayNumber {
			t.Fatalf("day %d not populated: %+v", it.DayNumber, it.GeneratedContent)
		}
	}
	stored, _ := gw.GetTrip(env.Ctx, trip.ID)
	if stored.Status != domain.TripReady {
		t.Fatalf("trip status %s", stored.Status)
	}
}

func TestShareTrip(t *testing.T) {
	env := newTestEnv(t)
	trip, _ := env.createTrip(t, "2024-04-01", "2024-04-01")

	if _, err := env.Engine.Gateway(bob).GetTrip(env.Ctx, trip.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("bob should not see the trip yet: %v", err)
	}
	share, err := env.Engine.ShareTrip(env.Ctx, alice, engine.ShareOptions{TripID: trip.ID, Email: "BOB@example.com"})
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if share.PermissionLevel != domain.PermissionView || share.SharedWith != "bob" {
		t.Fatalf("share %+v", share)
	}
	if _, err := env.Engine.Gateway(bob).GetTrip(env.Ctx, trip.ID); err != nil {
		t.Fatalf("bob should see the trip: %v", err)
	}
	if _, err := env.Engine.ShareTrip(env.Ctx, alice, engine.ShareOptions{TripID: trip.ID, Email: "bob@example.com"}); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := env.Engine.ShareTrip(env.Ctx, alice, engine.ShareOptions{TripID: trip.ID, Email: "nobody@example.com"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.ShareTrip(env.Ctx, bob, engine.ShareOptions{TripID: trip.ID, Email: "alice@example.com"}); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	var verr *engine.ValidationError
	if _, err := env.Engine.ShareTrip(env.Ctx, alice, engine.ShareOptions{TripID: trip.ID, Email: "bob@example.com", Permission: "admin"}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSaveUnsaveAndDashboard(t *testing.T) {
	env := newTestEnv(t)
	trip, _ := env.createTrip(t, "2024-04-01", "2024-04-02")
	if _, err := env.Engine.SaveTrip(env.Ctx, bob, trip.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("saving an invisible trip should be not found: %v", err)
	}
	if _, err := env.Engine.ShareTrip(env.Ctx, alice, engine.ShareOptions{TripID: trip.ID, Email: "bob@example.com", Permission: "edit"}); err != nil {
		t.Fatalf("share: %v", err)
	}
	if _, err := env.Engine.SaveTrip(env.Ctx, bob, trip.ID); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := env.Engine.SaveTrip(env.Ctx, bob, trip.ID); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected duplicate save conflict, got %v", err)
	}
	entries, err := env.Engine.Dashboard(env.Ctx, bob)
	if err != nil || len(entries) != 1 || entries[0].Relation != "saved" {
		t.Fatalf("dashboard: %v %+v", err, entries)
	}
	if err := env.Engine.UnsaveTrip(env.Ctx, bob, trip.ID); err != nil {
		t.Fatalf("unsave: %v", err)
	}
	if err := env.Engine.UnsaveTrip(env.Ctx, bob, trip.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second unsave should be not found: %v", err)
	}
	entries, _ = env.Engine.Dashboard(env.Ctx, bob)
	if len(entries) != 1 || entries[0].Relation != "shared" || entries[0].PermissionLevel != "edit" {
		t.Fatalf("dashboard after unsave: %+v", entries)
	}
}

func TestCreateAPIKey(t *testing.T) {
	env := newTestEnv(t)
	key, raw, err := env.Engine.CreateAPIKey(env.Ctx, alice, "laptop")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	stored, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(raw))
	if err != nil || stored.ID != key.ID || stored.ActorID != "alice" {
		t.Fatalf("lookup: %v %+v", err, stored)
	}
}
