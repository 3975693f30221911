package tasdk_test

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dcossios/TravelAgent/internal/config"
	"github.com/dcossios/TravelAgent/internal/db"
	"github.com/dcossios/TravelAgent/internal/domain"
	"github.com/dcossios/TravelAgent/internal/engine"
	"github.com/dcossios/TravelAgent/internal/migrate"
	"github.com/dcossios/TravelAgent/internal/retry"
	"github.com/dcossios/TravelAgent/internal/server"
	"github.com/dcossios/TravelAgent/internal/store"
	tasdk "github.com/dcossios/TravelAgent/sdk/go"
)

func newClient(t *testing.T) *tasdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Server.JWTSecret = "sdk-secret"
	logger := log.New(io.Discard, "", 0)
	e := engine.New(conn, cfg)
	e.Logger = logger
	handler, err := server.New(server.Config{
		Engine:      e,
		BasePath:    "/v0",
		Development: true,
		Logger:      logger,
		Auth:        server.AuthConfig{JWTSecret: cfg.Server.JWTSecret, Logger: logger},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := tasdk.New(srv.URL)
	tok, err := c.DevLogin(context.Background(), "alice", "alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("dev login: %v", err)
	}
	c.BearerToken = tok.Token
	return c
}

func TestClientDrivesStore(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	detail, err := c.CreateTrip(ctx, tasdk.TripInput{Destination: "Oslo", StartDate: "2024-02-01", EndDate: "2024-02-02"})
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	if len(detail.Itineraries) != 2 {
		t.Fatalf("expected 2 days, got %d", len(detail.Itineraries))
	}

	s := store.New(c, store.WithRetry(retry.Policy{Attempts: 3, Delay: time.Second, Timer: retry.NewInstantTimer()}))
	st := s.FetchTripData(ctx, detail.Trip.ID)
	if st.Err != nil {
		t.Fatalf("fetch: %v", st.Err)
	}
	dayID := st.Itineraries[0].ID
	for i, name := range []string{"Fjord cruise", "Museum"} {
		st = s.CreateActivity(ctx, domain.NewActivity{ItineraryID: dayID, Name: name, Time: "10:00", Order: i})
		if st.Err != nil {
			t.Fatalf("create %s: %v", name, st.Err)
		}
	}
	acts := st.ActivitiesFor(dayID)
	st = s.MoveActivity(ctx, dayID, acts[1].ID, acts[0].ID)
	if st.Err != nil {
		t.Fatalf("move: %v", st.Err)
	}
	got := st.ActivitiesFor(dayID)
	if got[0].Name != "Museum" || got[1].Name != "Fjord cruise" {
		t.Fatalf("unexpected order %+v", got)
	}

	// the server holds the same order
	remote, err := c.ListActivities(ctx, []string{dayID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if remote[0].Name != "Museum" {
		t.Fatalf("server order not updated: %+v", remote)
	}
}

func TestClientNotFound(t *testing.T) {
	c := newClient(t)
	_, err := c.GetTrip(context.Background(), "missing")
	if !errors.Is(err, tasdk.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var apiErr *tasdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
		t.Fatalf("expected APIError 404, got %v", err)
	}
}
