package app

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/dcossios/TravelAgent/internal/config"
	tasdk "github.com/dcossios/TravelAgent/sdk/go"
)

func TestLocalSessionCreatesAndListsTrips(t *testing.T) {
	ctx := context.Background()
	sess, err := Open(ctx, SessionOptions{Workspace: t.TempDir(), ActorID: "local-user"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sess.Close()
	if sess.Remote {
		t.Fatalf("expected local session")
	}
	trip, days, err := sess.Backend.CreateTrip(ctx, tasdk.TripInput{Destination: "Rome", StartDate: "2024-05-01", EndDate: "2024-05-04"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(days) != 4 {
		t.Fatalf("expected 4 days, got %d", len(days))
	}
	entries, err := sess.Backend.Dashboard(ctx)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if len(entries) != 1 || entries[0].Trip.ID != trip.ID {
		t.Fatalf("unexpected dashboard %+v", entries)
	}
	if _, err := sess.Backend.GetTrip(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLocalSessionRequiresActor(t *testing.T) {
	if _, err := Open(context.Background(), SessionOptions{Workspace: t.TempDir()}); err == nil {
		t.Fatalf("expected error without actor")
	}
}

func TestRemoteSessionUsesBasePath(t *testing.T) {
	cfg := config.Default()
	cfg.Server.BasePath = "/v1"
	sess, err := Open(context.Background(), SessionOptions{APIURL: "http://127.0.0.1:1", Token: "tok", Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	r, ok := sess.Backend.(remote)
	if !ok {
		t.Fatalf("expected remote backend, got %T", sess.Backend)
	}
	if r.BasePath != "/v1" || r.BearerToken != "tok" {
		t.Fatalf("unexpected client %+v", r.Client)
	}
}

func TestSetEnvValueKeepsOtherKeys(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(EnvPath(dir), []byte("TA_API_URL=http://localhost:8080\n"), 0o644); err != nil {
		t.Fatalf("seed env: %v", err)
	}
	if err := SetEnvValue(dir, "TA_TOKEN", "abc"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := SetEnvValue(dir, "TA_TOKEN", "def"); err != nil {
		t.Fatalf("set again: %v", err)
	}
	data, err := os.ReadFile(EnvPath(dir))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := string(data)
	if !strings.Contains(got, `TA_API_URL="http://localhost:8080"`) && !strings.Contains(got, "TA_API_URL=http://localhost:8080") {
		t.Fatalf("existing key lost: %q", got)
	}
	if !strings.Contains(got, "def") || strings.Contains(got, "abc") {
		t.Fatalf("token not replaced: %q", got)
	}
}
