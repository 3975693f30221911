package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dcossios/TravelAgent/internal/db"
	"github.com/dcossios/TravelAgent/internal/domain"
	"github.com/dcossios/TravelAgent/internal/migrate"
	"github.com/dcossios/TravelAgent/internal/repo"
	"github.com/dcossios/TravelAgent/internal/retry"
)

type fakeSource struct {
	tripErrs  []error
	itinErrs  []error
	days      int
	tripCalls int
	itinCalls int
}

func (f *fakeSource) GetTrip(_ context.Context, id string) (domain.Trip, error) {
	f.tripCalls++
	if len(f.tripErrs) > 0 {
		err := f.tripErrs[0]
		f.tripErrs = f.tripErrs[1:]
		if err != nil {
			return domain.Trip{}, err
		}
	}
	return domain.Trip{ID: id, Destination: "Kyoto"}, nil
}

func (f *fakeSource) ListItineraries(_ context.Context, tripID string) ([]domain.Itinerary, error) {
	f.itinCalls++
	if len(f.itinErrs) > 0 {
		err := f.itinErrs[0]
		f.itinErrs = f.itinErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []domain.Itinerary
	for i := 1; i <= f.days; i++ {
		out = append(out, domain.Itinerary{ID: "it", TripID: tripID, DayNumber: i})
	}
	return out, nil
}

type fakeGenerator struct {
	tripID string
	days   int
	err    error
}

func (g *fakeGenerator) Generate(_ context.Context, tripID string, days int) (json.RawMessage, error) {
	g.tripID, g.days = tripID, days
	if g.err != nil {
		return nil, g.err
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTrigger(src Source, gen Generator, timer *retry.InstantTimer) Trigger {
	return Trigger{
		Source:    src,
		Generator: gen,
		Policy:    retry.Policy{Attempts: 3, Delay: time.Second, Timer: timer},
		Logger:    quietLogger(),
	}
}

func TestTriggerCountsDays(t *testing.T) {
	for _, n := range []int{1, 3, 14} {
		src := &fakeSource{days: n}
		gen := &fakeGenerator{}
		res, err := newTrigger(src, gen, retry.NewInstantTimer()).Run(context.Background(), "trip-1")
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if gen.days != n || res.Days != n || gen.tripID != "trip-1" {
			t.Fatalf("n=%d: generator got days=%d trip=%s", n, gen.days, gen.tripID)
		}
	}
}

func TestTriggerRetriesTransientFetch(t *testing.T) {
	timer := retry.NewInstantTimer()
	src := &fakeSource{days: 2, tripErrs: []error{errors.New("timeout"), nil}, itinErrs: []error{errors.New("timeout"), errors.New("timeout"), nil}}
	gen := &fakeGenerator{}
	if _, err := newTrigger(src, gen, timer).Run(context.Background(), "trip-1"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if src.tripCalls != 2 || src.itinCalls != 3 {
		t.Fatalf("tripCalls=%d itinCalls=%d", src.tripCalls, src.itinCalls)
	}
	if len(timer.Waits()) != 3 {
		t.Fatalf("expected 3 pauses, got %v", timer.Waits())
	}
}

func TestTriggerTripNotFoundAfterThreeAttempts(t *testing.T) {
	timer := retry.NewInstantTimer()
	src := &fakeSource{tripErrs: []error{repo.ErrNotFound, repo.ErrNotFound, repo.ErrNotFound}}
	gen := &fakeGenerator{}
	_, err := newTrigger(src, gen, timer).Run(context.Background(), "ghost")
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Entity != "trip" {
		t.Fatalf("expected trip not found, got %v", err)
	}
	if src.tripCalls != 3 || src.itinCalls != 0 || gen.tripID != "" {
		t.Fatalf("tripCalls=%d itinCalls=%d generator=%q", src.tripCalls, src.itinCalls, gen.tripID)
	}
	if w := timer.Waits(); len(w) != 2 || w[0] != time.Second {
		t.Fatalf("expected two 1s pauses, got %v", w)
	}
}

func TestTriggerEmptyItinerariesIsNotFound(t *testing.T) {
	src := &fakeSource{days: 0}
	_, err := newTrigger(src, &fakeGenerator{}, retry.NewInstantTimer()).Run(context.Background(), "trip-1")
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Entity != "itineraries" || src.itinCalls != 3 {
		t.Fatalf("expected itineraries not found after 3 calls, got %v (calls=%d)", err, src.itinCalls)
	}
}

func TestTriggerPropagatesUpstreamAndUnknown(t *testing.T) {
	up := &UpstreamError{Status: 502, Detail: "model overloaded"}
	_, err := newTrigger(&fakeSource{days: 1}, &fakeGenerator{err: up}, retry.NewInstantTimer()).Run(context.Background(), "t")
	var gotUp *UpstreamError
	if !errors.As(err, &gotUp) || gotUp.Error() != "model overloaded" {
		t.Fatalf("expected upstream error, got %v", err)
	}
	_, err = newTrigger(&fakeSource{days: 1}, &fakeGenerator{err: errors.New("socket closed")}, retry.NewInstantTimer()).Run(context.Background(), "t")
	var unk *UnknownError
	if !errors.As(err, &unk) || unk.Error() != "socket closed" {
		t.Fatalf("expected unknown error with verbatim message, got %v", err)
	}
}

func TestClientSendsTripAndDays(t *testing.T) {
	var gotBody Request
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"message":"ok","content":{"days":3}}`)
	}))
	defer srv.Close()
	c := &Client{URL: srv.URL, ServiceKey: "svc-key"}
	content, err := c.Generate(context.Background(), "trip-9", 3)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gotBody.TripID != "trip-9" || gotBody.Days != 3 || gotAuth != "Bearer svc-key" {
		t.Fatalf("unexpected request body=%+v auth=%q", gotBody, gotAuth)
	}
	if !bytes.Contains(content, []byte(`"days":3`)) {
		t.Fatalf("unexpected content %s", content)
	}
}

func TestClientUpstreamDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"detail":"No itineraries found for this trip"}`)
	}))
	defer srv.Close()
	_, err := (&Client{URL: srv.URL}).Generate(context.Background(), "t", 1)
	var up *UpstreamError
	if !errors.As(err, &up) || up.Status != 404 || up.Error() != "No itineraries found for this trip" {
		t.Fatalf("unexpected error %v", err)
	}

	bare := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `oops`)
	}))
	defer bare.Close()
	_, err = (&Client{URL: bare.URL}).Generate(context.Background(), "t", 1)
	if !errors.As(err, &up) || up.Error() != DefaultUpstreamDetail {
		t.Fatalf("expected default detail, got %v", err)
	}
}

func TestMockServicePopulatesDays(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	r := repo.Repo{DB: conn}
	if _, err := r.EnsureProfile(ctx, nil, "alice", "alice@example.com", nil); err != nil {
		t.Fatalf("profile: %v", err)
	}
	now := "2024-05-01T00:00:00Z"
	if err := r.InsertTrip(ctx, nil, domain.Trip{ID: "trip-1", UserID: "alice", Destination: "Porto", StartDate: "2024-06-01",
		EndDate: "2024-06-02", Status: domain.TripGenerating, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("trip: %v", err)
	}
	for d := 1; d <= 2; d++ {
		it := domain.Itinerary{ID: "day-" + string(rune('0'+d)), TripID: "trip-1", DayNumber: d, CreatedAt: now, UpdatedAt: now,
			GeneratedContent: domain.GeneratedContent{Interests: []string{"wine"}, Status: domain.ContentPending}}
		if err := r.InsertItinerary(ctx, nil, it); err != nil {
			t.Fatalf("itinerary: %v", err)
		}
	}
	srv := httptest.NewServer(MockService{Repo: r, ServiceKey: "svc", Logger: quietLogger()})
	defer srv.Close()

	res, err := (&Client{URL: srv.URL, ServiceKey: "svc"}).Generate(ctx, "trip-1", 2)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var days []domain.GeneratedContent
	if err := json.Unmarshal(res, &days); err != nil || len(days) != 2 {
		t.Fatalf("content: %v %s", err, res)
	}
	items, _ := r.ListItineraries(ctx, nil, "trip-1")
	for _, it := range items {
		if it.GeneratedContent.IsPending() || len(it.GeneratedContent.Activities) == 0 {
			t.Fatalf("day %d not populated: %+v", it.DayNumber, it.GeneratedContent)
		}
	}
	trip, _ := r.GetTrip(ctx, nil, "trip-1")
	if trip.Status != domain.TripReady {
		t.Fatalf("trip status %s", trip.Status)
	}

	_, err = (&Client{URL: srv.URL, ServiceKey: "wrong"}).Generate(ctx, "trip-1", 2)
	var up *UpstreamError
	if !errors.As(err, &up) || up.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 upstream error, got %v", err)
	}
	_, err = (&Client{URL: srv.URL, ServiceKey: "svc"}).Generate(ctx, "nope", 1)
	if !errors.As(err, &up) || up.Status != http.StatusNotFound || up.Detail != "Trip not found" {
		t.Fatalf("expected 404 trip not found, got %v", err)
	}
}
