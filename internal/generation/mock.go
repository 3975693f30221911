package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/dcossios/TravelAgent/internal/domain"
	"github.com/dcossios/TravelAgent/internal/engine/auth"
	"github.com/dcossios/TravelAgent/internal/events"
	"github.com/dcossios/TravelAgent/internal/repo"
)

// MockService answers the generation contract in-process for development.
// It writes deterministic per-day content straight into the itinerary rows
// and marks the trip ready, the way the real service does.
type MockService struct {
	Repo       repo.Repo
	Events     events.Writer
	ServiceKey string
	JWTSecret  string
	Logger     *log.Logger
}

func (m MockService) logger() *log.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return log.Default()
}

func (m MockService) record(r *http.Request, evtType, tripID, kind, id, actor string, payload events.EventPayload) {
	if m.Events.DB == nil {
		return
	}
	if err := m.Events.Append(r.Context(), nil, evtType, tripID, kind, id, actor, payload); err != nil {
		m.logger().Printf("mock generation: event append failed: %v", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

func (m MockService) scope(r *http.Request) (auth.Scope, bool) {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return auth.Scope{}, false
	}
	if m.ServiceKey != "" && parts[1] == m.ServiceKey {
		return auth.ServiceScope(), true
	}
	claims, err := auth.ParseToken(m.JWTSecret, parts[1])
	if err != nil {
		return auth.Scope{}, false
	}
	return auth.UserScope(claims.Subject), true
}

func (m MockService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	scope, ok := m.scope(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Invalid authentication credentials")
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.TripID) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "trip_id and days are required")
		return
	}
	ctx := r.Context()
	gw := repo.NewScoped(m.Repo, scope)
	trip, err := gw.GetTrip(ctx, req.TripID)
	if errors.Is(err, repo.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Trip not found")
		return
	}
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	itineraries, err := gw.ListItineraries(ctx, trip.ID)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(itineraries) == 0 {
		writeDetail(w, http.StatusNotFound, "No itineraries found for this trip")
		return
	}
	if req.Days != len(itineraries) {
		m.logger().Printf("mock generation: trip %s requested %d days, found %d", trip.ID, req.Days, len(itineraries))
	}

	generated := make([]domain.GeneratedContent, 0, len(itineraries))
	for _, it := range itineraries {
		content := mockContent(trip, it)
		if _, err := gw.UpdateItineraryContent(ctx, it.ID, content); err != nil {
			writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("update itinerary %d: %v", it.DayNumber, err))
			return
		}
		m.record(r, events.ItineraryPopulated, trip.ID, "itinerary", it.ID, scope.ActorID, events.EventPayload{"day_number": it.DayNumber})
		generated = append(generated, content)
	}
	if err := gw.UpdateTripStatus(ctx, trip.ID, domain.TripReady); err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	m.record(r, events.TripReady, trip.ID, "trip", trip.ID, scope.ActorID, nil)
	m.logger().Printf("mock generation: populated %d days for trip %s", len(generated), trip.ID)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"message": "Itinerary generated",
		"content": generated,
	})
}

var slots = []string{"09:00", "13:00", "18:00"}

func mockContent(trip domain.Trip, it domain.Itinerary) domain.GeneratedContent {
	seed := it.GeneratedContent
	interests := seed.Interests
	if len(interests) == 0 {
		interests = []string{"sightseeing", "local food", "a walk"}
	}
	var planned []domain.PlannedActivity
	for i, slot := range slots {
		interest := interests[(it.DayNumber-1+i)%len(interests)]
		planned = append(planned, domain.PlannedActivity{
			Time:        slot,
			Name:        fmt.Sprintf("%s in %s", capitalize(interest), trip.Destination),
			Location:    trip.Destination,
			Description: fmt.Sprintf("Day %d: time for %s.", it.DayNumber, interest),
		})
	}
	var recs []string
	for _, p := range seed.Preferences {
		recs = append(recs, "Keep in mind: "+p)
	}
	return domain.GeneratedContent{
		Interests:       seed.Interests,
		Preferences:     seed.Preferences,
		Status:          domain.ContentCompleted,
		Day:             it.DayNumber,
		Content:         fmt.Sprintf("Day %d of your trip to %s.", it.DayNumber, trip.Destination),
		Activities:      planned,
		Recommendations: recs,
		Summary:         fmt.Sprintf("A day of %s.", strings.Join(interests, ", ")),
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
