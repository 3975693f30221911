package server

import (
	"encoding/json"

	"github.com/dcossios/TravelAgent/internal/domain"
)

// Request payloads

type CreateTripRequest struct {
	Destination string   `json:"destination" minLength:"1"`
	StartDate   string   `json:"start_date" format:"date"`
	EndDate     string   `json:"end_date" format:"date"`
	Budget      *float64 `json:"budget,omitempty" minimum:"0"`
	Interests   []string `json:"interests,omitempty"`
	Preferences []string `json:"preferences,omitempty"`
}

type UpdateActivityRequest struct {
	Name        *string `json:"name,omitempty"`
	Time        *string `json:"time,omitempty"`
	Location    *string `json:"location,omitempty"`
	Description *string `json:"description,omitempty"`
	Duration    *string `json:"duration,omitempty"`
	Order       *int    `json:"order,omitempty"`
}

type ReorderActivitiesRequest struct {
	Updates []domain.OrderUpdate `json:"updates"`
}

type ShareTripRequest struct {
	Email           string `json:"email"`
	PermissionLevel string `json:"permission_level,omitempty" enum:"view,edit"`
}

type DevLoginRequest struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type GenerateRequest struct {
	TripID string `json:"tripId"`
}

// Response payloads

type TripDetailResponse struct {
	Trip        domain.Trip        `json:"trip"`
	Itineraries []domain.Itinerary `json:"itineraries"`
}

type ItinerariesResponse struct {
	Items []domain.Itinerary `json:"items"`
}

type ActivitiesResponse struct {
	Items []domain.Activity `json:"items"`
}

type DashboardResponse struct {
	Items []domain.DashboardEntry `json:"items"`
}

type DevLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type CreateAPIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKeysResponse struct {
	Items []APIKeyResponse `json:"items"`
}

type WhoAmIResponse struct {
	ActorID string          `json:"actor_id"`
	Service bool            `json:"service"`
	Source  string          `json:"source"`
	Profile *domain.Profile `json:"profile,omitempty"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	TripID     string          `json:"trip_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type EventsResponse struct {
	Items []EventResponse `json:"items"`
}

// generateResponse is the raw envelope of the trip-creation trigger.
type generateResponse struct {
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

func eventResponse(evt domain.Event) EventResponse {
	var payload json.RawMessage
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		TripID:     evt.TripID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, Name: k.Name, CreatedAt: k.CreatedAt}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
