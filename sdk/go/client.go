package tasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dcossios/TravelAgent/internal/domain"
)

// ErrNotFound matches any 404 returned by the API.
var ErrNotFound = errors.New("not found")

// Client is a minimal TravelAgent HTTP API client. It satisfies the
// activity store's gateway so the CLI can edit trips held by a server.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  90 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// TripInput describes a trip to create.
type TripInput struct {
	Destination string   `json:"destination"`
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	Budget      *float64 `json:"budget,omitempty"`
	Interests   []string `json:"interests,omitempty"`
	Preferences []string `json:"preferences,omitempty"`
}

// TripDetail is a trip together with its seeded days.
type TripDetail struct {
	Trip        domain.Trip        `json:"trip"`
	Itineraries []domain.Itinerary `json:"itineraries"`
}

// Principal is the identity the server resolved for the credentials.
type Principal struct {
	ActorID string          `json:"actor_id"`
	Service bool            `json:"service"`
	Source  string          `json:"source"`
	Profile *domain.Profile `json:"profile,omitempty"`
}

// Event represents a trip log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	TripID     string         `json:"trip_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// Token is a development login result.
type Token struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// CreateTrip creates a trip and its pending days.
func (c *Client) CreateTrip(ctx context.Context, in TripInput) (TripDetail, error) {
	var resp TripDetail
	err := c.do(ctx, http.MethodPost, c.apiPath("trips"), in, &resp)
	return resp, err
}

// TriggerGeneration asks the server to generate content for every day.
func (c *Client) TriggerGeneration(ctx context.Context, tripID string) error {
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.do(ctx, http.MethodPost, "api/generate", map[string]string{"tripId": tripID}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return errors.New("generation not acknowledged")
	}
	return nil
}

func (c *Client) GetTrip(ctx context.Context, id string) (domain.Trip, error) {
	var resp domain.Trip
	err := c.do(ctx, http.MethodGet, c.apiPath("trips/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

func (c *Client) ListItineraries(ctx context.Context, tripID string) ([]domain.Itinerary, error) {
	var resp struct {
		Items []domain.Itinerary `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.apiPath("trips/"+url.PathEscape(tripID)+"/itineraries"), nil, &resp)
	return resp.Items, err
}

func (c *Client) ListActivities(ctx context.Context, itineraryIDs []string) ([]domain.Activity, error) {
	if len(itineraryIDs) == 0 {
		return nil, nil
	}
	var resp struct {
		Items []domain.Activity `json:"items"`
	}
	endpoint := c.apiPath("activities") + "?itinerary_id=" + url.QueryEscape(strings.Join(itineraryIDs, ","))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) InsertActivity(ctx context.Context, a domain.NewActivity) (domain.Activity, error) {
	var resp domain.Activity
	err := c.do(ctx, http.MethodPost, c.apiPath("activities"), a, &resp)
	return resp, err
}

func (c *Client) UpdateActivity(ctx context.Context, patch domain.ActivityPatch) (domain.Activity, error) {
	body := map[string]any{}
	if patch.Name != nil {
		body["name"] = *patch.Name
	}
	if patch.Time != nil {
		body["time"] = *patch.Time
	}
	if patch.Location != nil {
		body["location"] = *patch.Location
	}
	if patch.Description != nil {
		body["description"] = *patch.Description
	}
	if patch.Duration != nil {
		body["duration"] = *patch.Duration
	}
	if patch.Order != nil {
		body["order"] = *patch.Order
	}
	var resp domain.Activity
	err := c.do(ctx, http.MethodPatch, c.apiPath("activities/"+url.PathEscape(patch.ID)), body, &resp)
	return resp, err
}

func (c *Client) DeleteActivity(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.apiPath("activities/"+url.PathEscape(id)), nil, nil)
}

func (c *Client) UpsertActivityOrders(ctx context.Context, updates []domain.OrderUpdate) error {
	return c.do(ctx, http.MethodPut, c.apiPath("activities/order"), map[string]any{"updates": updates}, nil)
}

// SaveTrip adds a trip to the caller's dashboard.
func (c *Client) SaveTrip(ctx context.Context, tripID string) (domain.SavedTrip, error) {
	var resp domain.SavedTrip
	err := c.do(ctx, http.MethodPost, c.apiPath("trips/"+url.PathEscape(tripID)+"/save"), nil, &resp)
	return resp, err
}

func (c *Client) UnsaveTrip(ctx context.Context, tripID string) error {
	return c.do(ctx, http.MethodDelete, c.apiPath("trips/"+url.PathEscape(tripID)+"/save"), nil, nil)
}

// ShareTrip grants a registered user view or edit access.
func (c *Client) ShareTrip(ctx context.Context, tripID, email, permission string) (domain.SharedTrip, error) {
	body := map[string]any{"email": email, "permission_level": permission}
	var resp domain.SharedTrip
	err := c.do(ctx, http.MethodPost, c.apiPath("trips/"+url.PathEscape(tripID)+"/share"), body, &resp)
	return resp, err
}

func (c *Client) Dashboard(ctx context.Context) ([]domain.DashboardEntry, error) {
	var resp struct {
		Items []domain.DashboardEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.apiPath("dashboard"), nil, &resp)
	return resp.Items, err
}

// Events returns the newest events of a trip.
func (c *Client) Events(ctx context.Context, tripID string, limit int) ([]Event, error) {
	endpoint := c.apiPath("trips/" + url.PathEscape(tripID) + "/events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// DevLogin mints a token on a server running in development mode.
func (c *Client) DevLogin(ctx context.Context, userID, email, name string) (Token, error) {
	body := map[string]any{"user_id": userID, "email": email, "name": name}
	var resp Token
	err := c.do(ctx, http.MethodPost, c.apiPath("auth/dev/login"), body, &resp)
	return resp, err
}

func (c *Client) Me(ctx context.Context) (Principal, error) {
	var resp Principal
	err := c.do(ctx, http.MethodGet, c.apiPath("me"), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) apiPath(p string) string {
	base := strings.Trim(c.BasePath, "/")
	if base == "" {
		base = "v0"
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
