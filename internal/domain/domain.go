package domain

const (
	TripDraft      = "draft"
	TripGenerating = "generating"
	TripReady      = "ready"
)

const (
	ContentPending   = "pending"
	ContentCompleted = "completed"
)

const (
	PermissionView = "view"
	PermissionEdit = "edit"
)

type Trip struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	Destination string   `json:"destination"`
	StartDate   string   `json:"start_date" format:"date"`
	EndDate     string   `json:"end_date" format:"date"`
	Budget      *float64 `json:"budget,omitempty"`
	Status      string   `json:"status" enum:"draft,generating,ready"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

// GeneratedContent is the per-day payload. The creator seeds interests and
// preferences with status pending; the generation service fills the rest.
type GeneratedContent struct {
	Interests       []string          `json:"interests,omitempty"`
	Preferences     []string          `json:"preferences,omitempty"`
	Status          string            `json:"status"`
	Day             int               `json:"day,omitempty"`
	Content         string            `json:"content,omitempty"`
	Activities      []PlannedActivity `json:"activities,omitempty"`
	Recommendations []string          `json:"recommendations,omitempty"`
	Summary         string            `json:"summary,omitempty"`
}

func (g GeneratedContent) IsPending() bool {
	return g.Status == "" || g.Status == ContentPending
}

type PlannedActivity struct {
	Time        string `json:"time,omitempty"`
	Name        string `json:"name"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
}

type Itinerary struct {
	ID               string           `json:"id"`
	TripID           string           `json:"trip_id"`
	DayNumber        int              `json:"day_number"`
	GeneratedContent GeneratedContent `json:"generated_content"`
	CreatedAt        string           `json:"created_at" format:"date-time"`
	UpdatedAt        string           `json:"updated_at" format:"date-time"`
}

type Activity struct {
	ID          string  `json:"id"`
	ItineraryID string  `json:"itinerary_id"`
	Name        string  `json:"name"`
	Time        string  `json:"time"`
	Location    *string `json:"location,omitempty"`
	Description *string `json:"description,omitempty"`
	Duration    *string `json:"duration,omitempty"`
	Order       int     `json:"order"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

// ActivityPatch carries a partial update; nil fields are left as stored.
type ActivityPatch struct {
	ID          string  `json:"id"`
	Name        *string `json:"name,omitempty"`
	Time        *string `json:"time,omitempty"`
	Location    *string `json:"location,omitempty"`
	Description *string `json:"description,omitempty"`
	Duration    *string `json:"duration,omitempty"`
	Order       *int    `json:"order,omitempty"`
}

func (p ActivityPatch) Empty() bool {
	return p.Name == nil && p.Time == nil && p.Location == nil && p.Description == nil && p.Duration == nil && p.Order == nil
}

type NewActivity struct {
	ItineraryID string  `json:"itinerary_id"`
	Name        string  `json:"name"`
	Time        string  `json:"time"`
	Location    *string `json:"location,omitempty"`
	Description *string `json:"description,omitempty"`
	Duration    *string `json:"duration,omitempty"`
	Order       int     `json:"order"`
}

type OrderUpdate struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

type Profile struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FullName  *string `json:"full_name,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

type SavedTrip struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	TripID    string `json:"trip_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type SharedTrip struct {
	ID              string `json:"id"`
	TripID          string `json:"trip_id"`
	SharedBy        string `json:"shared_by"`
	SharedWith      string `json:"shared_with"`
	PermissionLevel string `json:"permission_level" enum:"view,edit"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type DashboardEntry struct {
	Trip            Trip   `json:"trip"`
	Relation        string `json:"relation" enum:"owned,saved,shared"`
	PermissionLevel string `json:"permission_level,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	TripID     string `json:"trip_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
