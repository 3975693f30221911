package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dcossios/TravelAgent/internal/config"
	"github.com/dcossios/TravelAgent/internal/domain"
	"github.com/dcossios/TravelAgent/internal/engine/auth"
	"github.com/dcossios/TravelAgent/internal/events"
	"github.com/dcossios/TravelAgent/internal/generation"
	"github.com/dcossios/TravelAgent/internal/repo"
	"github.com/dcossios/TravelAgent/internal/retry"
)

const dateLayout = "2006-01-02"

// MaxTripDays bounds the number of itinerary rows one trip may create.
const MaxTripDays = 90

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Now       func() time.Time
	Generator generation.Generator
	Retry     retry.Policy
	Logger    *log.Logger
	validate  *validator.Validate
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Now:      time.Now,
		Retry:    retry.Policy{Attempts: cfg.Generation.Attempts, Delay: cfg.Generation.Delay.Duration},
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	e.Generator = &generation.Client{
		URL:        cfg.Generation.URL,
		ServiceKey: cfg.Server.ServiceKey,
		Timeout:    cfg.Generation.Timeout.Duration,
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) validation() *validator.Validate {
	if e.validate != nil {
		return e.validate
	}
	return validator.New(validator.WithRequiredStructEnabled())
}

// Gateway returns the row-scoped persistence gateway for scope.
func (e Engine) Gateway(scope auth.Scope) repo.Scoped {
	r := e.Repo
	if r.Now == nil {
		r.Now = e.Now
	}
	return repo.NewScoped(r, scope)
}

// ValidationError reports missing or malformed user input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validationFrom(err error) error {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	f := fields[0]
	field := toSnake(f.Field())
	switch f.Tag() {
	case "required":
		return &ValidationError{Field: field, Message: "is required"}
	case "datetime":
		return &ValidationError{Field: field, Message: "must be a date (YYYY-MM-DD)"}
	case "email":
		return &ValidationError{Field: field, Message: "must be a valid email"}
	case "oneof":
		return &ValidationError{Field: field, Message: "must be one of " + f.Param()}
	}
	return &ValidationError{Field: field, Message: fmt.Sprintf("failed %s validation", f.Tag())}
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SplitLines turns free-form textarea input into trimmed, non-empty entries.
func SplitLines(s string) []string {
	var out []string
	for _, line := range strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' }) {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// TripCreateOptions are parameters for creating a trip.
type TripCreateOptions struct {
	Destination string   `validate:"required"`
	StartDate   string   `validate:"required,datetime=2006-01-02"`
	EndDate     string   `validate:"required,datetime=2006-01-02"`
	Budget      *float64 `validate:"omitempty,gte=0"`
	Interests   []string
	Preferences []string
	Email       string `validate:"omitempty,email"`
	FullName    string
}

// DayCount returns the inclusive number of days between two dates.
func DayCount(start, end string) (int, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return 0, &ValidationError{Field: "start_date", Message: "must be a date (YYYY-MM-DD)"}
	}
	en, err := time.Parse(dateLayout, end)
	if err != nil {
		return 0, &ValidationError{Field: "end_date", Message: "must be a date (YYYY-MM-DD)"}
	}
	if en.Before(s) {
		return 0, &ValidationError{Field: "end_date", Message: "must not be before start_date"}
	}
	return int(en.Sub(s).Hours()/24) + 1, nil
}

// CreateTrip stores a trip in generating status together with one pending
// itinerary row per day.
func (e Engine) CreateTrip(ctx context.Context, scope auth.Scope, opts TripCreateOptions) (domain.Trip, []domain.Itinerary, error) {
	if scope.Service || !scope.Valid() {
		return domain.Trip{}, nil, &ValidationError{Message: "a signed-in user is required to create trips"}
	}
	opts.Destination = strings.TrimSpace(opts.Destination)
	if err := e.validation().Struct(opts); err != nil {
		return domain.Trip{}, nil, validationFrom(err)
	}
	days, err := DayCount(opts.StartDate, opts.EndDate)
	if err != nil {
		return domain.Trip{}, nil, err
	}
	if days > MaxTripDays {
		return domain.Trip{}, nil, &ValidationError{Field: "end_date", Message: fmt.Sprintf("trips are limited to %d days", MaxTripDays)}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Trip{}, nil, err
	}
	defer tx.Rollback()

	var fullName *string
	if strings.TrimSpace(opts.FullName) != "" {
		name := strings.TrimSpace(opts.FullName)
		fullName = &name
	}
	if _, err := e.Repo.EnsureProfile(ctx, tx, scope.ActorID, opts.Email, fullName); err != nil {
		return domain.Trip{}, nil, fmt.Errorf("ensure profile: %w", err)
	}
	now := e.now().UTC().Format(time.RFC3339)
	trip := domain.Trip{
		ID:          uuid.NewString(),
		UserID:      scope.ActorID,
		Destination: opts.Destination,
		StartDate:   opts.StartDate,
		EndDate:     opts.EndDate,
		Budget:      opts.Budget,
		Status:      domain.TripGenerating,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertTrip(ctx, tx, trip); err != nil {
		return domain.Trip{}, nil, fmt.Errorf("insert trip: %w", err)
	}
	for day := 1; day <= days; day++ {
		it := domain.Itinerary{
			ID:        uuid.NewString(),
			TripID:    trip.ID,
			DayNumber: day,
			GeneratedContent: domain.GeneratedContent{
				Interests:   opts.Interests,
				Preferences: opts.Preferences,
				Status:      domain.ContentPending,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.Repo.InsertItinerary(ctx, tx, it); err != nil {
			return domain.Trip{}, nil, fmt.Errorf("insert itinerary day %d: %w", day, err)
		}
	}
	stored, err := e.Repo.ListItineraries(ctx, tx, trip.ID)
	if err != nil {
		return domain.Trip{}, nil, err
	}
	if len(stored) != days {
		return domain.Trip{}, nil, fmt.Errorf("expected %d itineraries, stored %d", days, len(stored))
	}
	if err := e.Events.Append(ctx, tx, events.TripCreated, trip.ID, "trip", trip.ID, scope.ActorID, events.EventPayload{
		"destination": trip.Destination, "days": days,
	}); err != nil {
		return domain.Trip{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Trip{}, nil, err
	}
	return trip, stored, nil
}

// TriggerGeneration asks the generation service to populate a trip. The
// trip is fetched with the caller's scope, so a trip the caller cannot see
// is retried and reported like a missing one. Days are read with the
// service scope.
func (e Engine) TriggerGeneration(ctx context.Context, scope auth.Scope, tripID string) (generation.Result, error) {
	if !scope.Valid() {
		return generation.Result{}, &generation.UnknownError{Err: errors.New("authenticated identity required")}
	}
	trigger := generation.Trigger{
		Source:    tripSource{trips: e.Gateway(scope), days: e.Gateway(auth.ServiceScope())},
		Generator: e.Generator,
		Policy:    e.Retry,
		Logger:    e.logger(),
	}
	res, err := trigger.Run(ctx, tripID)
	if err != nil {
		if appendErr := e.Events.Append(ctx, nil, events.GenerationFailed, tripID, "trip", tripID, scope.ActorID, events.EventPayload{
			"error": err.Error(),
		}); appendErr != nil {
			e.logger().Printf("generation: record failure for trip %s: %v", tripID, appendErr)
		}
		return generation.Result{}, err
	}
	if err := e.Events.Append(ctx, nil, events.GenerationTriggered, tripID, "trip", tripID, scope.ActorID, events.EventPayload{
		"days": res.Days,
	}); err != nil {
		e.logger().Printf("generation: record trigger for trip %s: %v", tripID, err)
	}
	return res, nil
}

type tripSource struct {
	trips repo.Scoped
	days  repo.Scoped
}

func (s tripSource) GetTrip(ctx context.Context, id string) (domain.Trip, error) {
	return s.trips.GetTrip(ctx, id)
}

func (s tripSource) ListItineraries(ctx context.Context, tripID string) ([]domain.Itinerary, error) {
	return s.days.ListItineraries(ctx, tripID)
}

func (e Engine) readableTrip(ctx context.Context, tx *sql.Tx, scope auth.Scope, tripID string) (auth.Access, error) {
	if !scope.Valid() {
		return auth.AccessNone, errors.New("authenticated identity required")
	}
	access, err := auth.Service{DB: e.DB}.TripAccess(ctx, tx, scope, tripID)
	if err != nil {
		return auth.AccessNone, err
	}
	if !access.CanRead() {
		return auth.AccessNone, repo.ErrNotFound
	}
	return access, nil
}

// SaveTrip adds a visible trip to the caller's dashboard.
func (e Engine) SaveTrip(ctx context.Context, scope auth.Scope, tripID string) (domain.SavedTrip, error) {
	if scope.Service {
		return domain.SavedTrip{}, &ValidationError{Message: "saving requires a user identity"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SavedTrip{}, err
	}
	defer tx.Rollback()
	if _, err := e.readableTrip(ctx, tx, scope, tripID); err != nil {
		return domain.SavedTrip{}, err
	}
	if _, err := e.Repo.EnsureProfile(ctx, tx, scope.ActorID, "", nil); err != nil {
		return domain.SavedTrip{}, fmt.Errorf("ensure profile: %w", err)
	}
	saved := domain.SavedTrip{
		ID:        uuid.NewString(),
		UserID:    scope.ActorID,
		TripID:    tripID,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertSavedTrip(ctx, tx, saved); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.SavedTrip{}, fmt.Errorf("trip already saved to dashboard: %w", err)
		}
		return domain.SavedTrip{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TripSaved, tripID, "saved_trip", saved.ID, scope.ActorID, nil); err != nil {
		return domain.SavedTrip{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SavedTrip{}, err
	}
	return saved, nil
}

// UnsaveTrip removes a trip from the caller's dashboard.
func (e Engine) UnsaveTrip(ctx context.Context, scope auth.Scope, tripID string) error {
	if !scope.Valid() || scope.Service {
		return &ValidationError{Message: "removing a saved trip requires a user identity"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteSavedTrip(ctx, tx, scope.ActorID, tripID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TripUnsaved, tripID, "trip", tripID, scope.ActorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

type ShareOptions struct {
	TripID     string `validate:"required"`
	Email      string `validate:"required,email"`
	Permission string `validate:"omitempty,oneof=view edit"`
}

// ShareTrip grants another registered user access to a trip the caller owns.
func (e Engine) ShareTrip(ctx context.Context, scope auth.Scope, opts ShareOptions) (domain.SharedTrip, error) {
	opts.Email = strings.TrimSpace(opts.Email)
	if err := e.validation().Struct(opts); err != nil {
		return domain.SharedTrip{}, validationFrom(err)
	}
	if opts.Permission == "" {
		opts.Permission = domain.PermissionView
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SharedTrip{}, err
	}
	defer tx.Rollback()
	access, err := e.readableTrip(ctx, tx, scope, opts.TripID)
	if err != nil {
		return domain.SharedTrip{}, err
	}
	if !access.IsOwner() {
		return domain.SharedTrip{}, auth.ForbiddenError{Permission: auth.PermTripShare}
	}
	target, err := e.Repo.GetProfileByEmail(ctx, tx, opts.Email)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.SharedTrip{}, fmt.Errorf("user not found: %w", repo.ErrNotFound)
	}
	if err != nil {
		return domain.SharedTrip{}, err
	}
	trip, err := e.Repo.GetTrip(ctx, tx, opts.TripID)
	if err != nil {
		return domain.SharedTrip{}, err
	}
	if target.ID == trip.UserID {
		return domain.SharedTrip{}, &ValidationError{Field: "email", Message: "cannot share a trip with its owner"}
	}
	share := domain.SharedTrip{
		ID:              uuid.NewString(),
		TripID:          trip.ID,
		SharedBy:        scope.ActorID,
		SharedWith:      target.ID,
		PermissionLevel: opts.Permission,
		CreatedAt:       e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertSharedTrip(ctx, tx, share); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.SharedTrip{}, fmt.Errorf("trip already shared with this user: %w", err)
		}
		return domain.SharedTrip{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TripShared, trip.ID, "shared_trip", share.ID, scope.ActorID, events.EventPayload{
		"shared_with": target.ID, "permission_level": share.PermissionLevel,
	}); err != nil {
		return domain.SharedTrip{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SharedTrip{}, err
	}
	return share, nil
}

func (e Engine) Dashboard(ctx context.Context, scope auth.Scope) ([]domain.DashboardEntry, error) {
	if !scope.Valid() || scope.Service {
		return nil, &ValidationError{Message: "dashboard requires a user identity"}
	}
	return e.Repo.Dashboard(ctx, scope.ActorID)
}

// ListEvents returns the newest events of a visible trip.
func (e Engine) ListEvents(ctx context.Context, scope auth.Scope, tripID string, limit int) ([]domain.Event, error) {
	if _, err := e.readableTrip(ctx, nil, scope, tripID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return e.Repo.LatestEvents(ctx, limit, 0, tripID, "")
}

// SyncProfile records the email and name a signed-in user presented.
func (e Engine) SyncProfile(ctx context.Context, scope auth.Scope, email, fullName string) (domain.Profile, error) {
	if !scope.Valid() || scope.Service {
		return domain.Profile{}, &ValidationError{Message: "profile requires a user identity"}
	}
	var name *string
	if strings.TrimSpace(fullName) != "" {
		n := strings.TrimSpace(fullName)
		name = &n
	}
	return e.Repo.EnsureProfile(ctx, nil, scope.ActorID, email, name)
}

// CreateAPIKey mints a personal access key. The raw key is only returned here.
func (e Engine) CreateAPIKey(ctx context.Context, scope auth.Scope, name string) (domain.APIKey, string, error) {
	if !scope.Valid() || scope.Service {
		return domain.APIKey{}, "", &ValidationError{Message: "api keys belong to a user identity"}
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	raw := "ta_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   scope.ActorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if _, err := e.Repo.EnsureProfile(ctx, nil, scope.ActorID, "", nil); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}
