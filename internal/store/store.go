package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dcossios/TravelAgent/internal/domain"
	"github.com/dcossios/TravelAgent/internal/generation"
	"github.com/dcossios/TravelAgent/internal/reorder"
	"github.com/dcossios/TravelAgent/internal/retry"
)

// Gateway is the persistence surface the store works against. The local
// repo.Scoped gateway and the HTTP SDK client both satisfy it.
type Gateway interface {
	GetTrip(ctx context.Context, id string) (domain.Trip, error)
	ListItineraries(ctx context.Context, tripID string) ([]domain.Itinerary, error)
	ListActivities(ctx context.Context, itineraryIDs []string) ([]domain.Activity, error)
	InsertActivity(ctx context.Context, a domain.NewActivity) (domain.Activity, error)
	UpdateActivity(ctx context.Context, patch domain.ActivityPatch) (domain.Activity, error)
	DeleteActivity(ctx context.Context, id string) error
	UpsertActivityOrders(ctx context.Context, updates []domain.OrderUpdate) error
}

// State is a snapshot of the store. Err holds the typed error behind Error.
type State struct {
	CurrentTrip *domain.Trip       `json:"current_trip,omitempty"`
	Itineraries []domain.Itinerary `json:"itineraries"`
	Activities  []domain.Activity  `json:"activities"`
	IsLoading   bool               `json:"is_loading"`
	Error       string             `json:"error,omitempty"`
	Err         error              `json:"-"`
}

func (s State) clone() State {
	out := s
	if s.CurrentTrip != nil {
		trip := *s.CurrentTrip
		trip.Budget = clonePtr(trip.Budget)
		out.CurrentTrip = &trip
	}
	if s.Itineraries != nil {
		out.Itineraries = make([]domain.Itinerary, len(s.Itineraries))
		for i, it := range s.Itineraries {
			gc := &it.GeneratedContent
			gc.Interests = cloneSlice(gc.Interests)
			gc.Preferences = cloneSlice(gc.Preferences)
			gc.Activities = cloneSlice(gc.Activities)
			gc.Recommendations = cloneSlice(gc.Recommendations)
			out.Itineraries[i] = it
		}
	}
	if s.Activities != nil {
		out.Activities = make([]domain.Activity, len(s.Activities))
		for i, a := range s.Activities {
			a.Location = clonePtr(a.Location)
			a.Description = clonePtr(a.Description)
			a.Duration = clonePtr(a.Duration)
			out.Activities[i] = a
		}
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	return append(make([]T, 0, len(in)), in...)
}

// ActivitiesFor returns the activities of one itinerary in display order.
func (s State) ActivitiesFor(itineraryID string) []domain.Activity {
	var out []domain.Activity
	for _, a := range s.Activities {
		if a.ItineraryID == itineraryID {
			out = append(out, a)
		}
	}
	return reorder.Sorted(out)
}

// Store holds the trip being viewed or edited during one session. Calls are
// serialised; each returns the state it left behind.
type Store struct {
	gw     Gateway
	policy retry.Policy

	call      sync.Mutex
	mu        sync.Mutex
	state     State
	listeners map[int]func(State)
	nextID    int
}

type Option func(*Store)

// WithRetry sets the policy used when fetching trip data.
func WithRetry(p retry.Policy) Option {
	return func(s *Store) { s.policy = p }
}

func New(gw Gateway, opts ...Option) *Store {
	s := &Store{gw: gw, policy: retry.Default(), listeners: map[int]func(State){}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn for every state change and returns its cancel func.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) set(mutate func(*State)) State {
	s.mu.Lock()
	mutate(&s.state)
	snap := s.state.clone()
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap.clone())
	}
	return snap
}

// run brackets a gateway call with the loading flag. apply only runs when
// op succeeded, so a failure never touches data fields.
func (s *Store) run(op func() (func(*State), error)) State {
	s.call.Lock()
	defer s.call.Unlock()
	return s.runLocked(op)
}

// runLocked is run for callers already holding s.call.
func (s *Store) runLocked(op func() (func(*State), error)) State {
	s.set(func(st *State) {
		st.IsLoading = true
		st.Error = ""
		st.Err = nil
	})
	apply, err := op()
	return s.set(func(st *State) {
		st.IsLoading = false
		if err != nil {
			st.Error = err.Error()
			st.Err = err
			return
		}
		if apply != nil {
			apply(st)
		}
	})
}

func (s *Store) fetch(ctx context.Context, entity, tripID string, op func(ctx context.Context) error) error {
	err := retry.Do(ctx, s.policy, op)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	attempts := s.policy.Attempts
	if attempts == 0 {
		attempts = retry.DefaultAttempts
	}
	return &generation.NotFoundError{Entity: entity, TripID: tripID, Attempts: attempts, Err: err}
}

// FetchTripData replaces the trip, its days, and their activities.
func (s *Store) FetchTripData(ctx context.Context, tripID string) State {
	return s.run(func() (func(*State), error) {
		var trip domain.Trip
		if err := s.fetch(ctx, "trip", tripID, func(ctx context.Context) error {
			var err error
			trip, err = s.gw.GetTrip(ctx, tripID)
			return err
		}); err != nil {
			return nil, err
		}
		var itineraries []domain.Itinerary
		if err := s.fetch(ctx, "itineraries", tripID, func(ctx context.Context) error {
			var err error
			itineraries, err = s.gw.ListItineraries(ctx, trip.ID)
			return err
		}); err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(itineraries))
		for _, it := range itineraries {
			ids = append(ids, it.ID)
		}
		var activities []domain.Activity
		if len(ids) > 0 {
			var err error
			activities, err = s.gw.ListActivities(ctx, ids)
			if err != nil {
				return nil, fmt.Errorf("load activities: %w", err)
			}
		}
		return func(st *State) {
			st.CurrentTrip = &trip
			st.Itineraries = itineraries
			st.Activities = activities
		}, nil
	})
}

func (s *Store) UpdateActivity(ctx context.Context, patch domain.ActivityPatch) State {
	return s.run(func() (func(*State), error) {
		if patch.ID == "" {
			return nil, errors.New("activity id required")
		}
		confirmed, err := s.gw.UpdateActivity(ctx, patch)
		if err != nil {
			return nil, err
		}
		return func(st *State) {
			for i := range st.Activities {
				if st.Activities[i].ID == confirmed.ID {
					st.Activities[i] = merge(st.Activities[i], confirmed)
				}
			}
		}, nil
	})
}

// merge overlays the fields of the confirmed row onto the cached one.
func merge(local, confirmed domain.Activity) domain.Activity {
	out := local
	if confirmed.ItineraryID != "" {
		out.ItineraryID = confirmed.ItineraryID
	}
	if confirmed.Name != "" {
		out.Name = confirmed.Name
	}
	if confirmed.Time != "" {
		out.Time = confirmed.Time
	}
	out.Location = confirmed.Location
	out.Description = confirmed.Description
	out.Duration = confirmed.Duration
	out.Order = confirmed.Order
	if confirmed.CreatedAt != "" {
		out.CreatedAt = confirmed.CreatedAt
	}
	if confirmed.UpdatedAt != "" {
		out.UpdatedAt = confirmed.UpdatedAt
	}
	return out
}

func (s *Store) CreateActivity(ctx context.Context, a domain.NewActivity) State {
	return s.run(func() (func(*State), error) {
		created, err := s.gw.InsertActivity(ctx, a)
		if err != nil {
			return nil, err
		}
		return func(st *State) {
			st.Activities = append(st.Activities, created)
		}, nil
	})
}

func (s *Store) DeleteActivity(ctx context.Context, id string) State {
	return s.run(func() (func(*State), error) {
		if err := s.gw.DeleteActivity(ctx, id); err != nil {
			return nil, err
		}
		return func(st *State) {
			var kept []domain.Activity
			for _, a := range st.Activities {
				if a.ID != id {
					kept = append(kept, a)
				}
			}
			st.Activities = kept
		}, nil
	})
}

// ReorderActivities persists order values and updates only those fields.
// A batch the gateway partially applied is not rolled back.
func (s *Store) ReorderActivities(ctx context.Context, updates []domain.OrderUpdate) State {
	return s.run(s.reorder(ctx, updates))
}

func (s *Store) reorder(ctx context.Context, updates []domain.OrderUpdate) func() (func(*State), error) {
	return func() (func(*State), error) {
		if len(updates) == 0 {
			return nil, nil
		}
		if err := s.gw.UpsertActivityOrders(ctx, updates); err != nil {
			return nil, err
		}
		orders := make(map[string]int, len(updates))
		for _, u := range updates {
			orders[u.ID] = u.Order
		}
		return func(st *State) {
			for i := range st.Activities {
				if o, ok := orders[st.Activities[i].ID]; ok {
					st.Activities[i].Order = o
				}
			}
		}, nil
	}
}

// MoveActivity drops movedID onto targetID within one itinerary and persists
// the full resequence. The list is read under the same lock as the write.
func (s *Store) MoveActivity(ctx context.Context, itineraryID, movedID, targetID string) State {
	s.call.Lock()
	defer s.call.Unlock()
	current := s.Snapshot().ActivitiesFor(itineraryID)
	_, updates := reorder.Move(current, movedID, targetID)
	if len(updates) == 0 {
		return s.Snapshot()
	}
	return s.runLocked(s.reorder(ctx, updates))
}
