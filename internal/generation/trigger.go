package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dcossios/TravelAgent/internal/domain"
	"github.com/dcossios/TravelAgent/internal/retry"
)

// Source is the read side of the persistence gateway the trigger needs.
type Source interface {
	GetTrip(ctx context.Context, id string) (domain.Trip, error)
	ListItineraries(ctx context.Context, tripID string) ([]domain.Itinerary, error)
}

// Generator invokes the generation service.
type Generator interface {
	Generate(ctx context.Context, tripID string, days int) (json.RawMessage, error)
}

type Result struct {
	TripID  string          `json:"trip_id"`
	Days    int             `json:"days"`
	Content json.RawMessage `json:"content,omitempty"`
}

var errNoItineraries = errors.New("no itineraries returned")

// Trigger loads a trip and its days with bounded retry, then asks the
// generation service to populate them. It does not persist the response.
type Trigger struct {
	Source    Source
	Generator Generator
	Policy    retry.Policy
	Logger    *log.Logger
}

func (t Trigger) logger() *log.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return log.Default()
}

func (t Trigger) policy(what string) retry.Policy {
	p := t.Policy
	if p.Attempts == 0 {
		p.Attempts = retry.DefaultAttempts
		p.Delay = retry.DefaultDelay
	}
	notify := p.Notify
	p.Notify = func(attempt int, err error, wait time.Duration) {
		t.logger().Printf("generation: fetch %s attempt %d failed: %v; retrying in %s", what, attempt, err, wait)
		if notify != nil {
			notify(attempt, err, wait)
		}
	}
	return p
}

func (t Trigger) Run(ctx context.Context, tripID string) (Result, error) {
	if t.Source == nil || t.Generator == nil {
		return Result{}, &UnknownError{Err: errors.New("generation trigger not configured")}
	}
	var trip domain.Trip
	err := retry.Do(ctx, t.policy("trip"), func(ctx context.Context) error {
		var err error
		trip, err = t.Source.GetTrip(ctx, tripID)
		return err
	})
	if err != nil {
		return Result{}, t.fetchError(ctx, "trip", tripID, err)
	}

	var itineraries []domain.Itinerary
	err = retry.Do(ctx, t.policy("itineraries"), func(ctx context.Context) error {
		items, err := t.Source.ListItineraries(ctx, trip.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return errNoItineraries
		}
		itineraries = items
		return nil
	})
	if err != nil {
		return Result{}, t.fetchError(ctx, "itineraries", tripID, err)
	}

	days := len(itineraries)
	t.logger().Printf("generation: trip %s has %d days, calling generation service", trip.ID, days)
	content, err := t.Generator.Generate(ctx, trip.ID, days)
	if err != nil {
		var up *UpstreamError
		if errors.As(err, &up) {
			t.logger().Printf("generation: service rejected trip %s: status=%d detail=%s", trip.ID, up.Status, up.Error())
			return Result{}, up
		}
		var unk *UnknownError
		if errors.As(err, &unk) {
			return Result{}, unk
		}
		return Result{}, &UnknownError{Err: err}
	}
	t.logger().Printf("generation: trip %s dispatched", trip.ID)
	return Result{TripID: trip.ID, Days: days, Content: content}, nil
}

func (t Trigger) fetchError(ctx context.Context, entity, tripID string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &UnknownError{Err: fmt.Errorf("fetch %s: %w", entity, ctxErr)}
	}
	attempts := t.Policy.Attempts
	if attempts == 0 {
		attempts = retry.DefaultAttempts
	}
	if errors.Is(err, errNoItineraries) {
		err = nil
	}
	return &NotFoundError{Entity: entity, TripID: tripID, Attempts: attempts, Err: err}
}
