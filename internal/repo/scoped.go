package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dcossios/TravelAgent/internal/domain"
	"github.com/dcossios/TravelAgent/internal/engine/auth"
)

// Scoped is the persistence gateway for one identity. Rows the identity
// cannot see are reported exactly as missing rows.
type Scoped struct {
	Repo  Repo
	Auth  auth.Service
	Scope auth.Scope
}

func NewScoped(r Repo, scope auth.Scope) Scoped {
	return Scoped{Repo: r, Auth: auth.Service{DB: r.DB}, Scope: scope}
}

// visibleTrip renders the read predicate for a trips alias.
func visibleTrip(scope auth.Scope, alias string) (string, []any) {
	if scope.Service {
		return "1=1", nil
	}
	return fmt.Sprintf("(%[1]s.user_id=? OR EXISTS (SELECT 1 FROM shared_trips st WHERE st.trip_id=%[1]s.id AND st.shared_with=?))", alias),
		[]any{scope.ActorID, scope.ActorID}
}

func prefixed(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ",")
}

func (s Scoped) guard() error {
	if !s.Scope.Valid() {
		return errors.New("authenticated identity required")
	}
	return nil
}

func (s Scoped) requireWrite(ctx context.Context, tx *sql.Tx, tripID, perm string) error {
	access, err := s.Auth.TripAccess(ctx, tx, s.Scope, tripID)
	if err != nil {
		return err
	}
	if !access.CanRead() {
		return ErrNotFound
	}
	if !access.CanWrite() {
		return auth.ForbiddenError{Permission: perm}
	}
	return nil
}

func (s Scoped) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s Scoped) GetTrip(ctx context.Context, id string) (domain.Trip, error) {
	if err := s.guard(); err != nil {
		return domain.Trip{}, err
	}
	clause, args := visibleTrip(s.Scope, "t")
	args = append([]any{id}, args...)
	return scanTrip(s.Repo.DB.QueryRowContext(ctx, `SELECT `+prefixed(tripColumns, "t")+` FROM trips t WHERE t.id=? AND `+clause, args...))
}

// ListItineraries returns visible days ordered by day_number; an invisible trip yields none.
func (s Scoped) ListItineraries(ctx context.Context, tripID string) ([]domain.Itinerary, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	clause, args := visibleTrip(s.Scope, "t")
	args = append([]any{tripID}, args...)
	rows, err := s.Repo.DB.QueryContext(ctx, `SELECT `+prefixed(itineraryColumns, "i")+` FROM itineraries i JOIN trips t ON t.id=i.trip_id
WHERE i.trip_id=? AND `+clause+` ORDER BY i.day_number ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Itinerary{}
	for rows.Next() {
		it, err := scanItinerary(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (s Scoped) ListActivities(ctx context.Context, itineraryIDs []string) ([]domain.Activity, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	res := []domain.Activity{}
	if len(itineraryIDs) == 0 {
		return res, nil
	}
	clause, visArgs := visibleTrip(s.Scope, "t")
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(itineraryIDs)), ",")
	args := make([]any, 0, len(itineraryIDs)+len(visArgs))
	for _, id := range itineraryIDs {
		args = append(args, id)
	}
	args = append(args, visArgs...)
	rows, err := s.Repo.DB.QueryContext(ctx, `SELECT `+prefixed(activityColumns, "a")+` FROM activities a
JOIN itineraries i ON i.id=a.itinerary_id JOIN trips t ON t.id=i.trip_id
WHERE a.itinerary_id IN (`+placeholders+`) AND `+clause+` ORDER BY a."order" ASC, a.id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s Scoped) InsertActivity(ctx context.Context, n domain.NewActivity) (domain.Activity, error) {
	if err := s.guard(); err != nil {
		return domain.Activity{}, err
	}
	if strings.TrimSpace(n.Name) == "" {
		return domain.Activity{}, errors.New("activity name is required")
	}
	if strings.TrimSpace(n.Time) == "" {
		return domain.Activity{}, errors.New("activity time is required")
	}
	var created domain.Activity
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		it, err := s.Repo.GetItinerary(ctx, tx, n.ItineraryID)
		if err != nil {
			return err
		}
		if err := s.requireWrite(ctx, tx, it.TripID, auth.PermActivityEdit); err != nil {
			return err
		}
		now := s.Repo.now()
		a := domain.Activity{
			ID:          uuid.NewString(),
			ItineraryID: n.ItineraryID,
			Name:        n.Name,
			Time:        n.Time,
			Location:    n.Location,
			Description: n.Description,
			Duration:    n.Duration,
			Order:       n.Order,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.InsertActivity(ctx, tx, a); err != nil {
			return err
		}
		created, err = s.Repo.GetActivity(ctx, tx, a.ID)
		return err
	})
	return created, err
}

func (s Scoped) UpdateActivity(ctx context.Context, patch domain.ActivityPatch) (domain.Activity, error) {
	if err := s.guard(); err != nil {
		return domain.Activity{}, err
	}
	var updated domain.Activity
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		tripID, err := s.Repo.ActivityTripID(ctx, tx, patch.ID)
		if err != nil {
			return err
		}
		if err := s.requireWrite(ctx, tx, tripID, auth.PermActivityEdit); err != nil {
			return err
		}
		updated, err = s.Repo.UpdateActivity(ctx, tx, patch)
		return err
	})
	return updated, err
}

func (s Scoped) DeleteActivity(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		tripID, err := s.Repo.ActivityTripID(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.requireWrite(ctx, tx, tripID, auth.PermActivityEdit); err != nil {
			return err
		}
		return s.Repo.DeleteActivity(ctx, tx, id)
	})
}

// UpsertActivityOrders writes the whole batch in one transaction: every row
// is updated or none is.
func (s Scoped) UpsertActivityOrders(ctx context.Context, updates []domain.OrderUpdate) error {
	if err := s.guard(); err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		checked := map[string]bool{}
		for _, u := range updates {
			tripID, err := s.Repo.ActivityTripID(ctx, tx, u.ID)
			if err != nil {
				return fmt.Errorf("activity %s: %w", u.ID, err)
			}
			if !checked[tripID] {
				if err := s.requireWrite(ctx, tx, tripID, auth.PermActivityEdit); err != nil {
					return err
				}
				checked[tripID] = true
			}
			if err := s.Repo.SetActivityOrder(ctx, tx, u.ID, u.Order); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateItineraryContent is the write path of the generation service.
func (s Scoped) UpdateItineraryContent(ctx context.Context, id string, content domain.GeneratedContent) (domain.Itinerary, error) {
	if err := s.guard(); err != nil {
		return domain.Itinerary{}, err
	}
	var updated domain.Itinerary
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		it, err := s.Repo.GetItinerary(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.requireWrite(ctx, tx, it.TripID, auth.PermTripWrite); err != nil {
			return err
		}
		updated, err = s.Repo.UpdateItineraryContent(ctx, tx, id, content)
		return err
	})
	return updated, err
}

func (s Scoped) UpdateTripStatus(ctx context.Context, id, status string) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireWrite(ctx, tx, id, auth.PermTripWrite); err != nil {
			return err
		}
		return s.Repo.UpdateTripStatus(ctx, tx, id, status)
	})
}
