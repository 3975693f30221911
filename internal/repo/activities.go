package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dcossios/TravelAgent/internal/domain"
)

const activityColumns = `id,itinerary_id,name,time,location,description,duration,"order",created_at,updated_at`

func scanActivity(row scanner) (domain.Activity, error) {
	var a domain.Activity
	var location, description, duration sql.NullString
	err := row.Scan(&a.ID, &a.ItineraryID, &a.Name, &a.Time, &location, &description, &duration, &a.Order, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Location = stringPtr(location)
	a.Description = stringPtr(description)
	a.Duration = stringPtr(duration)
	return a, nil
}

func (r Repo) InsertActivity(ctx context.Context, tx *sql.Tx, a domain.Activity) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO activities(`+activityColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ItineraryID, a.Name, a.Time, nullableStringPtr(a.Location), nullableStringPtr(a.Description), nullableStringPtr(a.Duration),
		a.Order, a.CreatedAt, a.UpdatedAt)
	return mapConstraint(err)
}

func (r Repo) GetActivity(ctx context.Context, tx *sql.Tx, id string) (domain.Activity, error) {
	return scanActivity(r.conn(tx).QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id=?`, id))
}

// ActivityTripID resolves the trip an activity belongs to.
func (r Repo) ActivityTripID(ctx context.Context, tx *sql.Tx, activityID string) (string, error) {
	var tripID string
	err := r.conn(tx).QueryRowContext(ctx, `SELECT i.trip_id FROM activities a JOIN itineraries i ON i.id=a.itinerary_id WHERE a.id=?`, activityID).Scan(&tripID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return tripID, err
}

// UpdateActivity applies the non-nil fields of patch and returns the stored row.
func (r Repo) UpdateActivity(ctx context.Context, tx *sql.Tx, patch domain.ActivityPatch) (domain.Activity, error) {
	var (
		fields []string
		args   []any
	)
	set := func(col string, v any) {
		fields = append(fields, col+"=?")
		args = append(args, v)
	}
	if patch.Name != nil {
		set("name", *patch.Name)
	}
	if patch.Time != nil {
		set("time", *patch.Time)
	}
	if patch.Location != nil {
		set("location", nullableStringPtr(patch.Location))
	}
	if patch.Description != nil {
		set("description", nullableStringPtr(patch.Description))
	}
	if patch.Duration != nil {
		set("duration", nullableStringPtr(patch.Duration))
	}
	if patch.Order != nil {
		set(`"order"`, *patch.Order)
	}
	if len(fields) > 0 {
		set("updated_at", r.now())
		args = append(args, patch.ID)
		res, err := r.conn(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE activities SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
		if err != nil {
			return domain.Activity{}, err
		}
		if err := affectedOrNotFound(res); err != nil {
			return domain.Activity{}, err
		}
	}
	return r.GetActivity(ctx, tx, patch.ID)
}

func (r Repo) DeleteActivity(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.conn(tx).ExecContext(ctx, `DELETE FROM activities WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// ListActivities returns activities of the given itineraries ordered by order (then id for ties).
func (r Repo) ListActivities(ctx context.Context, tx *sql.Tx, itineraryIDs []string) ([]domain.Activity, error) {
	if len(itineraryIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(itineraryIDs)), ",")
	args := make([]any, 0, len(itineraryIDs))
	for _, id := range itineraryIDs {
		args = append(args, id)
	}
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE itinerary_id IN (`+placeholders+`) ORDER BY "order" ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// SetActivityOrder writes one order value; a missing id is ErrNotFound.
func (r Repo) SetActivityOrder(ctx context.Context, tx *sql.Tx, id string, order int) error {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE activities SET "order"=?, updated_at=? WHERE id=?`, order, r.now(), id)
	if err != nil {
		return err
	}
	if err := affectedOrNotFound(res); err != nil {
		return fmt.Errorf("activity %s: %w", id, err)
	}
	return nil
}
