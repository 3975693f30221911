package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dcossios/TravelAgent/internal/domain"
)

// Repo is the unscoped data layer. Callers that act for a user go through Scoped.
type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("already exists")
	ErrContentRegression = errors.New("generated content cannot return to pending")
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) conn(tx *sql.Tx) dbtx {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) now() string {
	if r.Now != nil {
		return r.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// mapConstraint turns driver constraint failures into repo sentinels.
func mapConstraint(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"), strings.Contains(msg, "PRIMARY KEY"):
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: referenced row missing", ErrNotFound)
	}
	return err
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const tripColumns = `id,user_id,destination,start_date,end_date,budget,status,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrip(row scanner) (domain.Trip, error) {
	var t domain.Trip
	var budget sql.NullFloat64
	err := row.Scan(&t.ID, &t.UserID, &t.Destination, &t.StartDate, &t.EndDate, &budget, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if budget.Valid {
		b := budget.Float64
		t.Budget = &b
	}
	return t, nil
}

func (r Repo) InsertTrip(ctx context.Context, tx *sql.Tx, t domain.Trip) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO trips(`+tripColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.UserID, t.Destination, t.StartDate, t.EndDate, nullableFloatPtr(t.Budget), t.Status, t.CreatedAt, t.UpdatedAt)
	return mapConstraint(err)
}

func (r Repo) GetTrip(ctx context.Context, tx *sql.Tx, id string) (domain.Trip, error) {
	return scanTrip(r.conn(tx).QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id=?`, id))
}

func (r Repo) UpdateTripStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE trips SET status=?, updated_at=? WHERE id=?`, status, r.now(), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) ListTripsByOwner(ctx context.Context, userID string) ([]domain.Trip, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

const itineraryColumns = `id,trip_id,day_number,generated_content,created_at,updated_at`

func scanItinerary(row scanner) (domain.Itinerary, error) {
	var it domain.Itinerary
	var content string
	err := row.Scan(&it.ID, &it.TripID, &it.DayNumber, &content, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if content != "" {
		if err := json.Unmarshal([]byte(content), &it.GeneratedContent); err != nil {
			return it, fmt.Errorf("itinerary %s: decode generated_content: %w", it.ID, err)
		}
	}
	return it, nil
}

func (r Repo) InsertItinerary(ctx context.Context, tx *sql.Tx, it domain.Itinerary) error {
	if it.GeneratedContent.Status == "" {
		it.GeneratedContent.Status = domain.ContentPending
	}
	payload, err := json.Marshal(it.GeneratedContent)
	if err != nil {
		return err
	}
	_, err = r.conn(tx).ExecContext(ctx, `INSERT INTO itineraries(`+itineraryColumns+`) VALUES (?,?,?,?,?,?)`,
		it.ID, it.TripID, it.DayNumber, string(payload), it.CreatedAt, it.UpdatedAt)
	return mapConstraint(err)
}

func (r Repo) GetItinerary(ctx context.Context, tx *sql.Tx, id string) (domain.Itinerary, error) {
	return scanItinerary(r.conn(tx).QueryRowContext(ctx, `SELECT `+itineraryColumns+` FROM itineraries WHERE id=?`, id))
}

// ListItineraries returns a trip's days ordered by day_number.
func (r Repo) ListItineraries(ctx context.Context, tx *sql.Tx, tripID string) ([]domain.Itinerary, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT `+itineraryColumns+` FROM itineraries WHERE trip_id=? ORDER BY day_number ASC`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Itinerary
	for rows.Next() {
		it, err := scanItinerary(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// UpdateItineraryContent replaces generated_content. A populated day never goes back to pending.
func (r Repo) UpdateItineraryContent(ctx context.Context, tx *sql.Tx, id string, content domain.GeneratedContent) (domain.Itinerary, error) {
	current, err := r.GetItinerary(ctx, tx, id)
	if err != nil {
		return domain.Itinerary{}, err
	}
	if content.Status == "" {
		content.Status = domain.ContentPending
	}
	if !current.GeneratedContent.IsPending() && content.IsPending() {
		return domain.Itinerary{}, ErrContentRegression
	}
	payload, err := json.Marshal(content)
	if err != nil {
		return domain.Itinerary{}, err
	}
	now := r.now()
	if _, err := r.conn(tx).ExecContext(ctx, `UPDATE itineraries SET generated_content=?, updated_at=? WHERE id=?`, string(payload), now, id); err != nil {
		return domain.Itinerary{}, err
	}
	current.GeneratedContent = content
	current.UpdatedAt = now
	return current, nil
}
