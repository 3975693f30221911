package repo

import (
	"context"
	"database/sql"

	"github.com/dcossios/TravelAgent/internal/domain"
)

func (r Repo) InsertSavedTrip(ctx context.Context, tx *sql.Tx, s domain.SavedTrip) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO saved_trips(id,user_id,trip_id,created_at) VALUES (?,?,?,?)`,
		s.ID, s.UserID, s.TripID, s.CreatedAt)
	return mapConstraint(err)
}

func (r Repo) DeleteSavedTrip(ctx context.Context, tx *sql.Tx, userID, tripID string) error {
	res, err := r.conn(tx).ExecContext(ctx, `DELETE FROM saved_trips WHERE user_id=? AND trip_id=?`, userID, tripID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) InsertSharedTrip(ctx context.Context, tx *sql.Tx, s domain.SharedTrip) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO shared_trips(id,trip_id,shared_by,shared_with,permission_level,created_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.TripID, s.SharedBy, s.SharedWith, s.PermissionLevel, s.CreatedAt)
	return mapConstraint(err)
}

func (r Repo) ListSharedTrips(ctx context.Context, tx *sql.Tx, tripID string) ([]domain.SharedTrip, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT id,trip_id,shared_by,shared_with,permission_level,created_at FROM shared_trips WHERE trip_id=? ORDER BY created_at ASC`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SharedTrip
	for rows.Next() {
		var s domain.SharedTrip
		if err := rows.Scan(&s.ID, &s.TripID, &s.SharedBy, &s.SharedWith, &s.PermissionLevel, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Dashboard lists every trip the user owns, saved, or received, one entry per trip.
// A trip reachable several ways is reported once, preferring owned, then saved.
func (r Repo) Dashboard(ctx context.Context, userID string) ([]domain.DashboardEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT 'owned' AS relation, '' AS perm, t.id,t.user_id,t.destination,t.start_date,t.end_date,t.budget,t.status,t.created_at,t.updated_at, 0 AS rank
FROM trips t WHERE t.user_id=?
UNION ALL
SELECT 'saved', '', t.id,t.user_id,t.destination,t.start_date,t.end_date,t.budget,t.status,t.created_at,t.updated_at, 1
FROM saved_trips s JOIN trips t ON t.id=s.trip_id WHERE s.user_id=?
UNION ALL
SELECT 'shared', st.permission_level, t.id,t.user_id,t.destination,t.start_date,t.end_date,t.budget,t.status,t.created_at,t.updated_at, 2
FROM shared_trips st JOIN trips t ON t.id=st.trip_id WHERE st.shared_with=?
ORDER BY rank ASC, created_at DESC`, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seen := map[string]bool{}
	res := []domain.DashboardEntry{}
	for rows.Next() {
		var e domain.DashboardEntry
		var budget sql.NullFloat64
		var rank int
		t := &e.Trip
		if err := rows.Scan(&e.Relation, &e.PermissionLevel, &t.ID, &t.UserID, &t.Destination, &t.StartDate, &t.EndDate, &budget, &t.Status, &t.CreatedAt, &t.UpdatedAt, &rank); err != nil {
			return nil, err
		}
		if budget.Valid {
			b := budget.Float64
			t.Budget = &b
		}
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		res = append(res, e)
	}
	return res, rows.Err()
}
