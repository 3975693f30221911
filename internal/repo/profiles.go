package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/dcossios/TravelAgent/internal/domain"
)

const profileColumns = `id,email,full_name,created_at,updated_at`

func scanProfile(row scanner) (domain.Profile, error) {
	var p domain.Profile
	var fullName sql.NullString
	err := row.Scan(&p.ID, &p.Email, &fullName, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	p.FullName = stringPtr(fullName)
	return p, err
}

// PlaceholderEmail is stored for identities that never presented an email.
func PlaceholderEmail(id string) string {
	return id + "@users.travelagent.local"
}

// EnsureProfile inserts the profile or refreshes email/full_name when provided.
func (r Repo) EnsureProfile(ctx context.Context, tx *sql.Tx, id, email string, fullName *string) (domain.Profile, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Profile{}, errors.New("profile id required")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	now := r.now()
	insertEmail := email
	if insertEmail == "" {
		insertEmail = PlaceholderEmail(id)
	}
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO profiles(`+profileColumns+`) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  email=CASE WHEN ?<>'' THEN excluded.email ELSE profiles.email END,
  full_name=COALESCE(excluded.full_name, profiles.full_name),
  updated_at=excluded.updated_at`,
		id, insertEmail, nullableStringPtr(fullName), now, now, email)
	if err != nil {
		return domain.Profile{}, mapConstraint(err)
	}
	return r.GetProfile(ctx, tx, id)
}

func (r Repo) GetProfile(ctx context.Context, tx *sql.Tx, id string) (domain.Profile, error) {
	return scanProfile(r.conn(tx).QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=?`, id))
}

func (r Repo) GetProfileByEmail(ctx context.Context, tx *sql.Tx, email string) (domain.Profile, error) {
	return scanProfile(r.conn(tx).QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE email=?`, strings.ToLower(strings.TrimSpace(email))))
}
