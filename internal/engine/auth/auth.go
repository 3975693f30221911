package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ForbiddenError indicates the identity can see a row but not change it.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

const (
	PermTripRead     = "trip.read"
	PermTripWrite    = "trip.write"
	PermTripShare    = "trip.share"
	PermActivityEdit = "activity.write"
)

// ServiceActor is recorded as the actor for service-role writes.
const ServiceActor = "service_role"

// Scope is the identity every gateway call runs as.
type Scope struct {
	ActorID string
	Service bool
}

func ServiceScope() Scope      { return Scope{ActorID: ServiceActor, Service: true} }
func UserScope(id string) Scope { return Scope{ActorID: id} }

func (s Scope) Valid() bool { return s.Service || strings.TrimSpace(s.ActorID) != "" }

// Access is the effective level an identity holds on one trip.
type Access int

const (
	AccessNone Access = iota
	AccessView
	AccessEdit
	AccessOwner
)

func (a Access) CanRead() bool  { return a >= AccessView }
func (a Access) CanWrite() bool { return a >= AccessEdit }
func (a Access) IsOwner() bool  { return a == AccessOwner }

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Service resolves row-level access against the trips and shared_trips tables.
type Service struct {
	DB *sql.DB
}

// TripAccess returns AccessNone for a missing trip; callers treat that as not found.
func (s Service) TripAccess(ctx context.Context, tx *sql.Tx, scope Scope, tripID string) (Access, error) {
	var q querier = s.DB
	if tx != nil {
		q = tx
	}
	var owner string
	var perm sql.NullString
	err := q.QueryRowContext(ctx, `
SELECT t.user_id,
       (SELECT st.permission_level FROM shared_trips st WHERE st.trip_id=t.id AND st.shared_with=? LIMIT 1)
FROM trips t WHERE t.id=?`, scope.ActorID, tripID).Scan(&owner, &perm)
	if errors.Is(err, sql.ErrNoRows) {
		return AccessNone, nil
	}
	if err != nil {
		return AccessNone, err
	}
	switch {
	case scope.Service, owner == scope.ActorID:
		return AccessOwner, nil
	case perm.Valid && perm.String == "edit":
		return AccessEdit, nil
	case perm.Valid:
		return AccessView, nil
	}
	return AccessNone, nil
}

// Claims carried by bearer tokens. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// SignToken mints an HS256 token for a user.
func SignToken(secret, subject, email, name string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject required")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
		Name:  name,
		Role:  "authenticated",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates an HS256 token and returns its claims.
func ParseToken(secret, token string) (*Claims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("subject claim required")
	}
	return claims, nil
}
