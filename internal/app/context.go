package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/dcossios/TravelAgent/internal/config"
	"github.com/dcossios/TravelAgent/internal/db"
	"github.com/dcossios/TravelAgent/internal/domain"
	"github.com/dcossios/TravelAgent/internal/engine"
	"github.com/dcossios/TravelAgent/internal/engine/auth"
	"github.com/dcossios/TravelAgent/internal/migrate"
	"github.com/dcossios/TravelAgent/internal/repo"
	"github.com/dcossios/TravelAgent/internal/store"
	tasdk "github.com/dcossios/TravelAgent/sdk/go"
)

// Backend is everything the CLI does with trips, served either by the local
// database or by a remote API.
type Backend interface {
	store.Gateway
	CreateTrip(ctx context.Context, in tasdk.TripInput) (domain.Trip, []domain.Itinerary, error)
	TriggerGeneration(ctx context.Context, tripID string) error
	SaveTrip(ctx context.Context, tripID string) (domain.SavedTrip, error)
	UnsaveTrip(ctx context.Context, tripID string) error
	ShareTrip(ctx context.Context, tripID, email, permission string) (domain.SharedTrip, error)
	Dashboard(ctx context.Context) ([]domain.DashboardEntry, error)
	Events(ctx context.Context, tripID string, limit int) ([]domain.Event, error)
}

// SessionOptions select the backend. APIURL switches to the remote API.
type SessionOptions struct {
	Workspace string
	ActorID   string
	APIURL    string
	Token     string
	Config    *config.Config
}

// Session is an opened backend plus what it needs to be released.
type Session struct {
	Backend Backend
	Remote  bool
	Config  *config.Config
	conn    *sql.DB
}

func (s *Session) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// EnvPath is the workspace .env file.
func EnvPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".env")
}

// LoadEnv exports the workspace .env into the process environment without
// overriding variables that are already set.
func LoadEnv(workspace string) error {
	path := EnvPath(workspace)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// SetEnvValue writes key=value into the workspace .env, keeping other keys.
func SetEnvValue(workspace, key, value string) error {
	path := EnvPath(workspace)
	values, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		values = map[string]string{}
	}
	values[key] = value
	return godotenv.Write(values, path)
}

// ResolveConfig reads travelagent.yml from the workspace, falling back to the
// built-in defaults when the file is absent.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// Open builds the session backend.
func Open(ctx context.Context, opts SessionOptions) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = ResolveConfig(opts.Workspace); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(opts.APIURL) != "" {
		c := tasdk.New(opts.APIURL)
		if cfg.Server.BasePath != "" {
			c.BasePath = cfg.Server.BasePath
		}
		c.BearerToken = opts.Token
		if c.Timeout < cfg.Generation.Timeout.Duration {
			c.Timeout = cfg.Generation.Timeout.Duration
		}
		return &Session{Backend: remote{c}, Remote: true, Config: cfg}, nil
	}

	actor := strings.TrimSpace(opts.ActorID)
	if actor == "" {
		return nil, fmt.Errorf("actor id required; use --actor-id")
	}
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	e := engine.New(conn, cfg)
	scope := auth.UserScope(actor)
	if _, err := e.SyncProfile(ctx, scope, "", ""); err != nil {
		conn.Close()
		return nil, err
	}
	return &Session{
		Backend: local{Scoped: e.Gateway(scope), engine: e, scope: scope},
		Config:  cfg,
		conn:    conn,
	}, nil
}

type local struct {
	repo.Scoped
	engine engine.Engine
	scope  auth.Scope
}

func (l local) CreateTrip(ctx context.Context, in tasdk.TripInput) (domain.Trip, []domain.Itinerary, error) {
	return l.engine.CreateTrip(ctx, l.scope, engine.TripCreateOptions{
		Destination: in.Destination,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		Budget:      in.Budget,
		Interests:   in.Interests,
		Preferences: in.Preferences,
	})
}

func (l local) TriggerGeneration(ctx context.Context, tripID string) error {
	_, err := l.engine.TriggerGeneration(ctx, l.scope, tripID)
	return err
}

func (l local) SaveTrip(ctx context.Context, tripID string) (domain.SavedTrip, error) {
	return l.engine.SaveTrip(ctx, l.scope, tripID)
}

func (l local) UnsaveTrip(ctx context.Context, tripID string) error {
	return l.engine.UnsaveTrip(ctx, l.scope, tripID)
}

func (l local) ShareTrip(ctx context.Context, tripID, email, permission string) (domain.SharedTrip, error) {
	return l.engine.ShareTrip(ctx, l.scope, engine.ShareOptions{TripID: tripID, Email: email, Permission: permission})
}

func (l local) Dashboard(ctx context.Context) ([]domain.DashboardEntry, error) {
	return l.engine.Dashboard(ctx, l.scope)
}

func (l local) Events(ctx context.Context, tripID string, limit int) ([]domain.Event, error) {
	return l.engine.ListEvents(ctx, l.scope, tripID, limit)
}

type remote struct {
	*tasdk.Client
}

func (r remote) CreateTrip(ctx context.Context, in tasdk.TripInput) (domain.Trip, []domain.Itinerary, error) {
	detail, err := r.Client.CreateTrip(ctx, in)
	return detail.Trip, detail.Itineraries, err
}

func (r remote) Events(ctx context.Context, tripID string, limit int) ([]domain.Event, error) {
	items, err := r.Client.Events(ctx, tripID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(items))
	for _, it := range items {
		payload := ""
		if it.Payload != nil {
			b, _ := json.Marshal(it.Payload)
			payload = string(b)
		}
		out = append(out, domain.Event{
			ID:         it.ID,
			TS:         it.TS,
			Type:       it.Type,
			TripID:     it.TripID,
			EntityKind: it.EntityKind,
			EntityID:   it.EntityID,
			ActorID:    it.ActorID,
			Payload:    payload,
		})
	}
	return out, nil
}

// IsNotFound reports a missing or invisible row from either backend.
func IsNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound) || errors.Is(err, tasdk.ErrNotFound)
}
