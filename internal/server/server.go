package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/dcossios/TravelAgent/internal/domain"
	"github.com/dcossios/TravelAgent/internal/engine"
	"github.com/dcossios/TravelAgent/internal/engine/auth"
	"github.com/dcossios/TravelAgent/internal/generation"
	"github.com/dcossios/TravelAgent/internal/ratelimit"
	"github.com/dcossios/TravelAgent/internal/repo"
)

// GeneratePath is the trip-creation trigger endpoint.
const GeneratePath = "/api/generate"

// MockGenerationPath serves the in-process generation service in development.
const MockGenerationPath = "/generate-itinerary/"

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Development enables the dev login and the mock generation service.
	Development bool
	RateLimit   ratelimit.Limiter
	Logger      *log.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"permission\":\"trip.share\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the TravelAgent API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	public := []string{
		path.Join(basePath, "health"),
		path.Join(basePath, "openapi.json"),
		path.Join(basePath, "auth/dev/login"),
	}
	router.Use(newAuthMiddleware([]string{basePath, "/api"}, public, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("TravelAgent API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, cfg.Engine)
	registerTrips(group, cfg.Engine)
	registerActivities(group, cfg.Engine)
	registerSharing(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	if cfg.Development {
		registerDevAuth(group, cfg.Engine, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	limiter := cfg.RateLimit
	if limiter.Key == nil {
		limiter.Key = func(r *http.Request) string {
			if p, ok := principalFromContext(r.Context()); ok {
				return p.ActorID
			}
			return ""
		}
	}
	router.With(limiter.Middleware).Post(GeneratePath, generateHandler(cfg.Engine, logger))
	if cfg.Development {
		mock := generation.MockService{
			Repo:       cfg.Engine.Repo,
			Events:     cfg.Engine.Events,
			ServiceKey: cfg.Auth.ServiceKey,
			JWTSecret:  cfg.Auth.JWTSecret,
			Logger:     logger,
		}
		router.Method(http.MethodPost, MockGenerationPath, mock)
	}
	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		var details map[string]any
		if ve.Field != "" {
			details = map[string]any{"field": ve.Field}
		}
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), details)
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, repo.ErrContentRegression):
		return newAPIError(http.StatusConflict, "content_regression", err.Error(), nil)
	}
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>TravelAgent API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp := WhoAmIResponse{ActorID: principal.ActorID, Service: principal.Service, Source: principal.Source}
		if !principal.Service {
			profile, err := e.SyncProfile(ctx, principal.Scope(), principal.Email, principal.Name)
			if err != nil {
				return nil, handleError(err)
			}
			resp.Profile = &profile
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: resp}, nil
	})
}

type tripPath struct {
	TripID string `path:"trip_id"`
}

func registerTrips(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-trip",
		Method:        http.MethodPost,
		Path:          "/trips",
		Summary:       "Create a trip with one pending itinerary per day",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTripRequest `json:"body"`
	}) (*struct {
		Body TripDetailResponse `json:"body"`
	}, error) {
		principal, authErr := userPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		trip, days, err := e.CreateTrip(ctx, principal.Scope(), engine.TripCreateOptions{
			Destination: input.Body.Destination,
			StartDate:   input.Body.StartDate,
			EndDate:     input.Body.EndDate,
			Budget:      input.Body.Budget,
			Interests:   input.Body.Interests,
			Preferences: input.Body.Preferences,
			Email:       principal.Email,
			FullName:    principal.Name,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TripDetailResponse `json:"body"`
		}{Body: TripDetailResponse{Trip: trip, Itineraries: nonNil(days)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-trip",
		Method:      http.MethodGet,
		Path:        "/trips/{trip_id}",
		Summary:     "Get trip",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *tripPath) (*struct {
		Body domain.Trip `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		trip, err := e.Gateway(principal.Scope()).GetTrip(ctx, input.TripID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Trip `json:"body"`
		}{Body: trip}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-itineraries",
		Method:      http.MethodGet,
		Path:        "/trips/{trip_id}/itineraries",
		Summary:     "List a trip's days ordered by day number",
	}, func(ctx context.Context, input *tripPath) (*struct {
		Body ItinerariesResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Gateway(principal.Scope()).ListItineraries(ctx, input.TripID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItinerariesResponse `json:"body"`
		}{Body: ItinerariesResponse{Items: nonNil(items)}}, nil
	})
}

func registerActivities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/activities",
		Summary:     "List activities of the given itineraries ordered by order",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ItineraryIDs []string `query:"itinerary_id" doc:"Comma-separated itinerary ids"`
	}) (*struct {
		Body ActivitiesResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var ids []string
		for _, raw := range input.ItineraryIDs {
			for _, id := range strings.Split(raw, ",") {
				if id = strings.TrimSpace(id); id != "" {
					ids = append(ids, id)
				}
			}
		}
		items, err := e.Gateway(principal.Scope()).ListActivities(ctx, ids)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivitiesResponse `json:"body"`
		}{Body: ActivitiesResponse{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-activity",
		Method:        http.MethodPost,
		Path:          "/activities",
		Summary:       "Create activity",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body domain.NewActivity `json:"body"`
	}) (*struct {
		Body domain.Activity `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		created, err := e.Gateway(principal.Scope()).InsertActivity(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Activity `json:"body"`
		}{Body: created}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-activity",
		Method:      http.MethodPatch,
		Path:        "/activities/{activity_id}",
		Summary:     "Update some fields of an activity",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActivityID string                `path:"activity_id"`
		Body       UpdateActivityRequest `json:"body"`
	}) (*struct {
		Body domain.Activity `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		patch := domain.ActivityPatch{
			ID:          input.ActivityID,
			Name:        input.Body.Name,
			Time:        input.Body.Time,
			Location:    input.Body.Location,
			Description: input.Body.Description,
			Duration:    input.Body.Duration,
			Order:       input.Body.Order,
		}
		updated, err := e.Gateway(principal.Scope()).UpdateActivity(ctx, patch)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Activity `json:"body"`
		}{Body: updated}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-activity",
		Method:        http.MethodDelete,
		Path:          "/activities/{activity_id}",
		Summary:       "Delete activity",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActivityID string `path:"activity_id"`
	}) (*struct{}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Gateway(principal.Scope()).DeleteActivity(ctx, input.ActivityID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "reorder-activities",
		Method:        http.MethodPut,
		Path:          "/activities/order",
		Summary:       "Write order values for several activities at once",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body ReorderActivitiesRequest `json:"body"`
	}) (*struct{}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Gateway(principal.Scope()).UpsertActivityOrders(ctx, input.Body.Updates); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerSharing(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "save-trip",
		Method:        http.MethodPost,
		Path:          "/trips/{trip_id}/save",
		Summary:       "Save trip to dashboard",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *tripPath) (*struct {
		Body domain.SavedTrip `json:"body"`
	}, error) {
		principal, authErr := userPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		saved, err := e.SaveTrip(ctx, principal.Scope(), input.TripID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SavedTrip `json:"body"`
		}{Body: saved}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "unsave-trip",
		Method:        http.MethodDelete,
		Path:          "/trips/{trip_id}/save",
		Summary:       "Remove trip from dashboard",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *tripPath) (*struct{}, error) {
		principal, authErr := userPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.UnsaveTrip(ctx, principal.Scope(), input.TripID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "share-trip",
		Method:        http.MethodPost,
		Path:          "/trips/{trip_id}/share",
		Summary:       "Share trip with a registered user by email",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TripID string           `path:"trip_id"`
		Body   ShareTripRequest `json:"body"`
	}) (*struct {
		Body domain.SharedTrip `json:"body"`
	}, error) {
		principal, authErr := userPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		share, err := e.ShareTrip(ctx, principal.Scope(), engine.ShareOptions{
			TripID:     input.TripID,
			Email:      input.Body.Email,
			Permission: input.Body.PermissionLevel,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SharedTrip `json:"body"`
		}{Body: share}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Trips the caller owns, saved, or was shared",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body DashboardResponse `json:"body"`
	}, error) {
		principal, authErr := userPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Dashboard(ctx, principal.Scope())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DashboardResponse `json:"body"`
		}{Body: DashboardResponse{Items: nonNil(items)}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-trip-events",
		Method:      http.MethodGet,
		Path:        "/trips/{trip_id}/events",
		Summary:     "Recent events of a trip, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TripID string `path:"trip_id"`
		Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListEvents(ctx, principal.Scope(), input.TripID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventsResponse{Items: []EventResponse{}}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/me/api-keys",
		Summary:       "Mint a personal API key",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		principal, authErr := userPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, raw, err := e.CreateAPIKey(ctx, principal.Scope(), input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{ID: key.ID, Name: key.Name, Key: raw, CreatedAt: key.CreatedAt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/me/api-keys",
		Summary:     "List personal API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body APIKeysResponse `json:"body"`
	}, error) {
		principal, authErr := userPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := APIKeysResponse{Items: []APIKeyResponse{}}
		for _, k := range keys {
			resp.Items = append(resp.Items, apiKeyResponse(k))
		}
		return &struct {
			Body APIKeysResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/me/api-keys/{key_id}",
		Summary:       "Revoke a personal API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		principal, authErr := userPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, principal.ActorID, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		user := strings.TrimSpace(input.Body.UserID)
		if user == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		ttl := 12 * time.Hour
		if input.Body.TTLSeconds > 0 {
			ttl = time.Duration(input.Body.TTLSeconds) * time.Second
		}
		now := time.Now()
		token, err := auth.SignToken(authCfg.JWTSecret, user, input.Body.Email, input.Body.Name, ttl, now)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		if _, err := e.SyncProfile(ctx, auth.UserScope(user), input.Body.Email, input.Body.Name); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token, ExpiresAt: now.Add(ttl).UTC().Format(time.RFC3339)}}, nil
	})
}

// generateHandler serves the trip-creation trigger with its own envelope:
// {"success": true} or {"error", "details"}.
func generateHandler(e engine.Engine, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFromContext(r.Context())
		if !ok || principal.ActorID == "" {
			writeGenerate(w, http.StatusUnauthorized, generateResponse{Error: "Unauthorized", Details: "authentication required"})
			return
		}
		var req GenerateRequest
		if err := json.Unmarshal(bodyBytes(r.Context()), &req); err != nil || strings.TrimSpace(req.TripID) == "" {
			writeGenerate(w, http.StatusBadRequest, generateResponse{Error: "tripId is required", Details: "request body must be {\"tripId\": string}"})
			return
		}
		logger.Printf("generation request received for trip %s", req.TripID)
		_, err := e.TriggerGeneration(r.Context(), principal.Scope(), req.TripID)
		if err == nil {
			writeGenerate(w, http.StatusOK, generateResponse{Success: true})
			return
		}
		status, body := generateFailure(err)
		logger.Printf("generation for trip %s failed: %v", req.TripID, err)
		writeGenerate(w, status, body)
	}
}

func generateFailure(err error) (int, generateResponse) {
	var nf *generation.NotFoundError
	if errors.As(err, &nf) {
		msg := "Failed to fetch trip details"
		if nf.Entity == "itineraries" {
			msg = "Failed to fetch itineraries"
		}
		return http.StatusNotFound, generateResponse{Error: msg, Details: nf.Detail()}
	}
	var up *generation.UpstreamError
	if errors.As(err, &up) {
		return http.StatusInternalServerError, generateResponse{
			Error:   up.Error(),
			Details: fmt.Sprintf("generation service responded with status %d", up.Status),
		}
	}
	msg := err.Error()
	if msg == "" {
		msg = "Failed to generate itinerary"
	}
	return http.StatusInternalServerError, generateResponse{Error: msg, Details: msg}
}

func writeGenerate(w http.ResponseWriter, status int, body generateResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
