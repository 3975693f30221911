package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dcossios/TravelAgent/internal/app"
	"github.com/dcossios/TravelAgent/internal/config"
	"github.com/dcossios/TravelAgent/internal/db"
	"github.com/dcossios/TravelAgent/internal/domain"
	"github.com/dcossios/TravelAgent/internal/engine"
	"github.com/dcossios/TravelAgent/internal/engine/auth"
	"github.com/dcossios/TravelAgent/internal/migrate"
	"github.com/dcossios/TravelAgent/internal/ratelimit"
	"github.com/dcossios/TravelAgent/internal/server"
	"github.com/dcossios/TravelAgent/internal/store"
	tasdk "github.com/dcossios/TravelAgent/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "ta",
	Short: "TravelAgent CLI",
	Long: `TravelAgent plans trips day by day.
- Trip: a destination with inclusive start and end dates; one itinerary per day is created with it.
- Generation: the AI service fills every day's generated content; 'ta trip generate' asks for it again.
- Activities: your own entries per day, kept in order; move and reorder resequence the whole day.
- Dashboard: trips you own, saved, or were shared with you.
Run 'ta serve' to expose the API, or point any command at a server with --api-url.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return app.LoadEnv(viper.GetString("workspace"))
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "user id for the local database")
	rootCmd.PersistentFlags().String("api-url", "", "talk to a running server instead of the local database")
	rootCmd.PersistentFlags().String("token", "", "bearer token for --api-url")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	for _, name := range []string{"workspace", "json", "actor-id", "api-url", "token", "force"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tripCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(configCmd())
}

// loadConfig resolves travelagent.yml and applies TA_* environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := app.ResolveConfig(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := viper.GetString("service_key"); v != "" {
		cfg.Server.ServiceKey = v
	}
	if v := viper.GetString("generation_url"); v != "" {
		cfg.Generation.URL = v
	}
	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}
	if viper.IsSet("development") {
		cfg.Server.Development = viper.GetBool("development")
	}
	return cfg, cfg.Validate()
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") || cfg.Server.Addr == "" {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") || cfg.Server.BasePath == "" {
				cfg.Server.BasePath = basePath
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("TA_JWT_SECRET is required for bearer auth")
			}
			if cfg.Server.ServiceKey == "" {
				return fmt.Errorf("TA_SERVICE_KEY is required to call the generation service")
			}
			if cfg.Server.Development && viper.GetString("generation_url") == "" {
				cfg.Generation.URL = "http://" + cfg.Server.Addr + server.MockGenerationPath
			}
			logger := log.New(os.Stderr, "ta: ", log.LstdFlags)

			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			e.Logger = logger

			rdb := ratelimit.NewRedisClient(cfg.Redis, logger)
			if rdb != nil {
				defer rdb.Close()
			}
			handler, err := server.New(server.Config{
				Engine:      e,
				BasePath:    cfg.Server.BasePath,
				Development: cfg.Server.Development,
				Logger:      logger,
				Auth: server.AuthConfig{
					JWTSecret:              cfg.Server.JWTSecret,
					ServiceKey:             cfg.Server.ServiceKey,
					AllowLegacyActorHeader: cfg.Server.Development,
					Logger:                 logger,
				},
				RateLimit: ratelimit.Limiter{Config: cfg.RateLimit, Redis: rdb, Logger: logger},
			})
			if err != nil {
				return err
			}
			server.StartWebhooks(cmd.Context(), e, logger)
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Printf("serving TravelAgent API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)", cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if cfg.Server.Development {
				logger.Printf("development mode: mock generation service at %s", cfg.Generation.URL)
			}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func tripCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trip",
		Short: "Create, generate, share and export trips",
	}
	cmd.AddCommand(tripCreateCmd())
	cmd.AddCommand(tripShowCmd())
	cmd.AddCommand(tripGenerateCmd())
	cmd.AddCommand(tripSaveCmd())
	cmd.AddCommand(tripUnsaveCmd())
	cmd.AddCommand(tripShareCmd())
	cmd.AddCommand(tripExportCmd())
	cmd.AddCommand(tripLogCmd())
	return cmd
}

func tripCreateCmd() *cobra.Command {
	var in tasdk.TripInput
	var budget float64
	var interests, preferences []string
	var noGenerate bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a trip with one pending itinerary per day",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("budget") {
				in.Budget = &budget
			}
			in.Interests = splitAll(interests)
			in.Preferences = splitAll(preferences)
			return withSession(cmd.Context(), func(ctx context.Context, sess *app.Session) error {
				trip, days, err := sess.Backend.CreateTrip(ctx, in)
				if err != nil {
					return err
				}
				if !noGenerate {
					if err := sess.Backend.TriggerGeneration(ctx, trip.ID); err != nil {
						return fmt.Errorf("trip %s created but generation failed: %w", trip.ID, err)
					}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"trip": trip, "itineraries": days})
				}
				fmt.Printf("Created trip %s to %s (%d days)\n", trip.ID, trip.Destination, len(days))
				if !noGenerate {
					fmt.Println("Itinerary generated; view it with: ta trip show " + trip.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Destination, "destination", "", "where to go")
	cmd.Flags().StringVar(&in.StartDate, "start", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&in.EndDate, "end", "", "last day (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&budget, "budget", 0, "budget")
	cmd.Flags().StringArrayVar(&interests, "interests", nil, "interests, one per line or repeated")
	cmd.Flags().StringArrayVar(&preferences, "preferences", nil, "preferences, one per line or repeated")
	cmd.Flags().BoolVar(&noGenerate, "no-generate", false, "skip triggering generation")
	_ = cmd.MarkFlagRequired("destination")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func tripShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <trip-id>",
		Short: "Show a trip with its days and activities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), args[0], func(ctx context.Context, _ *app.Session, s *store.Store) error {
				return printState(s.Snapshot())
			})
		},
	}
}

func tripGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <trip-id>",
		Short: "Trigger itinerary generation for every day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, sess *app.Session) error {
				if err := sess.Backend.TriggerGeneration(ctx, args[0]); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"success": true})
				}
				fmt.Println("Generation completed for trip " + args[0])
				return nil
			})
		},
	}
}

func tripSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save <trip-id>",
		Short: "Save a trip to your dashboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, sess *app.Session) error {
				saved, err := sess.Backend.SaveTrip(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrLine(saved, "Trip saved to your dashboard")
			})
		},
	}
}

func tripUnsaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unsave <trip-id>",
		Short: "Remove a trip from your dashboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, sess *app.Session) error {
				if err := sess.Backend.UnsaveTrip(ctx, args[0]); err != nil {
					return err
				}
				return printJSONOrLine(map[string]string{"trip_id": args[0]}, "Trip removed from your dashboard")
			})
		},
	}
}

func tripShareCmd() *cobra.Command {
	var email, permission string
	cmd := &cobra.Command{
		Use:   "share <trip-id>",
		Short: "Share a trip with a registered user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, sess *app.Session) error {
				share, err := sess.Backend.ShareTrip(ctx, args[0], email, permission)
				if err != nil {
					if app.IsNotFound(err) {
						return fmt.Errorf("could not share: %w", err)
					}
					return err
				}
				return printJSONOrLine(share, fmt.Sprintf("Shared with %s (%s)", email, share.PermissionLevel))
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "recipient email")
	cmd.Flags().StringVar(&permission, "permission", domain.PermissionView, "view or edit")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func tripExportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <trip-id>",
		Short: "Export a trip itinerary as text or markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), args[0], func(ctx context.Context, _ *app.Session, s *store.Store) error {
				return renderTrip(cmd.OutOrStdout(), s.Snapshot(), format)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", formatMarkdown, "text or markdown")
	return cmd
}

func tripLogCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "log <trip-id>",
		Short: "Show recent events of a trip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, sess *app.Session) error {
				events, err := sess.Backend.Events(ctx, args[0], n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				fmt.Println(renderTable(eventTable(events), formatText))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func activityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Edit a trip's activities",
	}
	cmd.AddCommand(activityListCmd())
	cmd.AddCommand(activityAddCmd())
	cmd.AddCommand(activityUpdateCmd())
	cmd.AddCommand(activityDeleteCmd())
	cmd.AddCommand(activityMoveCmd())
	cmd.AddCommand(activityReorderCmd())
	return cmd
}

func activityListCmd() *cobra.Command {
	var day int
	cmd := &cobra.Command{
		Use:   "list <trip-id>",
		Short: "List activities, ordered within each day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), args[0], func(ctx context.Context, _ *app.Session, s *store.Store) error {
				st := s.Snapshot()
				if day > 0 {
					it, err := itineraryForDay(st, day)
					if err != nil {
						return err
					}
					acts := st.ActivitiesFor(it.ID)
					if viper.GetBool("json") {
						return printJSON(acts)
					}
					fmt.Println(renderTable(activityTable(acts), formatText))
					return nil
				}
				return printState(st)
			})
		},
	}
	cmd.Flags().IntVar(&day, "day", 0, "only this day number")
	return cmd
}

func activityAddCmd() *cobra.Command {
	var day int
	var name, at, location, description, duration string
	cmd := &cobra.Command{
		Use:   "add <trip-id>",
		Short: "Append an activity to a day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), args[0], func(ctx context.Context, _ *app.Session, s *store.Store) error {
				it, err := itineraryForDay(s.Snapshot(), day)
				if err != nil {
					return err
				}
				st := s.CreateActivity(ctx, domain.NewActivity{
					ItineraryID: it.ID,
					Name:        name,
					Time:        at,
					Location:    optionalString(location),
					Description: optionalString(description),
					Duration:    optionalString(duration),
					Order:       len(s.Snapshot().ActivitiesFor(it.ID)),
				})
				if st.Err != nil {
					return st.Err
				}
				return printDay(st, it.ID)
			})
		},
	}
	cmd.Flags().IntVar(&day, "day", 1, "day number")
	cmd.Flags().StringVar(&name, "name", "", "activity name")
	cmd.Flags().StringVar(&at, "time", "", "time of day, e.g. 09:30")
	cmd.Flags().StringVar(&location, "location", "", "location")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&duration, "duration", "", "duration, e.g. 2h")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("time")
	return cmd
}

func activityUpdateCmd() *cobra.Command {
	var name, at, location, description, duration string
	cmd := &cobra.Command{
		Use:   "update <trip-id> <activity-id>",
		Short: "Change some fields of an activity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := domain.ActivityPatch{ID: args[1]}
			flags := cmd.Flags()
			if flags.Changed("name") {
				patch.Name = &name
			}
			if flags.Changed("time") {
				patch.Time = &at
			}
			if flags.Changed("location") {
				patch.Location = &location
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("duration") {
				patch.Duration = &duration
			}
			if patch.Empty() {
				return fmt.Errorf("nothing to update; pass at least one field flag")
			}
			return withStore(cmd.Context(), args[0], func(ctx context.Context, _ *app.Session, s *store.Store) error {
				st := s.UpdateActivity(ctx, patch)
				if st.Err != nil {
					return st.Err
				}
				act, ok := findActivity(st, args[1])
				if !ok {
					return printState(st)
				}
				return printDay(st, act.ItineraryID)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "activity name")
	cmd.Flags().StringVar(&at, "time", "", "time of day")
	cmd.Flags().StringVar(&location, "location", "", "location")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&duration, "duration", "", "duration")
	return cmd
}

func activityDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <trip-id> <activity-id>",
		Short: "Delete an activity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), args[0], func(ctx context.Context, _ *app.Session, s *store.Store) error {
				act, ok := findActivity(s.Snapshot(), args[1])
				st := s.DeleteActivity(ctx, args[1])
				if st.Err != nil {
					return st.Err
				}
				if !ok {
					return printState(st)
				}
				return printDay(st, act.ItineraryID)
			})
		},
	}
}

func activityMoveCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "move <trip-id> <activity-id>",
		Short: "Move an activity onto another one's position within its day",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), args[0], func(ctx context.Context, _ *app.Session, s *store.Store) error {
				act, ok := findActivity(s.Snapshot(), args[1])
				if !ok {
					return fmt.Errorf("activity %s is not part of trip %s", args[1], args[0])
				}
				st := s.MoveActivity(ctx, act.ItineraryID, act.ID, target)
				if st.Err != nil {
					return st.Err
				}
				return printDay(st, act.ItineraryID)
			})
		},
	}
	cmd.Flags().StringVar(&target, "to", "", "activity id whose position to take")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func activityReorderCmd() *cobra.Command {
	var day int
	cmd := &cobra.Command{
		Use:   "reorder <trip-id> <activity-id>...",
		Short: "Set the order of a day's activities; listed ids come first",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), args[0], func(ctx context.Context, _ *app.Session, s *store.Store) error {
				st := s.Snapshot()
				it, err := itineraryForDay(st, day)
				if err != nil {
					return err
				}
				updates, err := resequence(st.ActivitiesFor(it.ID), args[1:])
				if err != nil {
					return err
				}
				st = s.ReorderActivities(ctx, updates)
				if st.Err != nil {
					return st.Err
				}
				return printDay(st, it.ID)
			})
		},
	}
	cmd.Flags().IntVar(&day, "day", 1, "day number")
	return cmd
}

// resequence puts ids first, keeps the remaining activities in their current
// order, and numbers everything from zero.
func resequence(current []domain.Activity, ids []string) ([]domain.OrderUpdate, error) {
	known := make(map[string]bool, len(current))
	for _, a := range current {
		known[a.ID] = true
	}
	seen := make(map[string]bool, len(ids))
	var order []string
	for _, id := range ids {
		if !known[id] {
			return nil, fmt.Errorf("activity %s is not on this day", id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		order = append(order, id)
	}
	for _, a := range current {
		if !seen[a.ID] {
			order = append(order, a.ID)
		}
	}
	updates := make([]domain.OrderUpdate, len(order))
	for i, id := range order {
		updates[i] = domain.OrderUpdate{ID: id, Order: i}
	}
	return updates, nil
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Trips you own, saved, or were shared with you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, sess *app.Session) error {
				entries, err := sess.Backend.Dashboard(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				if len(entries) == 0 {
					fmt.Println("No trips yet. Create one with: ta trip create")
					return nil
				}
				fmt.Println(renderTable(dashboardTable(entries), formatText))
				return nil
			})
		},
	}
}

func loginCmd() *cobra.Command {
	var user, email, name string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Mint a development token and store it as TA_TOKEN in the workspace .env",
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if apiURL := viper.GetString("api-url"); apiURL != "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				c := tasdk.New(apiURL)
				c.BasePath = cfg.Server.BasePath
				tok, err := c.DevLogin(cmd.Context(), user, email, name)
				if err != nil {
					return err
				}
				token = tok.Token
			} else {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				token, err = auth.SignToken(cfg.Server.JWTSecret, user, email, name, ttl, time.Now())
				if err != nil {
					return fmt.Errorf("sign token (set TA_JWT_SECRET): %w", err)
				}
			}
			if err := app.SetEnvValue(viper.GetString("workspace"), "TA_TOKEN", token); err != nil {
				return err
			}
			return printJSONOrLine(map[string]string{"token": token}, "Token stored in "+app.EnvPath(viper.GetString("workspace")))
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&name, "name", "", "display name claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime for locally signed tokens")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage travelagent.yml",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default travelagent.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !viper.GetBool("force") {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote " + path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Server.JWTSecret = redact(cfg.Server.JWTSecret)
			cfg.Server.ServiceKey = redact(cfg.Server.ServiceKey)
			cfg.Redis.Password = redact(cfg.Redis.Password)
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			return printJSONOrLine(map[string]bool{"valid": true}, "Config is valid")
		},
	})
	return cmd
}

// --- helpers ---

func withSession(ctx context.Context, fn func(context.Context, *app.Session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sess, err := app.Open(ctx, app.SessionOptions{
		Workspace: viper.GetString("workspace"),
		ActorID:   viper.GetString("actor-id"),
		APIURL:    viper.GetString("api-url"),
		Token:     viper.GetString("token"),
		Config:    cfg,
	})
	if err != nil {
		return err
	}
	defer sess.Close()
	return fn(ctx, sess)
}

// withStore loads a trip into a fresh store before running fn.
func withStore(ctx context.Context, tripID string, fn func(context.Context, *app.Session, *store.Store) error) error {
	return withSession(ctx, func(ctx context.Context, sess *app.Session) error {
		s := store.New(sess.Backend)
		if st := s.FetchTripData(ctx, tripID); st.Err != nil {
			return st.Err
		}
		return fn(ctx, sess, s)
	})
}

func itineraryForDay(st store.State, day int) (domain.Itinerary, error) {
	for _, it := range st.Itineraries {
		if it.DayNumber == day {
			return it, nil
		}
	}
	return domain.Itinerary{}, fmt.Errorf("trip has no day %d", day)
}

func findActivity(st store.State, id string) (domain.Activity, bool) {
	for _, a := range st.Activities {
		if a.ID == id {
			return a, true
		}
	}
	return domain.Activity{}, false
}

func printState(st store.State) error {
	if viper.GetBool("json") {
		return printJSON(st)
	}
	return renderTrip(os.Stdout, st, formatText)
}

func printDay(st store.State, itineraryID string) error {
	acts := st.ActivitiesFor(itineraryID)
	if viper.GetBool("json") {
		return printJSON(acts)
	}
	fmt.Println(renderTable(activityTable(acts), formatText))
	return nil
}

func printJSONOrLine(v any, line string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(line)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitAll(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, engine.SplitLines(v)...)
	}
	return out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
