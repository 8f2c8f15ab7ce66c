package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"brainforces/internal/app"
	"brainforces/internal/config"
	"brainforces/internal/domain"
	"brainforces/internal/infra/memory"
	pg "brainforces/internal/infra/postgres"
	rediscache "brainforces/internal/infra/redis"
	transport "brainforces/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	memStore := memory.NewStore()
	var store app.Store = memStore
	var loader memory.QuizLoader = memStore
	if pool != nil {
		store = pg.NewStore(pool)
		loader = pg.NewQuizLoader(pool)
	} else {
		seedDemoData(memStore, log)
	}

	contentTTL := config.TTLDuration(cfg.Quiz.ContentTTL, 10*time.Minute)
	standingsTTL := config.TTLDuration(cfg.Quiz.StandingsTTL, 30*time.Second)
	var quizRepo app.QuizRepository
	var standings app.StandingsCache
	if redisClient != nil {
		quizRepo = rediscache.NewQuizCache(redisClient, loader, contentTTL)
		standings = rediscache.NewStandingsCache(redisClient, standingsTTL)
	} else {
		quizRepo = memory.NewQuizCache(loader, contentTTL)
		standings = memory.NewStandingsCache(standingsTTL)
	}

	settings := app.DefaultSettings()
	if cfg.Quiz.RatingEnabled != nil {
		settings.RatingEnabled = *cfg.Quiz.RatingEnabled
	}
	if cfg.Quiz.SubmitRetries > 0 {
		settings.SubmitRetries = cfg.Quiz.SubmitRetries
	}

	hub := app.NewStandingsHub()
	service := app.NewQuizService(store, quizRepo, standings, hub, settings, log)

	router := mux.NewRouter()
	transport.NewHandler(service, log).Register(router)
	router.HandleFunc("/ws/standings", transport.NewWSHandler(service, log).ServeStandings)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "X-User-ID"},
	})

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      corsMiddleware.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting quiz service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// seedDemoData fills the in-memory store so the service is usable without
// Postgres: one public rated quiz starting now, two players.
func seedDemoData(store *memory.Store, log *zap.Logger) {
	orgID := store.SeedOrganization("demo club", false)
	alice := store.SeedUser("alice", 1500)
	bob := store.SeedUser("bob", 1400)
	store.SeedMembership(orgID, alice, domain.RoleCreator)
	store.SeedMembership(orgID, bob, domain.RoleMember)

	quizID := store.SeedQuiz(domain.Quiz{
		Name:            "demo round",
		Description:     "seeded for local development",
		CreatorID:       alice,
		OrganizerID:     orgID,
		StartTime:       time.Now(),
		DurationMinutes: 60,
		IsRated:         true,
		IsPublished:     true,
		Questions: []domain.Question{
			{
				Name: "warmup", Text: "What is 2 + 2?", Difficulty: 1,
				Variants: []domain.Variant{
					{Text: "3"}, {Text: "4", IsCorrect: true}, {Text: "5"},
				},
			},
			{
				Name: "harder", Text: "Smallest prime above 100?", Difficulty: 3,
				Variants: []domain.Variant{
					{Text: "101", IsCorrect: true}, {Text: "103"}, {Text: "107"},
				},
			},
		},
	})
	log.Info("seeded demo data",
		zap.Int64("quiz", quizID),
		zap.Int64("alice", alice),
		zap.Int64("bob", bob))
}
