package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quizroom-service/internal/app"
	"quizroom-service/internal/config"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
	pgbank "quizroom-service/internal/infra/postgres"
	redisinfra "quizroom-service/internal/infra/redis"
	transport "quizroom-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port, logLevel, retryRule *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the room coordination server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port, *logLevel, *retryRule)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag, logLevelFlag, retryRuleFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	if retryRuleFlag != "" {
		cfg.Room.RetryRule = retryRuleFlag
	}
	initLogging(cfg)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
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

	stores := app.NewMemoryStores()
	if redisClient != nil {
		stores = app.NewRedisStores(redisClient)
	}

	// The quiz bank: Postgres when configured, a seeded in-process bank
	// otherwise, with the Redis cache layered on where available.
	var saver app.QuizSaver
	var statsSink app.QuizStatsSink
	var loader memory.QuizLoader
	if pool != nil {
		bank := pgbank.NewQuizBank(pool)
		loader = bank
		saver = bank
		statsSink = bank
	} else {
		static := seededLoader()
		loader = static
		saver = staticSaver{static}
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var pending app.PendingStore = app.NewMemoryPendingStore()
	if redisClient != nil {
		pendingTTL := config.TTLDuration(cfg.Redis.PendingTTL, 10*time.Minute)
		pending = redisinfra.NewPendingStore(redisClient, pendingTTL)
	}

	membership := app.NewMembershipManager(stores, cfg.Room.MaxParticipants)
	registry := app.NewRoomRegistry(stores, membership, cfg.Room.MaxParticipants)
	turns := app.NewTurnCoordinator(stores, quizRepo, app.RetryRule(cfg.Room.RetryRule))
	switcher := app.NewSwitchCoordinator(stores, membership, registry, pending)
	finalizer := app.NewStatsFinalizer(stores, statsSink)
	authoring := app.NewQuizAuthoring(saver)

	gateway := transport.NewGateway(stores, membership, registry, turns, switcher, finalizer, authoring)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", gateway.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting quiz room service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func initLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// staticSaver routes authored quizzes into the in-process bank.
type staticSaver struct {
	loader *memory.StaticQuizLoader
}

func (s staticSaver) SaveQuiz(_ context.Context, quiz domain.Quiz) error {
	s.loader.Add(quiz)
	return nil
}

// seededLoader provides a small official bank so the service is playable
// without Postgres; production deployments configure a database instead.
func seededLoader() *memory.StaticQuizLoader {
	loader := memory.NewStaticQuizLoader()
	loader.Add(domain.Quiz{
		QuizID:        "sample-1",
		Title:         "Arithmetic",
		Question:      "What is 2 + 2?",
		Type:          domain.QuizMultipleChoice,
		Choices:       []string{"3", "4", "5"},
		CorrectAnswer: "4",
		Genre:         "math",
		ClassType:     domain.ClassOfficial,
	})
	loader.Add(domain.Quiz{
		QuizID:        "sample-2",
		Title:         "Capitals",
		Question:      "What is the capital of France?",
		Type:          domain.QuizInput,
		CorrectAnswer: "Paris",
		Genre:         "geography",
		ClassType:     domain.ClassOfficial,
	})
	return loader
}
