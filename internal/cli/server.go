package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quiz-live-service/internal/app"
	"quiz-live-service/internal/config"
	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/infra/memory"
	pgstore "quiz-live-service/internal/infra/postgres"
	redisstore "quiz-live-service/internal/infra/redis"
	"quiz-live-service/internal/telemetry"
	transport "quiz-live-service/internal/transport/http"
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
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg); err != nil {
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

	health := map[string]transport.HealthCheck{}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := telemetry.MonitorRedis(redisClient); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		health["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		health["postgres"] = pool.Ping
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = pgstore.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var codes app.CodeReserver
	if redisClient != nil {
		codes = redisstore.NewCodeReserver(redisClient, config.TTLDuration(cfg.Redis.TTL, 12*time.Hour))
	}

	var results app.ResultStore = memory.NewResultStore()
	if pool != nil {
		results = pgstore.NewResultStore(pool)
	}

	sc := cfg.Session
	registry := memory.NewRegistry(memory.RegistryConfig{
		MaxRooms:   sc.MaxRooms,
		Retention:  config.TTLDuration(sc.Retention, 15*time.Minute),
		CodeLength: sc.CodeLength,
		Codes:      codes,
		Logger:     logger,
	})

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	service := app.NewLiveService(app.LiveServiceConfig{
		Registry: registry,
		Quizzes:  quizRepo,
		Results:  results,
		Logger:   logger,
		Metrics:  metrics,
		Room: app.RoomConfig{
			MaxParticipants:  sc.MaxParticipants,
			HostGracePeriod:  config.TTLDuration(sc.HostGrace, 0),
			RevealDelay:      config.TTLDuration(sc.RevealDelay, 0),
			DefaultTimeLimit: config.TTLDuration(sc.DefaultTimeLimit, 0),
			OutboundQueue:    sc.OutboundQueue,
		},
	})

	router := transport.NewRouter(transport.RouterConfig{
		Control: transport.NewControlHandler(service, logger),
		WS: transport.NewWSHandler(service, transport.WSConfig{
			Rate:         cfg.WebSocket.Rate,
			Burst:        cfg.WebSocket.Burst,
			PingInterval: config.TTLDuration(cfg.WebSocket.PingInterval, 0),
			Logger:       logger,
		}),
		Health: health,
		Logger: logger,
	})

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.InfoContext(ctx, "starting quiz service", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		return service.RunReaper(ctx, config.TTLDuration(sc.ReapInterval, time.Minute))
	})
	eg.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		slog.Error("server stopped with error", "error", err)
		return err
	}
	return nil
}

// sampleQuizzes backs /api/quizzes/:quizId/sessions when no Postgres is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					Prompt:           "What is 2 + 2?",
					Options:          []string{"3", "4", "5"},
					CorrectIndex:     1,
					TimeLimitSeconds: 20,
				},
				{
					Prompt:       "Which planet is known as the red planet?",
					Options:      []string{"Venus", "Mars", "Jupiter", "Saturn"},
					CorrectIndex: 1,
				},
			},
		},
	}
}
