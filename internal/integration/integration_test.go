package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-live-service/internal/app"
	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/infra/memory"
	pgstore "quiz-live-service/internal/infra/postgres"
	pgmigrations "quiz-live-service/internal/infra/postgres/migrations"
	infraredis "quiz-live-service/internal/infra/redis"
)

func TestLiveSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuiz(t, ctx, pgURL, sampleQuiz())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	results := pgstore.NewResultStore(pool)
	registry := memory.NewRegistry(memory.RegistryConfig{
		Codes: infraredis.NewCodeReserver(redisClient, time.Hour),
	})
	service := app.NewLiveService(app.LiveServiceConfig{
		Registry: registry,
		Quizzes:  infraredis.NewQuizRepository(redisClient, pgstore.NewQuizLoader(pool), 5*time.Minute),
		Results:  results,
		Room:     app.RoomConfig{HostGracePeriod: -1},
	})

	created, err := service.CreateSessionFromQuiz(ctx, "quiz-1", "host-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	owner, err := infraredis.NewCodeReserver(redisClient, time.Hour).Owner(ctx, created.JoinCode)
	if err != nil || owner != created.SessionID {
		t.Fatalf("expected join code claimed in redis by %s, got %q (%v)", created.SessionID, owner, err)
	}

	alice, err := service.JoinSession(ctx, created.JoinCode, "Alice")
	if err != nil {
		t.Fatalf("join alice: %v", err)
	}
	bob, err := service.JoinSession(ctx, created.JoinCode, "Bob")
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}

	host, err := service.Attach(ctx, created.SessionID, app.AttachRequest{Role: domain.RoleHost, HostID: "host-1"})
	if err != nil {
		t.Fatalf("attach host: %v", err)
	}
	aliceConn, err := service.Attach(ctx, created.SessionID, app.AttachRequest{Role: domain.RoleParticipant, ParticipantID: alice.ParticipantID})
	if err != nil {
		t.Fatalf("attach alice: %v", err)
	}
	bobConn, err := service.Attach(ctx, created.SessionID, app.AttachRequest{Role: domain.RoleParticipant, ParticipantID: bob.ParticipantID})
	if err != nil {
		t.Fatalf("attach bob: %v", err)
	}

	room := host.Conn.Room()
	if err := room.Begin(host.Conn); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if res, err := room.Submit(bobConn.Conn, 0, 1); err != nil || !res.Correct || res.Score != 1 {
		t.Fatalf("bob submit: %+v %v", res, err)
	}
	if _, err := room.Submit(aliceConn.Conn, 0, 0); err != nil {
		t.Fatalf("alice submit: %v", err)
	}
	if err := room.Advance(host.Conn); err != nil {
		t.Fatalf("advance: %v", err)
	}

	stored, err := results.GetResult(ctx, created.SessionID)
	if err != nil {
		t.Fatalf("get stored result: %v", err)
	}
	if stored.Reason != domain.FinishCompleted || len(stored.Participants) != 2 {
		t.Fatalf("unexpected stored result: %+v", stored)
	}
	if stored.Participants[0].ParticipantID != bob.ParticipantID || stored.Participants[0].Score != 1 {
		t.Fatalf("expected bob leading, got %+v", stored.Participants)
	}
	if owner, _ := infraredis.NewCodeReserver(redisClient, time.Hour).Owner(ctx, created.JoinCode); owner != "" {
		t.Fatalf("expected join code released, still owned by %q", owner)
	}

	// Score corrections applied straight to the store keep the stored ranking consistent.
	if err := results.UpsertScore(ctx, created.SessionID, domain.LeaderboardEntry{ParticipantID: alice.ParticipantID, Score: 5}); err != nil {
		t.Fatalf("upsert score: %v", err)
	}
	stored, err = results.GetResult(ctx, created.SessionID)
	if err != nil {
		t.Fatalf("get result after upsert: %v", err)
	}
	if stored.Participants[0].ParticipantID != alice.ParticipantID || stored.Participants[0].Score != 5 || stored.Participants[0].DisplayName != "Alice" {
		t.Fatalf("expected alice leading after upsert, got %+v", stored.Participants)
	}

	if err := results.UpsertScore(ctx, "no-such-session", domain.LeaderboardEntry{ParticipantID: "ghost", Score: 7}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown session, got %v", err)
	}
	if _, err := results.GetResult(ctx, "no-such-session"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected no result for unknown session, got %v", err)
	}
	if err := results.UpsertScore(ctx, created.SessionID, domain.LeaderboardEntry{ParticipantID: "ghost", Score: 7}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown participant, got %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuiz(t *testing.T, ctx context.Context, dsn string, quiz domain.Quiz) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(quiz)
	if err != nil {
		t.Fatalf("marshal quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (? , ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, quiz.ID, string(data)); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				Prompt:           "What is 2 + 2?",
				Options:          []string{"3", "4", "5"},
				CorrectIndex:     1,
				TimeLimitSeconds: 30,
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
