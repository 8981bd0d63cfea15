package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"quiz-live-service/internal/domain"
)

const persistTimeout = 5 * time.Second

// LiveServiceConfig wires the service's collaborators.
type LiveServiceConfig struct {
	Registry Registry
	Quizzes  QuizRepository
	Results  ResultStore
	Room     RoomConfig
	Logger   *slog.Logger
	Metrics  Metrics
	NewID    func() string
}

// LiveService contains the session use cases shared by the REST and websocket surfaces.
type LiveService struct {
	registry Registry
	quizzes  QuizRepository
	results  ResultStore
	roomCfg  RoomConfig
	log      *slog.Logger
	metrics  Metrics
	newID    func() string
}

func NewLiveService(cfg LiveServiceConfig) *LiveService {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	s := &LiveService{
		registry: cfg.Registry,
		quizzes:  cfg.Quizzes,
		results:  cfg.Results,
		roomCfg:  cfg.Room,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		newID:    cfg.NewID,
	}
	s.roomCfg.Logger = cfg.Logger
	s.roomCfg.Metrics = cfg.Metrics
	if s.roomCfg.NewID == nil {
		s.roomCfg.NewID = cfg.NewID
	}
	return s
}

type CreateSessionRequest struct {
	Title     string            `json:"title"`
	Questions []domain.Question `json:"questions"`
	HostID    string            `json:"hostId"`
}

type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
	JoinCode  string `json:"joinCode"`
}

type JoinSessionResponse struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
}

// CreateSession validates the content and opens a waiting room for it.
func (s *LiveService) CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResponse, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return CreateSessionResponse{}, fmt.Errorf("%w: title is required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(req.HostID) == "" {
		return CreateSessionResponse{}, fmt.Errorf("%w: host id is required", domain.ErrInvalidArgument)
	}
	if len(req.Questions) == 0 {
		return CreateSessionResponse{}, fmt.Errorf("%w: at least one question is required", domain.ErrInvalidArgument)
	}
	questions := make([]domain.Question, len(req.Questions))
	for i, q := range req.Questions {
		if err := q.Validate(); err != nil {
			return CreateSessionResponse{}, fmt.Errorf("question %d: %w", i, err)
		}
		q.Options = append([]string(nil), q.Options...)
		questions[i] = q
	}

	sessionID := s.newID()
	room, err := s.registry.Create(ctx, sessionID, func(code string) *Room {
		cfg := s.roomCfg
		cfg.OnFinish = s.onRoomFinished
		return NewRoom(domain.Session{
			ID:        sessionID,
			JoinCode:  code,
			Title:     title,
			HostID:    req.HostID,
			Questions: questions,
		}, cfg)
	})
	if err != nil {
		return CreateSessionResponse{}, fmt.Errorf("create session: %w", err)
	}
	s.metrics.RoomOpened()
	s.log.InfoContext(ctx, "session created", "session_id", room.ID(), "join_code", room.JoinCode(), "questions", len(questions))
	return CreateSessionResponse{SessionID: room.ID(), JoinCode: room.JoinCode()}, nil
}

// CreateSessionFromQuiz starts a session from an authored template.
func (s *LiveService) CreateSessionFromQuiz(ctx context.Context, quizID, hostID string) (CreateSessionResponse, error) {
	if s.quizzes == nil {
		return CreateSessionResponse{}, domain.ErrQuizNotFound
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return CreateSessionResponse{}, fmt.Errorf("load quiz %s: %w", quizID, err)
	}
	title := quiz.Title
	if title == "" {
		title = quiz.ID
	}
	return s.CreateSession(ctx, CreateSessionRequest{Title: title, Questions: quiz.Questions, HostID: hostID})
}

// JoinSession registers a participant through the join code.
func (s *LiveService) JoinSession(ctx context.Context, joinCode, displayName string) (JoinSessionResponse, error) {
	room, err := s.registry.LookupByCode(ctx, strings.TrimSpace(joinCode))
	if err != nil {
		return JoinSessionResponse{}, err
	}
	// The code only admits players to the waiting room. Once the quiz runs,
	// new players come in through Attach with the session id.
	if room.Status() != domain.StatusWaiting {
		return JoinSessionResponse{}, domain.ErrSessionNotJoinable.With(domain.WithMessagef("session already started"))
	}
	p, err := room.Join(displayName)
	if err != nil {
		return JoinSessionResponse{}, err
	}
	return JoinSessionResponse{SessionID: room.ID(), ParticipantID: p.ID, DisplayName: p.DisplayName}, nil
}

// Attach binds a connection to a room by session id.
func (s *LiveService) Attach(ctx context.Context, sessionID string, req AttachRequest) (AttachResult, error) {
	room, err := s.registry.LookupByID(ctx, sessionID)
	if err != nil {
		return AttachResult{}, err
	}
	return room.Attach(req)
}

// GetSessionSnapshot returns the observer view of a live or retained room.
func (s *LiveService) GetSessionSnapshot(ctx context.Context, sessionID string) (domain.RoomSnapshot, error) {
	room, err := s.registry.LookupByID(ctx, sessionID)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	return room.ObserverSnapshot(), nil
}

// GetLeaderboard serves the room's leaderboard, falling back to the stored
// result once the room has been reaped.
func (s *LiveService) GetLeaderboard(ctx context.Context, sessionID string) (domain.Leaderboard, error) {
	room, err := s.registry.LookupByID(ctx, sessionID)
	if err == nil {
		return room.Leaderboard(), nil
	}
	if !errors.Is(err, domain.ErrNotFound) || s.results == nil {
		return domain.Leaderboard{}, err
	}
	res, err := s.results.GetResult(ctx, sessionID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return res.Leaderboard(), nil
}

// RecordFinalScore upserts a participant's final score for a finished session.
func (s *LiveService) RecordFinalScore(ctx context.Context, sessionID, participantID string, score int) error {
	room, err := s.registry.LookupByID(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) || s.results == nil {
			return err
		}
		if score < 0 {
			return fmt.Errorf("%w: score must not be negative", domain.ErrInvalidArgument)
		}
		return s.results.UpsertScore(ctx, sessionID, domain.LeaderboardEntry{ParticipantID: participantID, Score: score})
	}

	res, err := room.RecordFinalScore(participantID, score)
	if err != nil {
		return err
	}
	if s.results == nil {
		return nil
	}
	if err := s.results.SaveResult(ctx, res); err != nil {
		return fmt.Errorf("persist result: %w", err)
	}
	return nil
}

// RunReaper evicts expired rooms every interval until ctx is done.
func (s *LiveService) RunReaper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.registry.Reap(ctx); n > 0 {
				s.log.InfoContext(ctx, "reaped finished sessions", "count", n)
			}
		}
	}
}

func (s *LiveService) onRoomFinished(res domain.SessionResult) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.registry.Release(ctx, res.SessionID); err != nil {
		s.log.ErrorContext(ctx, "release join code failed", "session_id", res.SessionID, "error", err)
	}
	if s.results == nil {
		return
	}
	if err := s.results.SaveResult(ctx, res); err != nil {
		s.log.ErrorContext(ctx, "persist session result failed", "session_id", res.SessionID, "error", err)
	}
}
