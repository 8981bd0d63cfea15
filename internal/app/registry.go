package app

import (
	"context"

	"quiz-live-service/internal/domain"
)

// Registry tracks live rooms by session id and by join code.
type Registry interface {
	// Create allocates a join code unique among active sessions and stores the
	// room that build returns for it.
	Create(ctx context.Context, sessionID string, build func(joinCode string) *Room) (*Room, error)
	LookupByCode(ctx context.Context, joinCode string) (*Room, error)
	LookupByID(ctx context.Context, sessionID string) (*Room, error)
	// Release frees the join code of a finished room. The room stays readable by id.
	Release(ctx context.Context, sessionID string) error
	// Reap evicts rooms that finished before the retention window and returns how many.
	Reap(ctx context.Context) int
}

// CodeReserver claims join codes, possibly across several service instances.
type CodeReserver interface {
	Reserve(ctx context.Context, code, sessionID string) (bool, error)
	Release(ctx context.Context, code string) error
}

// CodeRefresher is implemented by reservers whose claims expire. Refresh
// extends a claim still held by sessionID and reports false when it was lost.
type CodeRefresher interface {
	Refresh(ctx context.Context, code, sessionID string) (bool, error)
}

// QuizRepository loads authored quiz templates.
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// ResultStore keeps finished session results after their rooms are reaped.
type ResultStore interface {
	SaveResult(ctx context.Context, result domain.SessionResult) error
	UpsertScore(ctx context.Context, sessionID string, entry domain.LeaderboardEntry) error
	GetResult(ctx context.Context, sessionID string) (domain.SessionResult, error)
}
