package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/infra/memory"
)

func TestResultStore_SaveAndUpsert(t *testing.T) {
	ctx := context.Background()
	store := memory.NewResultStore()

	_, err := store.GetResult(ctx, "s1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	finishedAt := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveResult(ctx, domain.SessionResult{
		SessionID:  "s1",
		JoinCode:   "123456",
		Reason:     domain.FinishCompleted,
		FinishedAt: finishedAt,
		Participants: []domain.LeaderboardEntry{
			{Rank: 1, ParticipantID: "p1", DisplayName: "Alice", Score: 2},
			{Rank: 2, ParticipantID: "p2", DisplayName: "Bob", Score: 1},
		},
	}))

	// Same call twice gives the same outcome.
	for i := 0; i < 2; i++ {
		require.NoError(t, store.UpsertScore(ctx, "s1", domain.LeaderboardEntry{ParticipantID: "p2", Score: 5}))
	}

	res, err := store.GetResult(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, []domain.LeaderboardEntry{
		{Rank: 1, ParticipantID: "p2", DisplayName: "Bob", Score: 5},
		{Rank: 2, ParticipantID: "p1", DisplayName: "Alice", Score: 2},
	}, res.Participants)

	lb := res.Leaderboard()
	require.True(t, lb.Final)
	require.Equal(t, finishedAt, lb.UpdatedAt)
}

func TestResultStore_UpsertRequiresExistingResult(t *testing.T) {
	ctx := context.Background()
	store := memory.NewResultStore()

	err := store.UpsertScore(ctx, "s9", domain.LeaderboardEntry{ParticipantID: "p1", Score: 3})
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetResult(ctx, "s9")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.SaveResult(ctx, domain.SessionResult{
		SessionID:    "s9",
		Participants: []domain.LeaderboardEntry{{Rank: 1, ParticipantID: "p1", DisplayName: "Alice", Score: 1}},
	}))
	err = store.UpsertScore(ctx, "s9", domain.LeaderboardEntry{ParticipantID: "ghost", Score: 7})
	require.ErrorIs(t, err, domain.ErrNotFound)

	res, err := store.GetResult(ctx, "s9")
	require.NoError(t, err)
	require.Equal(t, []domain.LeaderboardEntry{{Rank: 1, ParticipantID: "p1", DisplayName: "Alice", Score: 1}}, res.Participants)
}
