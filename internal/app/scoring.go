package app

import (
	"sort"

	"quiz-live-service/internal/domain"
)

// Submit grades a participant's answer for the current question.
//
// A submission is rejected with ErrWindowClosed unless questionIndex is the
// current question and its window is open. Reaching the deadline closes the
// window even if the timer has not fired yet. A second submission returns the
// original outcome together with ErrAlreadyAnswered.
func (r *Room) Submit(c *Conn, questionIndex, selectedOption int) (domain.SubmitResult, error) {
	if c.isHost() {
		return domain.SubmitResult{}, domain.ErrForbidden.With(domain.WithMessagef("hosts cannot answer"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != domain.StatusActive || questionIndex != r.current || !r.open {
		r.metrics.AnswerRejected(domain.ErrWindowClosed.Kind)
		return domain.SubmitResult{}, domain.ErrWindowClosed
	}
	now := r.clock.Now()
	if !now.Before(r.deadline) {
		r.closeWindowLocked(domain.CloseTimeout)
		r.metrics.AnswerRejected(domain.ErrWindowClosed.Kind)
		return domain.SubmitResult{}, domain.ErrWindowClosed
	}

	p, ok := r.participants[c.participantID]
	if !ok {
		return domain.SubmitResult{}, domain.ErrNotFound.With(domain.WithMessagef("participant not found"))
	}
	key := answerKey{p.ID, questionIndex}
	if rec, ok := r.answers[key]; ok {
		r.metrics.AnswerRejected(domain.ErrAlreadyAnswered.Kind)
		return domain.SubmitResult{
			QuestionIndex:  questionIndex,
			SelectedOption: rec.SelectedOption,
			Correct:        rec.Correct,
			Score:          p.Score,
			Duplicate:      true,
		}, domain.ErrAlreadyAnswered
	}

	q := r.session.Questions[questionIndex]
	if selectedOption < 0 || selectedOption >= len(q.Options) {
		return domain.SubmitResult{}, domain.ErrInvalidArgument.With(domain.WithMessagef("option %d out of range", selectedOption))
	}

	rec := domain.AnswerRecord{
		ParticipantID:  p.ID,
		QuestionIndex:  questionIndex,
		SelectedOption: selectedOption,
		SubmittedAt:    now,
		Correct:        selectedOption == q.CorrectIndex,
	}
	r.answers[key] = rec
	if rec.Correct {
		p.Score++
	}
	p.AnsweredCurrent = true
	r.metrics.AnswerAccepted(rec.Correct)

	answered := 0
	for _, other := range r.participants {
		if other.AnsweredCurrent {
			answered++
		}
	}
	r.publishToHostsLocked(domain.AnswerReceived{
		ParticipantID:    p.ID,
		QuestionIndex:    questionIndex,
		AnsweredCount:    answered,
		ParticipantCount: len(r.participants),
	})

	res := domain.SubmitResult{
		QuestionIndex:  questionIndex,
		SelectedOption: selectedOption,
		Correct:        rec.Correct,
		Score:          p.Score,
	}
	if r.allAnsweredLocked() {
		r.closeWindowLocked(domain.CloseAllAnswered)
	}
	return res, nil
}

// Leaderboard returns the final leaderboard once finished, a live one otherwise.
func (r *Room) Leaderboard() domain.Leaderboard {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.final != nil {
		return copyLeaderboard(*r.final)
	}
	return r.rankLocked()
}

// Result returns the durable record of a finished room.
func (r *Room) Result() (domain.SessionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != domain.StatusFinished {
		return domain.SessionResult{}, domain.ErrInvalidState.With(domain.WithMessagef("session has not finished"))
	}
	return r.resultLocked(), nil
}

// RecordFinalScore overrides a participant's score on the final leaderboard.
// Running scores are left untouched. Repeating the call with the same score
// yields the same result.
func (r *Room) RecordFinalScore(participantID string, score int) (domain.SessionResult, error) {
	if score < 0 {
		return domain.SessionResult{}, domain.ErrInvalidArgument.With(domain.WithMessagef("score must not be negative"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != domain.StatusFinished {
		return domain.SessionResult{}, domain.ErrInvalidState.With(domain.WithMessagef("session has not finished"))
	}
	if _, ok := r.participants[participantID]; !ok {
		return domain.SessionResult{}, domain.ErrNotFound.With(domain.WithMessagef("participant not found"))
	}
	r.overrides[participantID] = score
	lb := r.rankLocked()
	lb.Final = true
	lb.UpdatedAt = r.finishedAt
	r.final = &lb
	return r.resultLocked(), nil
}

// allAnsweredLocked reports whether every connected participant answered the
// current question. A room with nobody connected never counts as all answered.
func (r *Room) allAnsweredLocked() bool {
	connected := 0
	for _, p := range r.participants {
		if p.ConnectionState != domain.Connected {
			continue
		}
		connected++
		if !p.AnsweredCurrent {
			return false
		}
	}
	return connected > 0
}

// rankLocked orders by score descending, ties going to whoever joined first.
func (r *Room) rankLocked() domain.Leaderboard {
	entries := make([]domain.LeaderboardEntry, 0, len(r.joinOrder))
	for _, id := range r.joinOrder {
		p := r.participants[id]
		score := p.Score
		if override, ok := r.overrides[id]; ok {
			score = override
		}
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: id,
			DisplayName:   p.DisplayName,
			Score:         score,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return domain.Leaderboard{
		SessionID: r.session.ID,
		Entries:   entries,
		UpdatedAt: r.clock.Now(),
	}
}

func (r *Room) resultLocked() domain.SessionResult {
	lb := copyLeaderboard(*r.final)
	return domain.SessionResult{
		SessionID:    r.session.ID,
		JoinCode:     r.session.JoinCode,
		Title:        r.session.Title,
		Reason:       r.reason,
		FinishedAt:   r.finishedAt,
		Participants: lb.Entries,
	}
}

func copyLeaderboard(lb domain.Leaderboard) domain.Leaderboard {
	entries := make([]domain.LeaderboardEntry, len(lb.Entries))
	copy(entries, lb.Entries)
	lb.Entries = entries
	return lb
}
