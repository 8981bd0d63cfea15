package app

import (
	"quiz-live-service/internal/domain"
)

// Begin opens question 0. Host only, from waiting.
func (r *Room) Begin(c *Conn) error {
	if !c.isHost() {
		return domain.ErrForbidden
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.status {
	case domain.StatusFinished:
		return nil
	case domain.StatusActive:
		return domain.ErrInvalidState.With(domain.WithMessagef("session already started"))
	}
	r.status = domain.StatusActive
	r.log.Info("session started", "questions", len(r.session.Questions))
	r.openQuestionLocked(0)
	return nil
}

// Advance closes the current window if it is still open, then opens the next
// question or finishes the session after the last one.
func (r *Room) Advance(c *Conn) error {
	if !c.isHost() {
		return domain.ErrForbidden
	}
	r.mu.Lock()
	switch r.status {
	case domain.StatusFinished:
		r.mu.Unlock()
		return nil
	case domain.StatusWaiting:
		r.mu.Unlock()
		return domain.ErrInvalidState.With(domain.WithMessagef("session has not started"))
	}
	if r.open {
		r.closeWindowLocked(domain.CloseHost)
	}
	res := r.advanceLocked()
	r.mu.Unlock()
	r.notifyFinished(res)
	return nil
}

// CloseQuestion reveals the current question without moving on. Closing an
// already closed window is a no-op.
func (r *Room) CloseQuestion(c *Conn) error {
	if !c.isHost() {
		return domain.ErrForbidden
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.status {
	case domain.StatusFinished:
		return nil
	case domain.StatusWaiting:
		return domain.ErrInvalidState.With(domain.WithMessagef("session has not started"))
	}
	if r.open {
		r.closeWindowLocked(domain.CloseHost)
	}
	return nil
}

// End terminates the session early. Ending a finished session is a no-op.
func (r *Room) End(c *Conn) error {
	if !c.isHost() {
		return domain.ErrForbidden
	}
	r.mu.Lock()
	res := r.finishLocked(domain.FinishEnded)
	r.mu.Unlock()
	r.notifyFinished(res)
	return nil
}

func (r *Room) openQuestionLocked(i int) {
	stopTimer(r.revealTimer)
	r.revealTimer = nil

	for _, p := range r.participants {
		p.AnsweredCurrent = false
	}
	limit := r.timeLimit(i)
	now := r.clock.Now()
	r.current = i
	r.deadline = now.Add(limit)
	r.open = true
	r.closeReason = ""
	r.windowTimer = r.clock.AfterFunc(limit, func() { r.onDeadline(i) })

	pq := r.session.Questions[i].Public()
	pq.TimeLimitSeconds = int(limit.Seconds())
	ev := domain.QuestionStarted{
		QuestionIndex: i,
		QuestionCount: len(r.session.Questions),
		Question:      pq,
		Deadline:      r.deadline,
		ServerTime:    now,
	}
	r.log.Debug("question opened", "question_index", i, "deadline", r.deadline)
	r.publishLocked(func(*Conn) domain.Event { return ev })
}

// closeWindowLocked ends the current answer window for good and broadcasts the reveal.
func (r *Room) closeWindowLocked(reason domain.CloseReason) {
	if !r.open {
		return
	}
	r.open = false
	r.closeReason = reason
	stopTimer(r.windowTimer)
	r.windowTimer = nil

	i := r.current
	q := r.session.Questions[i]
	outcomes := make([]domain.AnswerOutcome, 0, len(r.joinOrder))
	byID := make(map[string]domain.AnswerOutcome, len(r.joinOrder))
	for _, id := range r.joinOrder {
		p := r.participants[id]
		o := domain.AnswerOutcome{ParticipantID: id, SelectedOption: -1, Score: p.Score}
		if rec, ok := r.answers[answerKey{id, i}]; ok {
			o.Answered = true
			o.SelectedOption = rec.SelectedOption
			o.Correct = rec.Correct
		}
		outcomes = append(outcomes, o)
		byID[id] = o
	}

	r.log.Debug("question closed", "question_index", i, "reason", reason)
	r.publishLocked(func(c *Conn) domain.Event {
		ev := domain.QuestionClosed{QuestionIndex: i, CorrectIndex: q.CorrectIndex, Reason: reason}
		if c.isHost() {
			ev.Results = outcomes
		} else if o, ok := byID[c.participantID]; ok {
			ev.Results = []domain.AnswerOutcome{o}
		}
		return ev
	})

	if r.cfg.RevealDelay > 0 && reason != domain.CloseHost {
		r.revealTimer = r.clock.AfterFunc(r.cfg.RevealDelay, func() { r.onRevealElapsed(i) })
	}
}

// advanceLocked moves past a closed question. It returns the result when the
// session finished as a consequence.
func (r *Room) advanceLocked() *domain.SessionResult {
	next := r.current + 1
	if next < len(r.session.Questions) {
		r.openQuestionLocked(next)
		return nil
	}
	return r.finishLocked(domain.FinishCompleted)
}

// finishLocked transitions to finished, cancels every pending timer and
// publishes the final leaderboard. It returns nil if the room was already finished.
func (r *Room) finishLocked(reason domain.FinishReason) *domain.SessionResult {
	if r.status == domain.StatusFinished {
		return nil
	}
	r.status = domain.StatusFinished
	r.open = false
	stopTimer(r.windowTimer)
	stopTimer(r.revealTimer)
	stopTimer(r.hostTimer)
	r.windowTimer, r.revealTimer, r.hostTimer = nil, nil, nil
	r.hostGen++

	r.finishedAt = r.clock.Now()
	r.reason = reason
	lb := r.rankLocked()
	lb.Final = true
	r.final = &lb

	r.log.Info("session finished", "reason", reason, "participants", len(r.participants))
	r.metrics.RoomFinished(reason)
	r.publishLocked(func(*Conn) domain.Event {
		return domain.SessionFinished{Reason: reason, Leaderboard: copyLeaderboard(lb)}
	})

	res := r.resultLocked()
	return &res
}

func (r *Room) onDeadline(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != domain.StatusActive || r.current != i || !r.open {
		return
	}
	r.closeWindowLocked(domain.CloseTimeout)
}

func (r *Room) onRevealElapsed(i int) {
	r.mu.Lock()
	if r.status != domain.StatusActive || r.current != i || r.open {
		r.mu.Unlock()
		return
	}
	res := r.advanceLocked()
	r.mu.Unlock()
	r.notifyFinished(res)
}
