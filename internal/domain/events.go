package domain

import "time"

// Event is an outbound room notification. EventName is the wire type.
type Event interface {
	EventName() string
}

const (
	EventRosterChanged   = "roster-changed"
	EventQuestionStarted = "question-started"
	EventQuestionClosed  = "question-closed"
	EventSessionFinished = "session-finished"
	EventAnswerReceived  = "answer-received"
)

// CloseReason says what ended an answer window.
type CloseReason string

const (
	CloseTimeout     CloseReason = "timeout"
	CloseAllAnswered CloseReason = "all-answered"
	CloseHost        CloseReason = "host"
)

// RosterChanged is emitted whenever a connection attaches or detaches.
// Participants is only populated for host connections.
type RosterChanged struct {
	ConnectedCount   int           `json:"connectedCount"`
	ParticipantCount int           `json:"participantCount"`
	Participants     []Participant `json:"participants,omitempty"`
}

func (RosterChanged) EventName() string { return EventRosterChanged }

// QuestionStarted opens an answer window. It never carries the correct index.
type QuestionStarted struct {
	QuestionIndex int            `json:"questionIndex"`
	QuestionCount int            `json:"questionCount"`
	Question      PublicQuestion `json:"question"`
	Deadline      time.Time      `json:"deadline"`
	ServerTime    time.Time      `json:"serverTime"`
}

func (QuestionStarted) EventName() string { return EventQuestionStarted }

// AnswerOutcome is the graded result of one participant for a closed question.
type AnswerOutcome struct {
	ParticipantID  string `json:"participantId"`
	Answered       bool   `json:"answered"`
	SelectedOption int    `json:"selectedOption"`
	Correct        bool   `json:"correct"`
	Score          int    `json:"score"`
}

// QuestionClosed is the reveal. Hosts get every outcome, participants only their own.
type QuestionClosed struct {
	QuestionIndex int             `json:"questionIndex"`
	CorrectIndex  int             `json:"correctIndex"`
	Reason        CloseReason     `json:"reason"`
	Results       []AnswerOutcome `json:"results"`
}

func (QuestionClosed) EventName() string { return EventQuestionClosed }

// SessionFinished carries the final leaderboard.
type SessionFinished struct {
	Reason      FinishReason `json:"reason"`
	Leaderboard Leaderboard  `json:"leaderboard"`
}

func (SessionFinished) EventName() string { return EventSessionFinished }

// AnswerReceived tells hosts that someone answered, without revealing correctness.
type AnswerReceived struct {
	ParticipantID    string `json:"participantId"`
	QuestionIndex    int    `json:"questionIndex"`
	AnsweredCount    int    `json:"answeredCount"`
	ParticipantCount int    `json:"participantCount"`
}

func (AnswerReceived) EventName() string { return EventAnswerReceived }
