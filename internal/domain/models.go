package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SessionStatus is the coarse lifecycle state of a live session.
type SessionStatus string

const (
	StatusWaiting  SessionStatus = "waiting"
	StatusActive   SessionStatus = "active"
	StatusFinished SessionStatus = "finished"
)

// Role distinguishes the connection that drives the session from the ones that play it.
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// ConnectionState tracks whether a participant currently has a live connection.
type ConnectionState string

const (
	Connected    ConnectionState = "connected"
	Disconnected ConnectionState = "disconnected"
)

// FinishReason records why a session reached the finished state.
type FinishReason string

const (
	FinishCompleted FinishReason = "completed"
	FinishEnded     FinishReason = "ended"
	FinishAbandoned FinishReason = "abandoned"
)

// MaxDisplayNameLength bounds participant names (in runes).
const MaxDisplayNameLength = 32

// MaxTimeLimitSeconds bounds a question's answer window.
const MaxTimeLimitSeconds = 3600

// Question is one multiple-choice prompt. It is immutable once its session starts.
type Question struct {
	Prompt           string   `json:"prompt"`
	Options          []string `json:"options"`
	CorrectIndex     int      `json:"correctIndex"`
	TimeLimitSeconds int      `json:"timeLimitSeconds"` // zero means the configured default
}

// Validate checks the question is answerable.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Prompt) == "" {
		return fmt.Errorf("%w: question prompt is empty", ErrInvalidArgument)
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("%w: question needs at least two options", ErrInvalidArgument)
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
		return fmt.Errorf("%w: correct index %d out of range", ErrInvalidArgument, q.CorrectIndex)
	}
	if q.TimeLimitSeconds < 0 {
		return fmt.Errorf("%w: negative time limit", ErrInvalidArgument)
	}
	if q.TimeLimitSeconds > MaxTimeLimitSeconds {
		return fmt.Errorf("%w: time limit above %d seconds", ErrInvalidArgument, MaxTimeLimitSeconds)
	}
	return nil
}

// Public strips the answer key so the question can be sent to players.
func (q Question) Public() PublicQuestion {
	opts := make([]string, len(q.Options))
	copy(opts, q.Options)
	return PublicQuestion{
		Prompt:           q.Prompt,
		Options:          opts,
		TimeLimitSeconds: q.TimeLimitSeconds,
	}
}

// PublicQuestion is a Question without its correct index.
type PublicQuestion struct {
	Prompt           string   `json:"prompt"`
	Options          []string `json:"options"`
	TimeLimitSeconds int      `json:"timeLimitSeconds"`
}

// Quiz is an authored template loaded from the content store.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Session is the immutable identity of one live run of a quiz.
type Session struct {
	ID        string
	JoinCode  string
	Title     string
	HostID    string
	Questions []Question
	CreatedAt time.Time
}

// Participant represents a player in a session and their running score.
type Participant struct {
	ID              string          `json:"participantId"`
	DisplayName     string          `json:"displayName"`
	JoinedAt        time.Time       `json:"joinedAt"`
	ConnectionState ConnectionState `json:"connectionState"`
	Score           int             `json:"score"`
	AnsweredCurrent bool            `json:"answeredCurrent"`
}

// AnswerRecord is written once per participant and question.
type AnswerRecord struct {
	ParticipantID  string    `json:"participantId"`
	QuestionIndex  int       `json:"questionIndex"`
	SelectedOption int       `json:"selectedOption"`
	SubmittedAt    time.Time `json:"submittedAt"`
	Correct        bool      `json:"correct"`
}

// SubmitResult is returned to the submitting participant only.
type SubmitResult struct {
	QuestionIndex  int  `json:"questionIndex"`
	SelectedOption int  `json:"selectedOption"`
	Correct        bool `json:"correct"`
	Score          int  `json:"score"`
	Duplicate      bool `json:"duplicate"`
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Score         int    `json:"score"`
}

// Leaderboard captures the ordered scoreboard for a session.
type Leaderboard struct {
	SessionID string             `json:"sessionId"`
	Entries   []LeaderboardEntry `json:"entries"`
	Final     bool               `json:"final"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// SessionResult is the durable record written when a session finishes.
type SessionResult struct {
	SessionID    string             `json:"sessionId"`
	JoinCode     string             `json:"joinCode"`
	Title        string             `json:"title"`
	Reason       FinishReason       `json:"reason"`
	FinishedAt   time.Time          `json:"finishedAt"`
	Participants []LeaderboardEntry `json:"participants"`
}

// Leaderboard renders the stored result as a final leaderboard.
func (r SessionResult) Leaderboard() Leaderboard {
	entries := make([]LeaderboardEntry, len(r.Participants))
	copy(entries, r.Participants)
	return Leaderboard{
		SessionID: r.SessionID,
		Entries:   entries,
		Final:     true,
		UpdatedAt: r.FinishedAt,
	}
}

// UpsertScore replaces one participant's final score and re-ranks.
// Entries with equal scores keep their previous relative order. Only
// participants already on the result can be scored.
func (r *SessionResult) UpsertScore(entry LeaderboardEntry) error {
	out := make([]LeaderboardEntry, 0, len(r.Participants))
	found := false
	for _, e := range r.Participants {
		if e.ParticipantID == entry.ParticipantID {
			e.Score = entry.Score
			if entry.DisplayName != "" {
				e.DisplayName = entry.DisplayName
			}
			found = true
		}
		out = append(out, e)
	}
	if !found {
		return ErrNotFound.With(WithMessagef("participant %s not found", entry.ParticipantID))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	for i := range out {
		out[i].Rank = i + 1
	}
	r.Participants = out
	return nil
}

// OwnAnswer is the viewer's own submission for the current question.
type OwnAnswer struct {
	SelectedOption int  `json:"selectedOption"`
	Correct        bool `json:"correct"`
}

// RoomSnapshot is the full state a connection needs to render the room after (re)attaching.
type RoomSnapshot struct {
	SessionID        string          `json:"sessionId"`
	JoinCode         string          `json:"joinCode"`
	Title            string          `json:"title"`
	Status           SessionStatus   `json:"status"`
	QuestionCount    int             `json:"questionCount"`
	QuestionIndex    int             `json:"questionIndex"`
	Question         *PublicQuestion `json:"question,omitempty"`
	Deadline         *time.Time      `json:"deadline,omitempty"`
	OpenForAnswers   bool            `json:"openForAnswers"`
	CorrectIndex     *int            `json:"correctIndex,omitempty"`
	ServerTime       time.Time       `json:"serverTime"`
	ConnectedCount   int             `json:"connectedCount"`
	ParticipantCount int             `json:"participantCount"`
	Participants     []Participant   `json:"participants,omitempty"`
	Self             *Participant    `json:"self,omitempty"`
	SelfAnswer       *OwnAnswer      `json:"selfAnswer,omitempty"`
	Leaderboard      *Leaderboard    `json:"leaderboard,omitempty"`
}

// NormalizeDisplayName trims a display name and validates its length.
func NormalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: display name is required", ErrInvalidArgument)
	}
	if len([]rune(name)) > MaxDisplayNameLength {
		return "", fmt.Errorf("%w: display name longer than %d characters", ErrInvalidArgument, MaxDisplayNameLength)
	}
	return name, nil
}
