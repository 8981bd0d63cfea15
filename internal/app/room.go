package app

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiz-live-service/internal/domain"
)

const (
	defaultHostGracePeriod = 30 * time.Second
	defaultTimeLimit       = 30 * time.Second
)

// RoomConfig tunes a single room.
type RoomConfig struct {
	// MaxParticipants caps the roster. Zero means unlimited.
	MaxParticipants int
	// HostGracePeriod is how long a room waits without any host connection before
	// it is abandoned. Zero uses the default, negative disables abandonment.
	HostGracePeriod time.Duration
	// RevealDelay, when positive, advances automatically that long after a window closes.
	RevealDelay time.Duration
	// DefaultTimeLimit applies to questions without their own limit.
	DefaultTimeLimit time.Duration
	OutboundQueue    int

	Clock   Clock
	Logger  *slog.Logger
	Metrics Metrics
	NewID   func() string
	// OnFinish runs once, outside the room lock, after the room finishes.
	OnFinish func(domain.SessionResult)
}

type answerKey struct {
	participantID string
	questionIndex int
}

// Room is the live aggregate for one session. Every mutation happens under mu,
// including timer callbacks. Outbound network I/O never happens under mu.
type Room struct {
	session domain.Session
	cfg     RoomConfig
	clock   Clock
	log     *slog.Logger
	metrics Metrics

	mu           sync.Mutex
	status       domain.SessionStatus
	participants map[string]*domain.Participant
	joinOrder    []string
	everAttached map[string]bool
	liveConns    map[string]int
	answers      map[answerKey]domain.AnswerRecord

	current     int
	deadline    time.Time
	open        bool
	closeReason domain.CloseReason

	connSeq   uint64
	connOrder []*Conn
	hostConns int

	windowTimer Timer
	revealTimer Timer
	hostTimer   Timer
	hostGen     uint64

	finishedAt time.Time
	reason     domain.FinishReason
	final      *domain.Leaderboard
	overrides  map[string]int
}

// NewRoom builds a room in the waiting state and arms the host grace timer.
func NewRoom(session domain.Session, cfg RoomConfig) *Room {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.HostGracePeriod == 0 {
		cfg.HostGracePeriod = defaultHostGracePeriod
	}
	if cfg.DefaultTimeLimit <= 0 {
		cfg.DefaultTimeLimit = defaultTimeLimit
	}
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = defaultOutboundQueue
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = cfg.Clock.Now()
	}

	r := &Room{
		session:      session,
		cfg:          cfg,
		clock:        cfg.Clock,
		log:          cfg.Logger.With("session_id", session.ID, "join_code", session.JoinCode),
		metrics:      cfg.Metrics,
		status:       domain.StatusWaiting,
		participants: make(map[string]*domain.Participant),
		everAttached: make(map[string]bool),
		liveConns:    make(map[string]int),
		answers:      make(map[answerKey]domain.AnswerRecord),
		current:      -1,
		overrides:    make(map[string]int),
	}

	r.mu.Lock()
	r.armHostTimerLocked()
	r.mu.Unlock()
	return r
}

func (r *Room) ID() string       { return r.session.ID }
func (r *Room) JoinCode() string { return r.session.JoinCode }
func (r *Room) HostID() string   { return r.session.HostID }

// Status returns the current lifecycle state.
func (r *Room) Status() domain.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// FinishedAt reports when the room finished, if it has.
func (r *Room) FinishedAt() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishedAt, r.status == domain.StatusFinished
}

// AttachRequest identifies who is attaching.
type AttachRequest struct {
	Role          domain.Role
	HostID        string
	ParticipantID string
	DisplayName   string
}

// AttachResult is handed back to the transport; Snapshot is the resync payload.
type AttachResult struct {
	Conn        *Conn
	Participant *domain.Participant
	Reconnected bool
	Snapshot    domain.RoomSnapshot
}

// Join adds a participant without binding a connection. The participant stays
// disconnected until a connection attaches with the returned id.
func (r *Room) Join(displayName string) (domain.Participant, error) {
	name, err := domain.NormalizeDisplayName(displayName)
	if err != nil {
		return domain.Participant{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == domain.StatusFinished {
		return domain.Participant{}, domain.ErrSessionNotJoinable
	}
	p, err := r.addParticipantLocked(name)
	if err != nil {
		return domain.Participant{}, err
	}
	r.publishRosterLocked()
	return *p, nil
}

// Attach binds a new connection to the room as host or participant.
func (r *Room) Attach(req AttachRequest) (AttachResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == domain.StatusFinished {
		return AttachResult{}, domain.ErrSessionNotJoinable
	}

	var (
		participant *domain.Participant
		reconnected bool
	)
	switch req.Role {
	case domain.RoleHost:
		if req.HostID == "" || req.HostID != r.session.HostID {
			return AttachResult{}, domain.ErrForbidden
		}
	case domain.RoleParticipant:
		if p, ok := r.participants[req.ParticipantID]; ok && req.ParticipantID != "" {
			participant = p
			reconnected = r.everAttached[p.ID]
		} else {
			name, err := domain.NormalizeDisplayName(req.DisplayName)
			if err != nil {
				return AttachResult{}, err
			}
			participant, err = r.addParticipantLocked(name)
			if err != nil {
				return AttachResult{}, err
			}
		}
	default:
		return AttachResult{}, domain.ErrInvalidArgument.With(domain.WithMessagef("unknown role %q", req.Role))
	}

	r.connSeq++
	c := &Conn{
		id:   r.connSeq,
		room: r,
		role: req.Role,
		out:  make(chan domain.Event, r.cfg.OutboundQueue),
		done: make(chan struct{}),
	}
	r.connOrder = append(r.connOrder, c)

	if participant != nil {
		c.participantID = participant.ID
		r.liveConns[participant.ID]++
		r.everAttached[participant.ID] = true
		participant.ConnectionState = domain.Connected
	} else {
		r.hostConns++
		r.disarmHostTimerLocked()
	}
	r.metrics.ConnectionAttached(req.Role)

	res := AttachResult{
		Conn:        c,
		Reconnected: reconnected,
		Snapshot:    r.snapshotLocked(c),
	}
	if participant != nil {
		cp := *participant
		res.Participant = &cp
	}

	r.log.Debug("connection attached", "role", req.Role, "participant_id", c.participantID, "reconnected", reconnected)
	r.publishRosterLocked()
	return res, nil
}

// Detach unbinds a connection. Participants are kept and marked disconnected.
// Detaching twice is a no-op.
func (r *Room) Detach(c *Conn) {
	r.mu.Lock()
	if c.detached {
		r.mu.Unlock()
		return
	}
	c.detached = true
	close(c.done)
	for i, other := range r.connOrder {
		if other == c {
			r.connOrder = append(r.connOrder[:i], r.connOrder[i+1:]...)
			break
		}
	}
	r.metrics.ConnectionDetached(c.role)

	if c.isHost() {
		r.hostConns--
		if r.hostConns == 0 && r.status != domain.StatusFinished {
			r.armHostTimerLocked()
		}
	} else {
		r.liveConns[c.participantID]--
		if r.liveConns[c.participantID] <= 0 {
			delete(r.liveConns, c.participantID)
			if p, ok := r.participants[c.participantID]; ok {
				p.ConnectionState = domain.Disconnected
			}
		}
	}

	if r.status != domain.StatusFinished {
		r.publishRosterLocked()
		if r.status == domain.StatusActive && r.open && r.allAnsweredLocked() {
			r.closeWindowLocked(domain.CloseAllAnswered)
		}
	}
	r.mu.Unlock()
}

// Snapshot returns the resync view for c.
func (r *Room) Snapshot(c *Conn) domain.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(c)
}

// ObserverSnapshot is the view for callers without a connection.
func (r *Room) ObserverSnapshot() domain.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(nil)
}

func (r *Room) addParticipantLocked(name string) (*domain.Participant, error) {
	if r.cfg.MaxParticipants > 0 && len(r.participants) >= r.cfg.MaxParticipants {
		return nil, domain.ErrSessionFull
	}
	p := &domain.Participant{
		ID:              r.cfg.NewID(),
		DisplayName:     name,
		JoinedAt:        r.clock.Now(),
		ConnectionState: domain.Disconnected,
	}
	r.participants[p.ID] = p
	r.joinOrder = append(r.joinOrder, p.ID)
	return p, nil
}

func (r *Room) countsLocked() (connected, total int) {
	for _, p := range r.participants {
		if p.ConnectionState == domain.Connected {
			connected++
		}
	}
	return connected, len(r.participants)
}

func (r *Room) rosterLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.joinOrder))
	for _, id := range r.joinOrder {
		out = append(out, *r.participants[id])
	}
	return out
}

func (r *Room) timeLimit(i int) time.Duration {
	if secs := r.session.Questions[i].TimeLimitSeconds; secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return r.cfg.DefaultTimeLimit
}

func (r *Room) snapshotLocked(c *Conn) domain.RoomSnapshot {
	connected, total := r.countsLocked()
	snap := domain.RoomSnapshot{
		SessionID:        r.session.ID,
		JoinCode:         r.session.JoinCode,
		Title:            r.session.Title,
		Status:           r.status,
		QuestionCount:    len(r.session.Questions),
		QuestionIndex:    r.current,
		OpenForAnswers:   r.open,
		ServerTime:       r.clock.Now(),
		ConnectedCount:   connected,
		ParticipantCount: total,
	}

	if r.status == domain.StatusActive && r.current >= 0 {
		q := r.session.Questions[r.current]
		pq := q.Public()
		pq.TimeLimitSeconds = int(r.timeLimit(r.current) / time.Second)
		snap.Question = &pq
		deadline := r.deadline
		snap.Deadline = &deadline
		if !r.open {
			correct := q.CorrectIndex
			snap.CorrectIndex = &correct
		}
	}

	if c == nil || c.isHost() {
		snap.Participants = r.rosterLocked()
	} else if p, ok := r.participants[c.participantID]; ok {
		self := *p
		snap.Self = &self
		if rec, ok := r.answers[answerKey{p.ID, r.current}]; ok && r.current >= 0 {
			snap.SelfAnswer = &domain.OwnAnswer{SelectedOption: rec.SelectedOption, Correct: rec.Correct}
		}
	}

	if r.final != nil {
		lb := copyLeaderboard(*r.final)
		snap.Leaderboard = &lb
	}
	return snap
}

func (r *Room) armHostTimerLocked() {
	if r.cfg.HostGracePeriod < 0 {
		return
	}
	stopTimer(r.hostTimer)
	r.hostGen++
	gen := r.hostGen
	r.hostTimer = r.clock.AfterFunc(r.cfg.HostGracePeriod, func() { r.onHostGraceExpired(gen) })
}

func (r *Room) disarmHostTimerLocked() {
	stopTimer(r.hostTimer)
	r.hostTimer = nil
	r.hostGen++
}

func (r *Room) onHostGraceExpired(gen uint64) {
	r.mu.Lock()
	if gen != r.hostGen || r.hostConns > 0 || r.status == domain.StatusFinished {
		r.mu.Unlock()
		return
	}
	r.log.Info("host did not return within grace period, abandoning session")
	res := r.finishLocked(domain.FinishAbandoned)
	r.mu.Unlock()
	r.notifyFinished(res)
}

func (r *Room) notifyFinished(res *domain.SessionResult) {
	if res == nil || r.cfg.OnFinish == nil {
		return
	}
	r.cfg.OnFinish(*res)
}
