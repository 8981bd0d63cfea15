package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"quiz-live-service/internal/app"
	"quiz-live-service/internal/domain"
)

const (
	defaultCodeLength = 6
	maxCodeAttempts   = 10
)

// RegistryConfig bounds the in-process registry.
type RegistryConfig struct {
	// MaxRooms caps concurrently active (non-finished) rooms. Zero means unlimited.
	MaxRooms int
	// Retention is how long a finished room stays readable before Reap evicts it.
	Retention  time.Duration
	CodeLength int
	// Codes claims join codes. Defaults to an in-process CodeSet.
	Codes  app.CodeReserver
	Logger *slog.Logger
}

// Registry is an in-memory implementation of app.Registry.
type Registry struct {
	cfg   RegistryConfig
	codes app.CodeReserver
	clock func() time.Time
	log   *slog.Logger

	mu     sync.RWMutex
	byID   map[string]*app.Room
	byCode map[string]*app.Room
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = defaultCodeLength
	}
	codes := cfg.Codes
	if codes == nil {
		codes = NewCodeSet()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		cfg:    cfg,
		codes:  codes,
		clock:  time.Now,
		log:    log,
		byID:   make(map[string]*app.Room),
		byCode: make(map[string]*app.Room),
	}
}

// NewRegistryWithClock is test-only for deterministic reaping.
func NewRegistryWithClock(cfg RegistryConfig, now func() time.Time) *Registry {
	r := NewRegistry(cfg)
	r.clock = now
	return r
}

func (r *Registry) Create(ctx context.Context, sessionID string, build func(joinCode string) *app.Room) (*app.Room, error) {
	if r.atCapacity() {
		return nil, domain.ErrCapacityExceeded
	}

	code, err := r.reserveCode(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.atCapacityLocked() {
		r.mu.Unlock()
		r.releaseCode(ctx, code)
		return nil, domain.ErrCapacityExceeded
	}
	room := build(code)
	r.byID[room.ID()] = room
	r.byCode[code] = room
	r.mu.Unlock()
	return room, nil
}

// reserveCode retries random codes until one is free locally and in the reserver.
func (r *Registry) reserveCode(ctx context.Context, sessionID string) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := randomCode(r.cfg.CodeLength)

		r.mu.RLock()
		_, taken := r.byCode[code]
		r.mu.RUnlock()
		if taken {
			continue
		}

		ok, err := r.codes.Reserve(ctx, code, sessionID)
		if err != nil {
			return "", fmt.Errorf("reserve join code: %w", err)
		}
		if ok {
			return code, nil
		}
	}
	return "", domain.ErrCapacityExceeded.With(domain.WithMessagef("could not allocate a free join code"))
}

func (r *Registry) LookupByCode(_ context.Context, joinCode string) (*app.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.byCode[joinCode]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return room, nil
}

func (r *Registry) LookupByID(_ context.Context, sessionID string) (*app.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.byID[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return room, nil
}

func (r *Registry) Release(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	room, ok := r.byID[sessionID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	code := room.JoinCode()
	if r.byCode[code] != room {
		r.mu.Unlock()
		return nil
	}
	delete(r.byCode, code)
	r.mu.Unlock()
	return r.codes.Release(ctx, code)
}

// Reap evicts finished rooms past retention and refreshes the join codes
// of rooms that still hold one.
func (r *Registry) Reap(ctx context.Context) int {
	cutoff := r.clock().Add(-r.cfg.Retention)

	r.mu.RLock()
	rooms := make([]*app.Room, 0, len(r.byID))
	for _, room := range r.byID {
		rooms = append(rooms, room)
	}
	holding := make(map[string]*app.Room, len(r.byCode))
	for code, room := range r.byCode {
		holding[code] = room
	}
	r.mu.RUnlock()

	r.refreshCodes(ctx, holding)

	var expired []*app.Room
	for _, room := range rooms {
		if at, finished := room.FinishedAt(); finished && !at.After(cutoff) {
			expired = append(expired, room)
		}
	}
	if len(expired) == 0 {
		return 0
	}

	var stale []string
	r.mu.Lock()
	for _, room := range expired {
		delete(r.byID, room.ID())
		if r.byCode[room.JoinCode()] == room {
			delete(r.byCode, room.JoinCode())
			stale = append(stale, room.JoinCode())
		}
	}
	r.mu.Unlock()

	for _, code := range stale {
		r.releaseCode(ctx, code)
	}
	return len(expired)
}

// releaseCode is used where the caller has nobody to report to. A failed
// release leaves the code claimed until the reserver's TTL runs out.
func (r *Registry) releaseCode(ctx context.Context, code string) {
	if err := r.codes.Release(ctx, code); err != nil {
		r.log.WarnContext(ctx, "release join code failed", "join_code", code, "error", err)
	}
}

func (r *Registry) refreshCodes(ctx context.Context, holding map[string]*app.Room) {
	refresher, ok := r.codes.(app.CodeRefresher)
	if !ok {
		return
	}
	for code, room := range holding {
		if _, finished := room.FinishedAt(); finished {
			continue
		}
		held, err := refresher.Refresh(ctx, code, room.ID())
		switch {
		case err != nil:
			r.log.WarnContext(ctx, "refresh join code failed", "join_code", code, "session_id", room.ID(), "error", err)
		case !held:
			// Expired without being claimed elsewhere: take it back.
			if ok, err := r.codes.Reserve(ctx, code, room.ID()); err != nil || !ok {
				r.log.WarnContext(ctx, "join code claim lost", "join_code", code, "session_id", room.ID(), "error", err)
			}
		}
	}
}

// Active returns the number of rooms holding a join code.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCode)
}

func (r *Registry) atCapacity() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.atCapacityLocked()
}

func (r *Registry) atCapacityLocked() bool {
	return r.cfg.MaxRooms > 0 && len(r.byCode) >= r.cfg.MaxRooms
}

func randomCode(length int) string {
	const digits = "0123456789"
	b := make([]byte, length)
	b[0] = digits[1+rand.Intn(9)]
	for i := 1; i < length; i++ {
		b[i] = digits[rand.Intn(10)]
	}
	return string(b)
}

// CodeSet is an in-process app.CodeReserver.
type CodeSet struct {
	mu    sync.Mutex
	codes map[string]string
}

func NewCodeSet() *CodeSet {
	return &CodeSet{codes: make(map[string]string)}
}

func (s *CodeSet) Reserve(_ context.Context, code, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code]; ok {
		return false, nil
	}
	s.codes[code] = sessionID
	return true, nil
}

func (s *CodeSet) Release(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, code)
	return nil
}
