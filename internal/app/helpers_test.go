package app_test

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quiz-live-service/internal/app"
	"quiz-live-service/internal/domain"
)

var epoch = time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)

// fakeClock only moves when told to and runs due timers on the calling goroutine.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) app.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: len(c.timers), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward by d, firing every timer that comes due in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.fired && !t.stopped && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if !due[i].at.Equal(due[j].at) {
				return due[i].at.Before(due[j].at)
			}
			return due[i].seq < due[j].seq
		})
		next := due[0]
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

// Skip moves time forward without running timers, simulating a timer that has
// not been scheduled yet.
func (c *fakeClock) Skip(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

type fixture struct {
	t        *testing.T
	clock    *fakeClock
	room     *app.Room
	host     *app.Conn
	finished []domain.SessionResult
	mu       sync.Mutex
}

func threeQuestions() []domain.Question {
	return []domain.Question{
		{Prompt: "2 + 2?", Options: []string{"3", "4", "5"}, CorrectIndex: 1, TimeLimitSeconds: 10},
		{Prompt: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectIndex: 0, TimeLimitSeconds: 10},
		{Prompt: "Largest planet?", Options: []string{"Mars", "Jupiter"}, CorrectIndex: 1, TimeLimitSeconds: 10},
	}
}

func newFixture(t *testing.T, mutate ...func(*app.RoomConfig)) *fixture {
	t.Helper()
	f := &fixture{t: t, clock: newFakeClock()}
	ids := 0
	cfg := app.RoomConfig{
		Clock:         f.clock,
		OutboundQueue: 64,
		NewID: func() string {
			ids++
			return "p" + string(rune('0'+ids))
		},
		OnFinish: func(res domain.SessionResult) {
			f.mu.Lock()
			f.finished = append(f.finished, res)
			f.mu.Unlock()
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f.room = app.NewRoom(domain.Session{
		ID:        "session-1",
		JoinCode:  "482913",
		Title:     "General knowledge",
		HostID:    "host-1",
		Questions: threeQuestions(),
	}, cfg)

	res, err := f.room.Attach(app.AttachRequest{Role: domain.RoleHost, HostID: "host-1"})
	require.NoError(t, err)
	f.host = res.Conn
	drain(f.host)
	return f
}

func (f *fixture) join(name string) *app.Conn {
	f.t.Helper()
	res, err := f.room.Attach(app.AttachRequest{Role: domain.RoleParticipant, DisplayName: name})
	require.NoError(f.t, err)
	return res.Conn
}

func (f *fixture) results() []domain.SessionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SessionResult(nil), f.finished...)
}

// drain returns every queued event without blocking.
func drain(c *app.Conn) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev := <-c.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventsOf[T domain.Event](events []domain.Event) []T {
	var out []T
	for _, ev := range events {
		if typed, ok := ev.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}
