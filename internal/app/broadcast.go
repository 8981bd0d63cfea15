package app

import (
	"quiz-live-service/internal/domain"
)

const defaultOutboundQueue = 32

// Conn is one attached connection. Events are queued by the room under its lock
// and drained by the transport's writer goroutine.
type Conn struct {
	id            uint64
	room          *Room
	role          domain.Role
	participantID string

	out  chan domain.Event
	done chan struct{}

	// guarded by room.mu
	detached bool
}

func (c *Conn) ID() uint64            { return c.id }
func (c *Conn) Role() domain.Role     { return c.role }
func (c *Conn) ParticipantID() string { return c.participantID }
func (c *Conn) Room() *Room           { return c.room }

// Events is the bounded outbound queue. It is never closed; watch Done instead.
func (c *Conn) Events() <-chan domain.Event { return c.out }

// Done is closed once the connection is detached from its room.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) isHost() bool { return c.role == domain.RoleHost }

// pushLocked enqueues ev without blocking. When the queue is full the oldest
// pending event is discarded. Callers hold room.mu, which makes the room the only producer.
func (r *Room) pushLocked(c *Conn, ev domain.Event) {
	if c.detached {
		return
	}
	for {
		select {
		case c.out <- ev:
			return
		default:
		}
		select {
		case <-c.out:
			r.metrics.EventDropped()
		default:
		}
	}
}

// publishLocked sends a per-connection view of an event to every attached connection.
func (r *Room) publishLocked(build func(c *Conn) domain.Event) {
	for _, c := range r.connOrder {
		if ev := build(c); ev != nil {
			r.pushLocked(c, ev)
		}
	}
}

func (r *Room) publishToHostsLocked(ev domain.Event) {
	for _, c := range r.connOrder {
		if c.isHost() {
			r.pushLocked(c, ev)
		}
	}
}

func (r *Room) publishRosterLocked() {
	connected, total := r.countsLocked()
	var roster []domain.Participant
	r.publishLocked(func(c *Conn) domain.Event {
		ev := domain.RosterChanged{ConnectedCount: connected, ParticipantCount: total}
		if c.isHost() {
			if roster == nil {
				roster = r.rosterLocked()
			}
			ev.Participants = roster
		}
		return ev
	})
}
