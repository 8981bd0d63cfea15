package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"quiz-live-service/internal/app"
	"quiz-live-service/internal/domain"
)

const (
	attachTimeout = 10 * time.Second
	writeTimeout  = 10 * time.Second
	maxFrameSize  = 4 << 10
	replyQueue    = 16
)

// WSConfig tunes per-connection behaviour.
type WSConfig struct {
	Rate         float64
	Burst        int
	PingInterval time.Duration
	Logger       *slog.Logger
}

type WSHandler struct {
	service  *app.LiveService
	upgrader websocket.Upgrader
	cfg      WSConfig
	log      *slog.Logger
}

func NewWSHandler(service *app.LiveService, cfg WSConfig) *WSHandler {
	if cfg.Rate <= 0 {
		cfg.Rate = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		cfg: cfg,
		log: cfg.Logger,
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type attachPayload struct {
	SessionID     string      `json:"sessionId"`
	Role          domain.Role `json:"role"`
	HostID        string      `json:"hostId"`
	ParticipantID string      `json:"participantId"`
	DisplayName   string      `json:"displayName"`
}

type submitPayload struct {
	QuestionIndex  *int `json:"questionIndex"`
	SelectedOption *int `json:"selectedOption"`
}

type attachedPayload struct {
	ParticipantID string              `json:"participantId,omitempty"`
	Reconnected   bool                `json:"reconnected"`
	Snapshot      domain.RoomSnapshot `json:"snapshot"`
}

type answerResultPayload struct {
	QuestionIndex  int  `json:"questionIndex"`
	SelectedOption int  `json:"selectedOption"`
	Correct        bool `json:"correct"`
	Score          int  `json:"score"`
	Duplicate      bool `json:"duplicate"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

const (
	msgAttach        = "attach"
	msgBegin         = "begin"
	msgAdvance       = "advance"
	msgCloseQuestion = "close-question"
	msgEnd           = "end"
	msgSubmitAnswer  = "submit-answer"
	msgSync          = "sync"

	msgAttached     = "attached"
	msgAnswerResult = "answer-result"
	msgSnapshot     = "snapshot"
	msgError        = "error"
)

func errorMessage(err error) outboundMessage {
	e := domain.Convert(err)
	return outboundMessage{Type: msgError, Payload: e}
}

// ServeWS upgrades the request and runs one attached connection until either side goes away.
// The first frame must be attach; every later frame is dispatched to the bound room.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WarnContext(r.Context(), "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxFrameSize)

	attached, err := h.attach(r.Context(), ws)
	if err != nil {
		_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = ws.WriteJSON(errorMessage(err))
		return
	}
	conn := attached.Conn
	room := conn.Room()
	log := h.log.With("session_id", room.ID(), "role", conn.Role(), "participant_id", conn.ParticipantID())
	defer room.Detach(conn)

	pid := ""
	if attached.Participant != nil {
		pid = attached.Participant.ID
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteJSON(outboundMessage{Type: msgAttached, Payload: attachedPayload{
		ParticipantID: pid,
		Reconnected:   attached.Reconnected,
		Snapshot:      attached.Snapshot,
	}}); err != nil {
		log.DebugContext(r.Context(), "ws write attached failed", "error", err)
		return
	}

	replies := make(chan outboundMessage, replyQueue)
	quit := make(chan struct{})
	writerDone := make(chan struct{})
	go h.writeLoop(ws, conn, replies, quit, writerDone, log)

	h.readLoop(r.Context(), ws, conn, replies, writerDone, log)

	close(quit)
	<-writerDone
}

func (h *WSHandler) attach(ctx context.Context, ws *websocket.Conn) (app.AttachResult, error) {
	_ = ws.SetReadDeadline(time.Now().Add(attachTimeout))
	var msg inboundMessage
	if err := ws.ReadJSON(&msg); err != nil {
		return app.AttachResult{}, domain.ErrInvalidArgument.With(domain.WithMessagef("expected attach frame"))
	}
	if msg.Type != msgAttach {
		return app.AttachResult{}, domain.ErrInvalidArgument.With(domain.WithMessagef("first frame must be attach, got %q", msg.Type))
	}
	var p attachPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return app.AttachResult{}, domain.ErrInvalidArgument.With(domain.WithMessagef("invalid attach payload"))
	}
	_ = ws.SetReadDeadline(time.Time{})
	return h.service.Attach(ctx, p.SessionID, app.AttachRequest{
		Role:          p.Role,
		HostID:        p.HostID,
		ParticipantID: p.ParticipantID,
		DisplayName:   p.DisplayName,
	})
}

// writeLoop is the only goroutine writing to ws after attach.
func (h *WSHandler) writeLoop(ws *websocket.Conn, conn *app.Conn, replies <-chan outboundMessage, quit <-chan struct{}, done chan<- struct{}, log *slog.Logger) {
	defer close(done)
	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()

	write := func(msg outboundMessage) bool {
		_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := ws.WriteJSON(msg); err != nil {
			log.Debug("ws write failed", "type", msg.Type, "error", err)
			return false
		}
		return true
	}

	for {
		select {
		case ev := <-conn.Events():
			if !write(outboundMessage{Type: ev.EventName(), Payload: ev}) {
				_ = ws.Close()
				return
			}
		case msg := <-replies:
			if !write(msg) {
				_ = ws.Close()
				return
			}
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = ws.Close()
				return
			}
		case <-conn.Done():
			return
		case <-quit:
			return
		}
	}
}

func (h *WSHandler) readLoop(ctx context.Context, ws *websocket.Conn, conn *app.Conn, replies chan<- outboundMessage, writerDone <-chan struct{}, log *slog.Logger) {
	room := conn.Room()
	limiter := rate.NewLimiter(rate.Limit(h.cfg.Rate), h.cfg.Burst)
	idle := 2 * h.cfg.PingInterval
	_ = ws.SetReadDeadline(time.Now().Add(idle))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(idle))
	})

	reply := func(msg outboundMessage) bool {
		select {
		case replies <- msg:
			return true
		case <-writerDone:
			return false
		}
	}

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				log.DebugContext(ctx, "ws read ended", "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(idle))

		if !limiter.Allow() {
			if !reply(errorMessage(domain.ErrRateLimited)) {
				return
			}
			continue
		}

		var err error
		switch msg.Type {
		case msgBegin:
			err = room.Begin(conn)
		case msgAdvance:
			err = room.Advance(conn)
		case msgCloseQuestion:
			err = room.CloseQuestion(conn)
		case msgEnd:
			err = room.End(conn)
		case msgSync:
			if !reply(outboundMessage{Type: msgSnapshot, Payload: room.Snapshot(conn)}) {
				return
			}
		case msgSubmitAnswer:
			var p submitPayload
			if jerr := json.Unmarshal(msg.Payload, &p); jerr != nil || p.QuestionIndex == nil || p.SelectedOption == nil {
				err = domain.ErrInvalidArgument.With(domain.WithMessagef("invalid submit-answer payload"))
				break
			}
			res, serr := room.Submit(conn, *p.QuestionIndex, *p.SelectedOption)
			switch {
			case serr == nil, errors.Is(serr, domain.ErrAlreadyAnswered):
				if !reply(outboundMessage{Type: msgAnswerResult, Payload: answerResultPayload(res)}) {
					return
				}
			default:
				err = serr
			}
		case msgAttach:
			err = domain.ErrInvalidState.With(domain.WithMessagef("connection already attached"))
		default:
			err = domain.ErrInvalidArgument.With(domain.WithMessagef("unsupported message type %q", msg.Type))
		}

		if err == nil {
			continue
		}
		if domain.Benign(err) {
			log.DebugContext(ctx, "ws request rejected", "type", msg.Type, "error", err)
		} else {
			log.InfoContext(ctx, "ws request failed", "type", msg.Type, "error", err)
		}
		if !reply(errorMessage(err)) {
			return
		}
	}
}
