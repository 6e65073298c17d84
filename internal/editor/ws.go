package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/vocalparam/internal/observe"
	"github.com/MrWong99/vocalparam/internal/recording"
	"github.com/MrWong99/vocalparam/internal/store"
)

const (
	// wsEventBuffer is how many store events a slow client may fall behind
	// before events are dropped for it.
	wsEventBuffer = 64

	wsWriteTimeout = 5 * time.Second
)

// Message types sent on /ws.
const (
	msgSnapshot = "snapshot"
	msgEvent    = "event"
	msgMeter    = "meter"
)

type wsMessage struct {
	Type string `json:"type"`

	// snapshot
	Entries []entryView `json:"entries,omitempty"`

	// event
	Kind   store.EventKind `json:"kind,omitempty"`
	Source store.Source    `json:"source,omitempty"`
	Reason string          `json:"reason,omitempty"`
	Entry  *entryView      `json:"entry,omitempty"`

	// meter
	Level *float64          `json:"level,omitempty"`
	Take  *recording.Status `json:"take,omitempty"`
}

// handleWS upgrades to a websocket and streams: one snapshot of all
// records, then every store event in commit order, interleaved with meter
// messages at the configured interval. Client messages are ignored.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Debug("ws accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	// Subscribe before the snapshot so no commit falls between them.
	events, unsubscribe := s.store.Subscribe(wsEventBuffer)
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())
	log := observe.Logger(ctx)

	if err := s.sendSnapshot(ctx, conn); err != nil {
		log.Debug("ws snapshot failed", "err", err)
		return
	}

	ticker := time.NewTicker(s.meterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "subscription closed")
				return
			}
			view := viewOf(ev.Record)
			msg := wsMessage{
				Type:   msgEvent,
				Kind:   ev.Kind,
				Source: ev.Source,
				Reason: ev.Reason,
				Entry:  &view,
			}
			if err := send(ctx, conn, msg); err != nil {
				log.Debug("ws event send failed", "err", err)
				return
			}
		case <-ticker.C:
			if err := send(ctx, conn, s.meter()); err != nil {
				log.Debug("ws meter send failed", "err", err)
				return
			}
		}
	}
}

func (s *Server) sendSnapshot(ctx context.Context, conn *websocket.Conn) error {
	recs := s.store.List(ctx)
	views := make([]entryView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, viewOf(rec))
	}
	return send(ctx, conn, wsMessage{Type: msgSnapshot, Entries: views})
}

func (s *Server) meter() wsMessage {
	level := s.device.Level()
	msg := wsMessage{Type: msgMeter, Level: &level}
	if st, ok := s.takes.Status(); ok {
		msg.Take = &st
	}
	return msg
}

// send marshals v and writes it as one text frame.
func send(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("editor: marshal ws message: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
