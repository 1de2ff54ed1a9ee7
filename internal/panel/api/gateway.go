package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	v1 "github.com/sebas/opdesk/api/types/v1"
	"github.com/sebas/opdesk/internal/logger"
	"github.com/sebas/opdesk/internal/panel/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Operators connect from desktop panels on other origins; the token
	// is the access control, not the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS upgrades the connection and bridges it to a session: one goroutine
// reads action requests, one writes state frames.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("[API] Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := s.hub.Attach(id)
	go s.writePump(ws, sess)
	go s.readPump(ws, sess)
}

// readPump consumes subscriber frames until the connection dies. It owns the
// read deadline; pongs extend it.
func (s *Server) readPump(ws *websocket.Conn, sess *session.Session) {
	defer s.hub.Detach(sess, session.ReasonClientGone)

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("[API] Subscriber read failed",
					"session", sess.ID, "operator", sess.Operator(), "error", err)
			}
			return
		}

		var req v1.ActionRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if s.hub.Notify(sess, "malformed request: "+err.Error()) != nil {
				return
			}
			continue
		}
		if err := s.hub.HandleAction(sess, req); err != nil {
			return
		}
	}
}

// writePump drains the session queue onto the wire and keeps the connection
// alive with pings. When the queue closes it tells the subscriber why.
func (s *Server) writePump(ws *websocket.Conn, sess *session.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-sess.Out():
			if !ok {
				_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
				code, reason := closeFrame(sess.CloseReason())
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func closeFrame(reason session.CloseReason) (int, string) {
	switch reason {
	case session.ReasonOverflow:
		return websocket.CloseGoingAway, "send buffer full"
	case session.ReasonShutdown:
		return websocket.CloseGoingAway, "server shutting down"
	default:
		return websocket.CloseNormalClosure, ""
	}
}
