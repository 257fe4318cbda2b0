package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/civiclab/sopn/internal/export"
	"github.com/civiclab/sopn/internal/pipeline"
	"github.com/civiclab/sopn/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS does not apply to websocket upgrades; origin filtering
	// would go here if the server ever faces browsers directly.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsParseRequest asks for a stored document to be re-parsed.
type wsParseRequest struct {
	DocumentID string `json:"document_id"`
}

// wsMessage is the envelope for every server-to-client frame.
type wsMessage struct {
	Type    string         `json:"type"` // progress, result, error
	Stage   string         `json:"stage,omitempty"`
	Status  string         `json:"status,omitempty"`
	Message string         `json:"message,omitempty"`
	Result  *export.Result `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// parseWebSocketHandler upgrades the connection and serves parse
// requests, streaming one progress frame per stage transition and a
// final result or error frame per request.
func (s *Server) parseWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	s.logger.Info("websocket connected", "remote", getClientIP(r))

	s.serveParseSocket(r.Context(), conn)
}

func (s *Server) serveParseSocket(ctx context.Context, conn *websocket.Conn) {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	// Keep the connection alive across idle periods.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}()

	for {
		// A parse can outlive the previous deadline, so it resets on
		// every iteration rather than relying on pongs alone.
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		if messageType != websocket.TextMessage {
			continue
		}
		s.handleParseRequest(ctx, conn, data)
	}
}

func (s *Server) handleParseRequest(ctx context.Context, conn *websocket.Conn, data []byte) {
	var req wsParseRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendSocketError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.DocumentID == "" {
		s.sendSocketError(conn, "document_id is required")
		return
	}

	doc, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendSocketError(conn, "document not found: "+req.DocumentID)
			return
		}
		s.sendSocketError(conn, fmt.Sprintf("load document: %v", err))
		return
	}

	progress := func(ev pipeline.Event) {
		msg := wsMessage{
			Type:    "progress",
			Stage:   string(ev.Stage),
			Status:  ev.Status,
			Message: ev.Message,
		}
		if ev.Err != nil {
			msg.Message = ev.Err.Error()
		}
		s.sendSocketMessage(conn, msg)
	}

	res, err := s.pipeline.Parse(ctx, doc, progress)
	if err != nil {
		s.sendSocketError(conn, fmt.Sprintf("parse failed: %v", err))
		return
	}
	s.sendSocketMessage(conn, wsMessage{Type: "result", Result: res.Export()})
}

func (s *Server) sendSocketMessage(conn *websocket.Conn, msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("marshal websocket message", "error", err)
		return
	}
	// A stalled client must not wedge the parse progress callback.
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Error("write websocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

func (s *Server) sendSocketError(conn *websocket.Conn, message string) {
	s.sendSocketMessage(conn, wsMessage{Type: "error", Error: message})
}
